package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/auth"
	"github.com/frahmantamala/thematic-predictions/internal/transport"
	"github.com/frahmantamala/thematic-predictions/pkg/logger"
)

// Authenticate validates the bearer token and stores its claims and subject
// on the request context.
func Authenticate(validator auth.TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(lg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := base.BearerToken(r)
			if token == "" {
				base.HandleError(w, internal.ErrInvalidToken.WithDetails("missing bearer token"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				base.HandleError(w, err)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = internal.ContextWithSubject(ctx, claims.Subject)
			ctx = logger.With(ctx, "subject", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
