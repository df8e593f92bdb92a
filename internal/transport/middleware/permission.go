package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/auth"
	"github.com/frahmantamala/thematic-predictions/internal/transport"
)

// RequireRole rejects requests whose claims do not carry role. It must run
// after Authenticate.
func RequireRole(role string, lg *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(lg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				base.HandleError(w, internal.ErrInvalidToken)
				return
			}

			if !claims.HasRole(role) {
				base.Logger.Warn("access denied: missing role",
					"subject", claims.Subject,
					"required_role", role,
					"role", claims.Role)
				base.HandleError(w, internal.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
