package rest

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/auth"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"
	"github.com/frahmantamala/thematic-predictions/internal/transport/middleware"
	"github.com/frahmantamala/thematic-predictions/internal/transport/swagger"

	"github.com/go-chi/chi"
)

// RegisterAllRoutes mounts the API. A nil tokenValidator leaves the admin
// routes unmounted.
func RegisterAllRoutes(router *chi.Mux, cfg internal.ServerConfig, db *sql.DB, cache Pinger, predictionHandler *prediction.Handler, webhookHandler *prediction.WebhookHandler, tokenValidator auth.TokenValidator, logger *slog.Logger) error {
	healthHandler := NewHealthHandler(db, cache)

	openAPIPath := cfg.OpenAPIPath
	if openAPIPath == "" {
		openAPIPath = "./api/openapi.yml"
	}

	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIPath)
	})
	router.Handle("/swagger/*", swagger.Handler())

	var validator func(http.Handler) http.Handler
	if cfg.ValidateRequests {
		oapiRouter, err := middleware.LoadOpenAPIRouter(context.Background(), openAPIPath)
		if err != nil {
			return err
		}
		validator = middleware.OpenAPIValidator(oapiRouter, logger)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if validator != nil {
			r.Use(validator)
		}

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if webhookHandler != nil {
			r.Post("/payments/webhook", webhookHandler.HandlePaymentNotification)
		}

		if predictionHandler != nil {
			r.Route("/predictions/thematic", func(pr chi.Router) {
				pr.Post("/", predictionHandler.CreatePrediction)
				pr.Get("/{intentID}", predictionHandler.GetPredictionStatus)
			})

			if tokenValidator != nil {
				r.Route("/admin", func(ar chi.Router) {
					ar.Use(middleware.Authenticate(tokenValidator, logger))
					ar.Use(middleware.RequireRole(auth.RoleAdmin, logger))
					ar.Post("/predictions/expire", predictionHandler.ExpireStale)
					ar.Get("/predictions/stats", predictionHandler.Stats)
				})
			}
		}
	})

	return nil
}
