package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/auth"
)

// NewRouter mounts the handlers. Health checks are public; everything under /api
// goes through authMiddleware.
func NewRouter(a *API, authMiddleware func(http.Handler) http.Handler, ready func() bool, allowedOrigins []string) http.Handler {
	if authMiddleware == nil {
		authMiddleware = auth.Noop
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// go-chi/cors treats an empty origin list as "allow all"; no origins
	// configured means no CORS.
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:       allowedOrigins,
			AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:       []string{"Authorization", "Content-Type"},
			OptionsSuccessStatus: http.StatusNoContent,
			MaxAge:               300,
		}))
	}

	r.Get("/healthz", HealthHandler)
	r.Get("/readyz", ReadyHandler(ready))

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/events", a.SubmitEventHandler)
		r.Put("/users/{userID}/devices", a.RegisterDeviceHandler)
		r.Delete("/users/{userID}/devices/{token}", a.RemoveDeviceHandler)
	})
	return r
}
