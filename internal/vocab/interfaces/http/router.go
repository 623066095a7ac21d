package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"eqas-cloud/internal/auth"
)

// NewRouter mounts the vocab routes under /vocab next to /healthz and
// /metrics. A nil authenticator leaves every route open.
func NewRouter(h *Handler, authn *auth.Middleware, metricsHandler http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(RequestLogger(logger))
	router.Use(AuditClient)
	router.Use(authn.Wrap)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler)
	}
	router.Mount("/vocab", h.Routes())
	return router
}
