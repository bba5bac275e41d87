package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP routes of the connector
func NewRouter(src SourceService, webhookPath, version string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	base := NewBaseHandler(src)
	NewWebhookHandler(base, webhookPath).RegisterRoutes(router)
	NewHealthHandler(base, version).RegisterRoutes(router)
	return router
}
