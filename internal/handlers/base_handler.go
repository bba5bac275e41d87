package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/source"
)

// SourceService is the part of the connector the HTTP layer drives
type SourceService interface {
	HandleNotification(ctx context.Context, n source.Notification) (source.Verdict, error)
	ResourceIDs() []string
	Stats() *source.Stats
}

// BaseHandler contains common handler functionality
type BaseHandler struct {
	Source SourceService
	logger zerolog.Logger
}

// NewBaseHandler creates a common base handler with shared components
func NewBaseHandler(src SourceService) *BaseHandler {
	return &BaseHandler{
		Source: src,
		logger: logging.GetLogger("base-handler"),
	}
}

// writeJSON encodes body as the JSON response
func (h *BaseHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// requestLogger logs every request with zerolog once it completes
func requestLogger(next http.Handler) http.Handler {
	logger := logging.GetLogger("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request handled")
		}()
		next.ServeHTTP(ww, r)
	})
}
