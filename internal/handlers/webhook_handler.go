package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/source"
)

// WebhookHandler receives Google Calendar push notifications
type WebhookHandler struct {
	*BaseHandler
	path   string
	logger zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler served on path
func NewWebhookHandler(baseHandler *BaseHandler, path string) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		path:        path,
		logger:      logging.GetLogger("webhook"),
	}
}

// RegisterRoutes registers webhook related routes
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post(h.path, h.handleCalendarWebhook)
}

// handleCalendarWebhook processes incoming calendar notifications.
// Ignored notifications are acknowledged with 200 so the API does not retry them; a failed
// fetch answers 500 so the change is redelivered.
func (h *WebhookHandler) handleCalendarWebhook(w http.ResponseWriter, r *http.Request) {
	notification := source.NotificationFromHeaders(r.Header)
	requestLogger := h.logger.With().
		Str("channel_id", notification.ChannelID).
		Str("channel_resource_id", notification.ChannelResourceID).
		Str("resource_state", notification.ResourceState).
		Str("message_number", notification.MessageNumber).
		Logger()
	requestLogger.Debug().Msg("Received calendar webhook notification")

	verdict, err := h.Source.HandleNotification(r.Context(), notification)
	if err != nil {
		requestLogger.Error().Err(err).Str("verdict", verdict.String()).Msg("Error processing event changes")
		http.Error(w, "Failed to process event changes", http.StatusInternalServerError)
		return
	}

	requestLogger.Info().Str("verdict", verdict.String()).Msg("Calendar webhook notification handled")
	w.WriteHeader(http.StatusOK)
}
