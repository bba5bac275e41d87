package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"

	appSignals "github.com/belphemur/calendar-source/internal/signals"
	"github.com/belphemur/calendar-source/internal/source"
)

// HealthHandler reports liveness, activity counters and the last emitted event
type HealthHandler struct {
	*BaseHandler
	version     string
	lastEmitted atomic.Pointer[emittedEvent]
}

type emittedEvent struct {
	ResourceID      string `json:"resource_id"`
	DedupeID        string `json:"dedupe_id"`
	TimestampMillis int64  `json:"ts"`
}

type healthResponse struct {
	Status      string               `json:"status"`
	Version     string               `json:"version,omitempty"`
	Resources   []string             `json:"resources"`
	Stats       source.StatsSnapshot `json:"stats"`
	LastEmitted *emittedEvent        `json:"last_emitted,omitempty"`
}

// NewHealthHandler creates a new health handler listening for emitted events
func NewHealthHandler(baseHandler *BaseHandler, version string) *HealthHandler {
	h := &HealthHandler{BaseHandler: baseHandler, version: version}
	appSignals.OnEventEmitted(h.recordEmitted, fmt.Sprintf("health-last-emitted-%p", h))
	return h
}

// RegisterRoutes registers health related routes
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
}

func (h *HealthHandler) recordEmitted(_ context.Context, data appSignals.EventEmittedData) {
	h.lastEmitted.Store(&emittedEvent{
		ResourceID:      data.ResourceID,
		DedupeID:        data.DedupeID,
		TimestampMillis: data.TimestampMillis,
	})
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     h.version,
		Resources:   h.Source.ResourceIDs(),
		Stats:       h.Source.Stats().Snapshot(),
		LastEmitted: h.lastEmitted.Load(),
	})
}
