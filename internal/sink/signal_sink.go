package sink

import (
	"context"

	"github.com/belphemur/calendar-source/internal/signals"
)

// SignalSink publishes events on the in-process EventEmitted signal
type SignalSink struct{}

// NewSignalSink creates a SignalSink
func NewSignalSink() *SignalSink {
	return &SignalSink{}
}

// Emit publishes the event to every registered listener
func (SignalSink) Emit(ctx context.Context, event Event) {
	signals.EmitEventEmitted(ctx, signals.EventEmittedData{
		ResourceID:      event.ResourceID,
		DedupeID:        event.Metadata.DedupeID,
		Summary:         event.Metadata.Summary,
		TimestampMillis: event.Metadata.TimestampMillis,
		Payload:         event.Payload,
	})
}
