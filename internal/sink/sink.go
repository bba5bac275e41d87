// Package sink delivers emitted calendar events to their consumers.
package sink

import (
	"context"
	"encoding/json"
)

// Metadata accompanies every emitted payload
type Metadata struct {
	// DedupeID is derived from the item id and its last update, so an unchanged item
	// re-delivered later maps to the same id.
	DedupeID        string `json:"dedupe_id"`
	Summary         string `json:"summary"`
	TimestampMillis int64  `json:"ts"`
}

// Event is a payload plus its metadata
type Event struct {
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   Metadata        `json:"metadata"`
}

// Sink receives emitted events. Emit is fire-and-forget: delivery failures are handled by
// the sink itself and never reported back to the caller.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Func adapts a function to the Sink interface
type Func func(ctx context.Context, event Event)

// Emit calls f
func (f Func) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// Multi fans an event out to every sink in order
type Multi []Sink

// Emit forwards the event to every sink
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}
