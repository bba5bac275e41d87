package signals

import (
	"context"
	"encoding/json"

	"github.com/maniartech/signals"
)

// EventEmittedData contains data associated with an emitted calendar event
type EventEmittedData struct {
	ResourceID      string
	DedupeID        string
	Summary         string
	TimestampMillis int64
	Payload         json.RawMessage
}

// ChannelRenewedData contains data associated with a replaced push channel
type ChannelRenewedData struct {
	ResourceID       string
	OldChannelID     string
	NewChannelID     string
	ExpirationMillis int64
}

// Signal definitions using generics
var EventEmitted = signals.New[EventEmittedData]()
var ChannelRenewed = signals.New[ChannelRenewedData]()

// EmitEventEmitted emits a signal when a calendar event passes projection
func EmitEventEmitted(ctx context.Context, data EventEmittedData) {
	EventEmitted.Emit(ctx, data)
}

// EmitChannelRenewed emits a signal when a channel has been replaced by a fresh one
func EmitChannelRenewed(ctx context.Context, data ChannelRenewedData) {
	ChannelRenewed.Emit(ctx, data)
}

// OnEventEmitted registers a handler for emitted events
func OnEventEmitted(handler func(ctx context.Context, data EventEmittedData), key ...string) {
	if len(key) > 0 {
		EventEmitted.AddListener(handler, key[0])
	} else {
		EventEmitted.AddListener(handler)
	}
}

// OnChannelRenewed registers a handler for channel renewals
func OnChannelRenewed(handler func(ctx context.Context, data ChannelRenewedData), key ...string) {
	if len(key) > 0 {
		ChannelRenewed.AddListener(handler, key[0])
	} else {
		ChannelRenewed.AddListener(handler)
	}
}

// RemoveEventEmittedListener unregisters the handler added under key
func RemoveEventEmittedListener(key string) {
	EventEmitted.RemoveListener(key)
}
