// Package constants provides shared constants for the calendar-source connector
package constants

import "time"

// AppIdentifier is the unique identifier used to tag channels and emitted events created by this application
const AppIdentifier = "calendar-source"

// Google push notification headers
const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderChannelToken  = "X-Goog-Channel-Token"
	HeaderResourceID    = "X-Goog-Resource-ID"
	HeaderResourceState = "X-Goog-Resource-State"
	HeaderMessageNumber = "X-Goog-Message-Number"
)

// Resource states declared by push notifications
const (
	ResourceStateSync      = "sync"
	ResourceStateExists    = "exists"
	ResourceStateNotExists = "not_exists"
)

// Event statuses reported by the change feed
const (
	StatusCancelled = "cancelled"
)

// StatusSyncTokenInvalid is the status the change feed returns when the delta cursor must be discarded.
const StatusSyncTokenInvalid = 410

// StatusStopped is the only status that confirms a channel was torn down.
const StatusStopped = 204

// NewItemThreshold is the largest gap between creation and last update for which an item still
// counts as newly created. It is a tunable heuristic, not a guarantee of the remote API.
const NewItemThreshold = 2000 * time.Millisecond

// DedupeRetention is how long emitted dedupe ids are remembered
const DedupeRetention = 30 * 24 * time.Hour
