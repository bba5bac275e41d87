// Package syncstate defines the persisted per-calendar subscription and pagination state.
package syncstate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no state is persisted for a resource
	ErrNotFound = errors.New("watched resource not found")
	// ErrVersionConflict is returned when a write was based on a stale version of the record
	ErrVersionConflict = errors.New("version conflict: watched resource was modified concurrently")
)

// WatchedResource is the persisted state of one monitored calendar.
//
// ChannelID, ChannelResourceID and ExpirationMillis are written together in a single Save.
// An empty SyncToken means a full resync is required before incremental fetches.
type WatchedResource struct {
	ResourceID        string    `json:"resource_id"`
	ChannelID         string    `json:"channel_id"`
	ChannelResourceID string    `json:"channel_resource_id"`
	ExpirationMillis  int64     `json:"expiration_ms"`
	SyncToken         string    `json:"sync_token,omitempty"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Expiration returns the channel expiration as a time
func (w *WatchedResource) Expiration() time.Time {
	return time.UnixMilli(w.ExpirationMillis)
}

// HasChannel reports whether the record currently references a push channel
func (w *WatchedResource) HasChannel() bool {
	return w.ChannelID != "" && w.ChannelResourceID != ""
}

// Clone returns an independent copy
func (w *WatchedResource) Clone() *WatchedResource {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}

// Store persists WatchedResource records keyed by resource id.
//
// Save and Delete are compare-and-swap operations on Version: a record with Version 0 is
// created and must not exist yet; any other Version must match the persisted one. On success
// Save increments the Version of the passed record.
type Store interface {
	Get(ctx context.Context, resourceID string) (*WatchedResource, error)
	List(ctx context.Context) ([]*WatchedResource, error)
	Save(ctx context.Context, resource *WatchedResource) error
	Delete(ctx context.Context, resourceID string, version int64) error
}
