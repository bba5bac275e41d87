package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMissingSyncToken is returned when the change feed ends without a delta cursor
var ErrMissingSyncToken = errors.New("change feed ended without a sync token")

// ChangeItem is one entry of a calendar's change feed
type ChangeItem struct {
	ID      string
	Status  string
	Summary string
	Created time.Time
	Updated time.Time
	// Payload is the item exactly as the API returned it
	Payload json.RawMessage
}

// WatchResult describes a channel created by Watch
type WatchResult struct {
	ChannelResourceID string
	ExpirationMillis  int64
}

// ListPage is one page of the change feed.
// NextSyncToken is only set on the last page; StatusCode 410 signals an invalidated sync token.
type ListPage struct {
	Items         []ChangeItem
	NextPageToken string
	NextSyncToken string
	StatusCode    int
}

// CalendarInfo describes a calendar the credentials can access
type CalendarInfo struct {
	ID         string
	Summary    string
	AccessRole string
	Primary    bool
}

// API defines the calendar operations the connector depends on
type API interface {
	// Watch registers a push channel for the calendar
	Watch(ctx context.Context, resourceID, channelID, callbackAddress string) (*WatchResult, error)

	// Stop tears a channel down and reports the remote status code
	Stop(ctx context.Context, channelID, channelResourceID string) (int, error)

	// FullSync walks the whole feed without a delta cursor and returns a fresh sync token
	FullSync(ctx context.Context, resourceID string) (string, error)

	// List fetches one page of changes since syncToken
	List(ctx context.Context, resourceID, syncToken, pageToken string) (*ListPage, error)
}

// Ensure GoogleClient implements API
var _ API = (*GoogleClient)(nil)
