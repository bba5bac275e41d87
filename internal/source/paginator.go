package source

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// DeltaSyncPaginator walks the change feed of a resource from its persisted sync token
type DeltaSyncPaginator struct {
	api    calendar.API
	store  syncstate.Store
	stats  *Stats
	logger zerolog.Logger
}

// NewDeltaSyncPaginator creates a paginator
func NewDeltaSyncPaginator(api calendar.API, store syncstate.Store, stats *Stats) *DeltaSyncPaginator {
	if stats == nil {
		stats = &Stats{}
	}
	return &DeltaSyncPaginator{
		api:    api,
		store:  store,
		stats:  stats,
		logger: logging.GetLogger("paginator"),
	}
}

// FetchChanges returns the items changed since the persisted sync token, page by page.
//
// On the last page the new sync token is persisted. When the API invalidates the token the
// sequence ends after a full resync without yielding the invalidated page; items of earlier
// pages have already been yielded. Any other failure is yielded as an error and ends the
// sequence. Stopping the iteration early leaves the persisted token untouched.
func (p *DeltaSyncPaginator) FetchChanges(ctx context.Context, resourceID string) iter.Seq2[calendar.ChangeItem, error] {
	return func(yield func(calendar.ChangeItem, error) bool) {
		logger := p.logger.With().Str("resource_id", resourceID).Logger()

		record, err := p.store.Get(ctx, resourceID)
		if err != nil {
			yield(calendar.ChangeItem{}, fmt.Errorf("failed to read state of %s: %w", resourceID, err))
			return
		}
		if record.SyncToken == "" {
			logger.Info().Msg("No sync token persisted, running full resync")
			if err := p.resync(ctx, record); err != nil {
				yield(calendar.ChangeItem{}, err)
			}
			return
		}

		pageToken := ""
		pages := 0
		for {
			page, err := p.api.List(ctx, resourceID, record.SyncToken, pageToken)
			if err != nil {
				yield(calendar.ChangeItem{}, err)
				return
			}
			pages++

			if page.StatusCode == constants.StatusSyncTokenInvalid {
				logger.Info().Int("page", pages).Msg("Sync token invalidated, running full resync")
				p.stats.invalidations.Inc()
				if err := p.resync(ctx, record); err != nil {
					yield(calendar.ChangeItem{}, err)
				}
				return
			}

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if page.NextPageToken != "" {
				pageToken = page.NextPageToken
				continue
			}
			if page.NextSyncToken == "" {
				yield(calendar.ChangeItem{}, fmt.Errorf("feed of %s: %w", resourceID, calendar.ErrMissingSyncToken))
				return
			}

			logger.Debug().Int("pages", pages).Msg("Change feed exhausted")
			if err := p.persistToken(ctx, record, page.NextSyncToken); err != nil {
				yield(calendar.ChangeItem{}, err)
			}
			return
		}
	}
}

// resync replaces the sync token with a fresh one from a full resync
func (p *DeltaSyncPaginator) resync(ctx context.Context, record *syncstate.WatchedResource) error {
	token, err := p.api.FullSync(ctx, record.ResourceID)
	if err != nil {
		return fmt.Errorf("failed to resync %s: %w", record.ResourceID, err)
	}
	return p.persistToken(ctx, record, token)
}

// persistToken saves the token. A version conflict means another writer already moved the
// record forward, so the token is dropped rather than overwriting newer state.
func (p *DeltaSyncPaginator) persistToken(ctx context.Context, record *syncstate.WatchedResource, token string) error {
	next := record.Clone()
	next.SyncToken = token
	err := p.store.Save(ctx, next)
	if errors.Is(err, syncstate.ErrVersionConflict) {
		p.logger.Warn().Str("resource_id", record.ResourceID).Msg("State changed concurrently, dropping sync token")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to persist sync token of %s: %w", record.ResourceID, err)
	}
	return nil
}
