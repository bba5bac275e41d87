package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/belphemur/calendar-source/internal/syncstate"
)

// SyncStateStore persists watched resources in SQLite
type SyncStateStore struct {
	database *DB
	db       *sql.DB
	now      func() time.Time
}

// NewSyncStateStore creates a new sync state store
func NewSyncStateStore(db *DB) *SyncStateStore {
	return &SyncStateStore{database: db, db: db.Conn(), now: time.Now}
}

const selectWatchedResource = `
SELECT resource_id, channel_id, channel_resource_id, expiration_ms, sync_token, version, updated_at_ms
FROM watched_resources`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchedResource(row rowScanner) (*syncstate.WatchedResource, error) {
	var (
		r         syncstate.WatchedResource
		updatedAt int64
	)
	if err := row.Scan(&r.ResourceID, &r.ChannelID, &r.ChannelResourceID, &r.ExpirationMillis, &r.SyncToken, &r.Version, &updatedAt); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &r, nil
}

// Get retrieves the state of one resource
func (s *SyncStateStore) Get(ctx context.Context, resourceID string) (*syncstate.WatchedResource, error) {
	r, err := scanWatchedResource(s.db.QueryRowContext(ctx, selectWatchedResource+` WHERE resource_id = ?`, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncstate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watched resource: %w", err)
	}
	return r, nil
}

// List retrieves every persisted resource ordered by id
func (s *SyncStateStore) List(ctx context.Context) ([]*syncstate.WatchedResource, error) {
	rows, err := s.db.QueryContext(ctx, selectWatchedResource+` ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watched resources: %w", err)
	}
	defer rows.Close()

	var out []*syncstate.WatchedResource
	for rows.Next() {
		r, err := scanWatchedResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watched resource: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watched resources: %w", err)
	}
	return out, nil
}

// Save creates the resource when its version is 0, otherwise updates it if the version matches
func (s *SyncStateStore) Save(ctx context.Context, resource *syncstate.WatchedResource) error {
	now := s.now().UTC()

	var (
		res sql.Result
		err error
	)
	if resource.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
INSERT INTO watched_resources (resource_id, channel_id, channel_resource_id, expiration_ms, sync_token, version, updated_at_ms)
VALUES (?, ?, ?, ?, ?, 1, ?)
ON CONFLICT(resource_id) DO NOTHING`,
			resource.ResourceID, resource.ChannelID, resource.ChannelResourceID, resource.ExpirationMillis, resource.SyncToken, now.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, `
UPDATE watched_resources
SET channel_id = ?, channel_resource_id = ?, expiration_ms = ?, sync_token = ?, version = version + 1, updated_at_ms = ?
WHERE resource_id = ? AND version = ?`,
			resource.ChannelID, resource.ChannelResourceID, resource.ExpirationMillis, resource.SyncToken, now.UnixMilli(),
			resource.ResourceID, resource.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save watched resource: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check saved rows: %w", err)
	}
	if affected == 0 {
		return syncstate.ErrVersionConflict
	}

	resource.Version++
	resource.UpdatedAt = now
	return nil
}

// Delete removes the resource if its version matches. The delete and the lookup telling a
// missing row from a stale version run in one transaction.
func (s *SyncStateStore) Delete(ctx context.Context, resourceID string, version int64) error {
	return s.database.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM watched_resources WHERE resource_id = ? AND version = ?`, resourceID, version)
		if err != nil {
			return fmt.Errorf("failed to delete watched resource: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check deleted rows: %w", err)
		}
		if affected > 0 {
			return nil
		}

		var current int64
		err = tx.QueryRowContext(ctx, `SELECT version FROM watched_resources WHERE resource_id = ?`, resourceID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return syncstate.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get watched resource: %w", err)
		}
		return syncstate.ErrVersionConflict
	})
}

// EmittedLedger records emitted dedupe ids in SQLite
type EmittedLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewEmittedLedger creates a new ledger
func NewEmittedLedger(db *DB) *EmittedLedger {
	return &EmittedLedger{db: db.Conn(), now: time.Now}
}

// MarkEmitted records the dedupe id and reports whether it was new
func (l *EmittedLedger) MarkEmitted(ctx context.Context, dedupeID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
INSERT INTO emitted_events (dedupe_id, emitted_at_ms) VALUES (?, ?)
ON CONFLICT(dedupe_id) DO NOTHING`, dedupeID, l.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to record emitted event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check recorded rows: %w", err)
	}
	return affected == 1, nil
}

// Prune forgets dedupe ids emitted before cutoff
func (l *EmittedLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM emitted_events WHERE emitted_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune emitted events: %w", err)
	}
	return res.RowsAffected()
}
