package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/belphemur/calendar-source/internal/syncstate"
)

// PostgresSyncStateStore persists watched resources in PostgreSQL with optimistic locking
type PostgresSyncStateStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSyncStateStore creates a new store on the pool
func NewPostgresSyncStateStore(pool *pgxpool.Pool) *PostgresSyncStateStore {
	return &PostgresSyncStateStore{pool: pool}
}

const pgSelectWatchedResource = `SELECT resource_id, channel_id, channel_resource_id, expiration_ms, sync_token, version, updated_at
	          FROM watched_resources`

func scanPgWatchedResource(row pgx.Row) (*syncstate.WatchedResource, error) {
	var r syncstate.WatchedResource
	err := row.Scan(
		&r.ResourceID,
		&r.ChannelID,
		&r.ChannelResourceID,
		&r.ExpirationMillis,
		&r.SyncToken,
		&r.Version,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get retrieves the state of one resource
func (s *PostgresSyncStateStore) Get(ctx context.Context, resourceID string) (*syncstate.WatchedResource, error) {
	r, err := scanPgWatchedResource(s.pool.QueryRow(ctx, pgSelectWatchedResource+` WHERE resource_id = $1`, resourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, syncstate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watched resource: %w", err)
	}
	return r, nil
}

// List retrieves every persisted resource ordered by id
func (s *PostgresSyncStateStore) List(ctx context.Context) ([]*syncstate.WatchedResource, error) {
	rows, err := s.pool.Query(ctx, pgSelectWatchedResource+` ORDER BY resource_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watched resources: %w", err)
	}
	defer rows.Close()

	var out []*syncstate.WatchedResource
	for rows.Next() {
		r, err := scanPgWatchedResource(rows)
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

// Save creates the resource when its version is 0, otherwise updates it only if the
// persisted version still matches. On success the version and timestamp are refreshed.
func (s *PostgresSyncStateStore) Save(ctx context.Context, resource *syncstate.WatchedResource) error {
	var row pgx.Row
	if resource.Version == 0 {
		row = s.pool.QueryRow(ctx, `
INSERT INTO watched_resources (resource_id, channel_id, channel_resource_id, expiration_ms, sync_token, version, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, now())
ON CONFLICT (resource_id) DO NOTHING
RETURNING version, updated_at`,
			resource.ResourceID, resource.ChannelID, resource.ChannelResourceID, resource.ExpirationMillis, resource.SyncToken)
	} else {
		row = s.pool.QueryRow(ctx, `
UPDATE watched_resources
SET channel_id = $2, channel_resource_id = $3, expiration_ms = $4, sync_token = $5, version = version + 1, updated_at = now()
WHERE resource_id = $1 AND version = $6
RETURNING version, updated_at`,
			resource.ResourceID, resource.ChannelID, resource.ChannelResourceID, resource.ExpirationMillis, resource.SyncToken, resource.Version)
	}

	err := row.Scan(&resource.Version, &resource.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return syncstate.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to save watched resource: %w", err)
	}
	return nil
}

// Delete removes the resource if its version matches, telling a missing row from a stale
// version inside the same transaction
func (s *PostgresSyncStateStore) Delete(ctx context.Context, resourceID string, version int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM watched_resources WHERE resource_id = $1 AND version = $2`, resourceID, version)
		if err != nil {
			return fmt.Errorf("failed to delete watched resource: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		var current int64
		err = tx.QueryRow(ctx, `SELECT version FROM watched_resources WHERE resource_id = $1`, resourceID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return syncstate.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get watched resource: %w", err)
		}
		return syncstate.ErrVersionConflict
	})
}

// PostgresLedger records emitted dedupe ids in PostgreSQL
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new ledger on the pool
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// MarkEmitted records the dedupe id and reports whether it was new
func (l *PostgresLedger) MarkEmitted(ctx context.Context, dedupeID string) (bool, error) {
	tag, err := l.pool.Exec(ctx, `INSERT INTO emitted_events (dedupe_id) VALUES ($1) ON CONFLICT (dedupe_id) DO NOTHING`, dedupeID)
	if err != nil {
		return false, fmt.Errorf("failed to record emitted event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune forgets dedupe ids emitted before cutoff
func (l *PostgresLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM emitted_events WHERE emitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune emitted events: %w", err)
	}
	return tag.RowsAffected(), nil
}
