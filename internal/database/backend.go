package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/sink"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// Pruner drops ledger entries older than a cutoff
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Backend bundles the state store and dedupe ledger selected by a DSN
type Backend struct {
	Kind   string
	Store  syncstate.Store
	Ledger sink.Ledger
	// Redis is set for redis backends so other components can share the connection
	Redis *redis.Client

	closers []func() error
}

// OpenBackend opens the backend named by the DSN scheme:
// sqlite://path, postgres://..., postgresql://..., redis://..., rediss://... or memory://
func OpenBackend(ctx context.Context, dsn string) (*Backend, error) {
	logger := logging.GetLogger("backend")

	// sqlite paths are not URLs, so the scheme is split off by hand
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("invalid state dsn %q: missing scheme", dsn)
	}
	kind := strings.ToLower(scheme)
	logger.Info().Str("kind", kind).Msg("Opening state backend")

	switch kind {
	case "memory":
		return &Backend{Kind: kind, Store: syncstate.NewMemoryStore(), Ledger: sink.NewMemoryLedger()}, nil

	case "sqlite":
		path := rest
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		if strings.HasPrefix(path, ":memory:") {
			return nil, fmt.Errorf("sqlite dsn %q: in-memory sqlite is not supported, use memory://", dsn)
		}
		db, err := New(NewDefaultOptions(path))
		if err != nil {
			return nil, err
		}
		if err := db.MigrateDatabase(); err != nil {
			db.Close()
			return nil, err
		}
		return &Backend{
			Kind:    kind,
			Store:   NewSyncStateStore(db),
			Ledger:  NewEmittedLedger(db),
			closers: []func() error{db.Close},
		}, nil

	case "postgres", "postgresql":
		pool, err := NewPostgresPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Kind:    "postgres",
			Store:   NewPostgresSyncStateStore(pool),
			Ledger:  NewPostgresLedger(pool),
			closers: []func() error{func() error { pool.Close(); return nil }},
		}, nil

	case "redis", "rediss":
		client, err := NewRedisClient(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Kind:    "redis",
			Store:   NewRedisSyncStateStore(client, constants.AppIdentifier),
			Ledger:  NewRedisLedger(client, constants.AppIdentifier, constants.DedupeRetention),
			Redis:   client,
			closers: []func() error{client.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported state backend %q", scheme)
	}
}

// PruneLedger forgets dedupe ids older than retention when the ledger supports it
func (b *Backend) PruneLedger(ctx context.Context, retention time.Duration) (int64, error) {
	p, ok := b.Ledger.(Pruner)
	if !ok {
		return 0, nil
	}
	return p.Prune(ctx, time.Now().Add(-retention))
}

// Close releases every connection held by the backend
func (b *Backend) Close() error {
	var result *multierror.Error
	for _, c := range b.closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
