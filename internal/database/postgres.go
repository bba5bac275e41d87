package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // Register the pgx5:// migration driver
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/belphemur/calendar-source/internal/logging"
)

const (
	MaxConns        = 10
	MinConns        = 1
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

// NewPostgresPool applies the embedded migrations and opens a connection pool
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	logger := logging.GetLogger("postgres")

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}

	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging postgres pool: %w", err)
	}

	if err := MigratePostgres(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("host", config.ConnConfig.Host).Str("database", config.ConnConfig.Database).Msg("Postgres pool created successfully")
	return pool, nil
}

// MigratePostgres applies the embedded PostgreSQL migrations over a dedicated connection
func MigratePostgres(databaseURL string) error {
	logger := logging.GetLogger("postgres")
	logger.Info().Msg("Starting database migration")

	migrationURL, err := pgxMigrationURL(databaseURL)
	if err != nil {
		return err
	}

	sourceInstance, err := embeddedMigrations("postgres")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create embedded file source for migration")
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceInstance, migrationURL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create migrator instance")
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn().AnErr("source_error", srcErr).AnErr("database_error", dbErr).Msg("Failed to close migrator")
		}
	}()

	return applyMigrations(m, logger)
}

// pgxMigrationURL rewrites a postgres:// URL to the scheme of the migrate pgx/v5 driver
func pgxMigrationURL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid postgres url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("unsupported postgres url scheme %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	return u.String(), nil
}
