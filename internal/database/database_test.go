package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(NewDefaultOptions(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.MigrateDatabase())
	return db
}

func TestDBClose(t *testing.T) {
	db, err := New(NewDefaultOptions(filepath.Join(t.TempDir(), "close.db")))
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.NoError(t, db.Close())

	// Verify connection is closed by trying to ping
	assert.Error(t, db.conn.Ping())
}

func TestNew_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	db, err := New(NewDefaultOptions(path))
	require.NoError(t, err)
	defer db.Close()
	assert.FileExists(t, path)
}

// TestPragmaSettings verifies that options are applied as SQLite PRAGMAs
func TestPragmaSettings(t *testing.T) {
	testCases := []struct {
		name            string
		opts            func(path string) SQLiteOptions
		expectedJournal string
		expectedBusy    int
		expectedCache   int
		expectedFK      int // 0 for false, 1 for true
		expectedSync    int // 0=OFF, 1=NORMAL, 2=FULL, 3=EXTRA
	}{
		{
			name:            "Default Options",
			opts:            NewDefaultOptions,
			expectedJournal: "wal",
			expectedBusy:    5000,
			expectedCache:   -2000,
			expectedFK:      1,
			expectedSync:    1,
		},
		{
			name: "Custom Options",
			opts: func(path string) SQLiteOptions {
				return SQLiteOptions{
					Path:        path,
					Journal:     JournalDelete,
					BusyTimeout: 12345,
					CacheSize:   -4000,
					ForeignKeys: false,
					Synchronous: SynchronousFull,
				}
			},
			expectedJournal: "delete",
			expectedBusy:    12345,
			expectedCache:   -4000,
			expectedFK:      0,
			expectedSync:    2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, err := New(tc.opts(filepath.Join(t.TempDir(), "pragma.db")))
			require.NoError(t, err)
			defer db.Close()

			var journalMode string
			require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
			assert.Equal(t, tc.expectedJournal, journalMode)

			var busyTimeout int
			require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout;").Scan(&busyTimeout))
			assert.Equal(t, tc.expectedBusy, busyTimeout)

			var cacheSize int
			require.NoError(t, db.conn.QueryRow("PRAGMA cache_size;").Scan(&cacheSize))
			assert.Equal(t, tc.expectedCache, cacheSize)

			var foreignKeys int
			require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys))
			assert.Equal(t, tc.expectedFK, foreignKeys)

			var synchronous int
			require.NoError(t, db.conn.QueryRow("PRAGMA synchronous;").Scan(&synchronous))
			assert.Equal(t, tc.expectedSync, synchronous)
		})
	}
}

func TestMigrateDatabase_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDatabase())

	for _, table := range []string{"watched_resources", "emitted_events"} {
		var name string
		err := db.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestWithTransaction(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO emitted_events (dedupe_id, emitted_at_ms) VALUES (?, 0)`, id)
		return err
	}
	count := func() int {
		var n int
		require.NoError(t, db.conn.QueryRow(`SELECT COUNT(*) FROM emitted_events`).Scan(&n))
		return n
	}

	t.Run("Successful Transaction", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx *sql.Tx) error { return insert(tx, "committed") })
		assert.NoError(t, err)
		assert.Equal(t, 1, count())
	})

	t.Run("Transaction Rollback on Error", func(t *testing.T) {
		testError := errors.New("test error")
		err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := insert(tx, "rolled-back"); err != nil {
				return err
			}
			return testError
		})
		assert.ErrorIs(t, err, testError)
		assert.Equal(t, 1, count())
	})

	t.Run("Transaction Rollback on Panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.WithTransaction(ctx, func(tx *sql.Tx) error {
				_ = insert(tx, "panicked")
				panic("boom")
			})
		})
		assert.Equal(t, 1, count())
	})
}
