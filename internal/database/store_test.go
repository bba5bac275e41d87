package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belphemur/calendar-source/internal/sink"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// testStoreContract exercises the versioned compare-and-swap contract every backend shares
func testStoreContract(t *testing.T, store syncstate.Store, prefix string) {
	ctx := context.Background()
	id := prefix + "primary"

	_, err := store.Get(ctx, id)
	require.ErrorIs(t, err, syncstate.ErrNotFound)

	record := &syncstate.WatchedResource{
		ResourceID:        id,
		ChannelID:         "chan-1",
		ChannelResourceID: "res-1",
		ExpirationMillis:  1_700_000_000_000,
		SyncToken:         "tok-1",
	}
	require.NoError(t, store.Save(ctx, record))
	assert.Equal(t, int64(1), record.Version)
	assert.False(t, record.UpdatedAt.IsZero())

	// creating twice is a conflict
	dup := &syncstate.WatchedResource{ResourceID: id}
	assert.ErrorIs(t, store.Save(ctx, dup), syncstate.ErrVersionConflict)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", stored.ChannelID)
	assert.Equal(t, "res-1", stored.ChannelResourceID)
	assert.Equal(t, int64(1_700_000_000_000), stored.ExpirationMillis)
	assert.Equal(t, "tok-1", stored.SyncToken)
	assert.Equal(t, int64(1), stored.Version)

	// two writers read version 1; only the first wins
	first, second := stored.Clone(), stored.Clone()
	first.SyncToken = "tok-2"
	require.NoError(t, store.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.SyncToken = "tok-stale"
	assert.ErrorIs(t, store.Save(ctx, second), syncstate.ErrVersionConflict)

	stored, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", stored.SyncToken)

	// updating a record that does not exist is a conflict
	ghost := &syncstate.WatchedResource{ResourceID: prefix + "ghost", Version: 3}
	assert.ErrorIs(t, store.Save(ctx, ghost), syncstate.ErrVersionConflict)

	other := &syncstate.WatchedResource{ResourceID: prefix + "another", SyncToken: "x"}
	require.NoError(t, store.Save(ctx, other))

	all, err := store.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ResourceID)
	}
	assert.Contains(t, ids, id)
	assert.Contains(t, ids, prefix+"another")

	assert.ErrorIs(t, store.Delete(ctx, id, 1), syncstate.ErrVersionConflict)
	require.NoError(t, store.Delete(ctx, id, 2))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, syncstate.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, id, 2), syncstate.ErrNotFound)

	require.NoError(t, store.Delete(ctx, other.ResourceID, other.Version))
}

func testLedgerContract(t *testing.T, ledger sink.Ledger, prefix string) {
	ctx := context.Background()

	first, err := ledger.MarkEmitted(ctx, prefix+"e1-100")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := ledger.MarkEmitted(ctx, prefix+"e1-100")
	require.NoError(t, err)
	assert.False(t, again)

	updated, err := ledger.MarkEmitted(ctx, prefix+"e1-200")
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestSyncStateStore_SQLite(t *testing.T) {
	db := newTestDB(t)
	testStoreContract(t, NewSyncStateStore(db), "")
}

func TestSyncStateStore_Memory(t *testing.T) {
	testStoreContract(t, syncstate.NewMemoryStore(), "")
}

func TestEmittedLedger_SQLite(t *testing.T) {
	db := newTestDB(t)
	ledger := NewEmittedLedger(db)
	testLedgerContract(t, ledger, "")

	ledger.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	_, err := ledger.MarkEmitted(context.Background(), "old")
	require.NoError(t, err)

	pruned, err := ledger.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	again, err := ledger.MarkEmitted(context.Background(), "old")
	require.NoError(t, err)
	assert.True(t, again, "pruned ids can be emitted again")
}

func TestSyncStateStore_Redis(t *testing.T) {
	url := os.Getenv("CALSRC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CALSRC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "calendar-source-test:" + uuid.NewString()
	testStoreContract(t, NewRedisSyncStateStore(client, prefix), "")
	testLedgerContract(t, NewRedisLedger(client, prefix, time.Minute), "")
}

func TestSyncStateStore_Postgres(t *testing.T) {
	url := os.Getenv("CALSRC_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CALSRC_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPostgresPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// migrations already applied by NewPostgresPool
	require.NoError(t, MigratePostgres(url))

	prefix := uuid.NewString() + ":"
	testStoreContract(t, NewPostgresSyncStateStore(pool), prefix)
	testLedgerContract(t, NewPostgresLedger(pool), prefix)
}

func TestSyncStateStore_DeleteIsTransactional(t *testing.T) {
	db := newTestDB(t)
	store := NewSyncStateStore(db)
	ctx := context.Background()

	record := &syncstate.WatchedResource{ResourceID: "primary", ChannelID: "chan-1"}
	require.NoError(t, store.Save(ctx, record))

	t.Run("stale version keeps the row", func(t *testing.T) {
		err := store.Delete(ctx, "primary", record.Version+1)
		assert.ErrorIs(t, err, syncstate.ErrVersionConflict)

		stored, err := store.Get(ctx, "primary")
		require.NoError(t, err)
		assert.Equal(t, record.Version, stored.Version)
	})

	t.Run("missing row", func(t *testing.T) {
		assert.ErrorIs(t, store.Delete(ctx, "absent", 1), syncstate.ErrNotFound)
	})

	t.Run("no transaction left open", func(t *testing.T) {
		// an unreleased write transaction would make this immediate write fail with SQLITE_BUSY
		require.NoError(t, db.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE watched_resources SET sync_token = 'x' WHERE resource_id = ?`, "primary")
			return err
		}))
		require.NoError(t, store.Delete(ctx, "primary", record.Version))
		_, err := store.Get(ctx, "primary")
		assert.ErrorIs(t, err, syncstate.ErrNotFound)
	})
}
