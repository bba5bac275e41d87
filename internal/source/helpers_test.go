package source

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/sink"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

const testCallback = "https://hooks.example.com/api/webhook/calendar"

// mockAPI is a testify mock of calendar.API
type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Watch(ctx context.Context, resourceID, channelID, callbackAddress string) (*calendar.WatchResult, error) {
	args := m.Called(ctx, resourceID, channelID, callbackAddress)
	res, _ := args.Get(0).(*calendar.WatchResult)
	return res, args.Error(1)
}

func (m *mockAPI) Stop(ctx context.Context, channelID, channelResourceID string) (int, error) {
	args := m.Called(ctx, channelID, channelResourceID)
	return args.Int(0), args.Error(1)
}

func (m *mockAPI) FullSync(ctx context.Context, resourceID string) (string, error) {
	args := m.Called(ctx, resourceID)
	return args.String(0), args.Error(1)
}

func (m *mockAPI) List(ctx context.Context, resourceID, syncToken, pageToken string) (*calendar.ListPage, error) {
	args := m.Called(ctx, resourceID, syncToken, pageToken)
	page, _ := args.Get(0).(*calendar.ListPage)
	return page, args.Error(1)
}

// captureSink records emitted events
type captureSink struct {
	mu     sync.Mutex
	events []sink.Event
}

func (c *captureSink) Emit(_ context.Context, event sink.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) dedupeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.events))
	for _, e := range c.events {
		ids = append(ids, e.Metadata.DedupeID)
	}
	return ids
}

// sequentialIDs returns chan-1, chan-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("chan-%d", n)
	}
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	src   *Source
	api   *mockAPI
	store *syncstate.MemoryStore
	out   *captureSink
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	api := &mockAPI{}
	store := syncstate.NewMemoryStore()
	out := &captureSink{}
	if opts.CallbackAddress == "" {
		opts.CallbackAddress = testCallback
	}
	src := New(api, store, out, opts)
	src.subs.newChannelID = sequentialIDs()
	src.subs.now = func() time.Time { return testNow }
	t.Cleanup(func() { api.AssertExpectations(t) })
	return &testEnv{src: src, api: api, store: store, out: out}
}

// seed persists a watched resource with a live channel
func (e *testEnv) seed(t *testing.T, resourceID, channelID, syncToken string, expiration time.Time) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), &syncstate.WatchedResource{
		ResourceID:        resourceID,
		ChannelID:         channelID,
		ChannelResourceID: "res-" + resourceID,
		ExpirationMillis:  expiration.UnixMilli(),
		SyncToken:         syncToken,
	}))
}

func item(id string, created, updated time.Time) calendar.ChangeItem {
	return calendar.ChangeItem{
		ID:      id,
		Status:  "confirmed",
		Summary: "Event " + id,
		Created: created,
		Updated: updated,
		Payload: []byte(fmt.Sprintf(`{"id":%q}`, id)),
	}
}

func collect(t *testing.T, p *DeltaSyncPaginator, resourceID string) ([]string, error) {
	t.Helper()
	var ids []string
	for it, err := range p.FetchChanges(context.Background(), resourceID) {
		if err != nil {
			return ids, err
		}
		ids = append(ids, it.ID)
	}
	return ids, nil
}
