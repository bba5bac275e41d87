package source

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

func TestEstablishWatch_PersistsRecord(t *testing.T) {
	env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
	exp := testNow.Add(7 * 24 * time.Hour).UnixMilli()

	env.api.On("Watch", mock.Anything, "a", "chan-1", testCallback).
		Return(&calendar.WatchResult{ChannelResourceID: "res-a", ExpirationMillis: exp}, nil).Once()
	env.api.On("FullSync", mock.Anything, "a").Return("tok-1", nil).Once()

	record, err := env.src.subs.EstablishWatch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", record.ChannelID)

	stored, err := env.store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", stored.ChannelID)
	assert.Equal(t, "res-a", stored.ChannelResourceID)
	assert.Equal(t, exp, stored.ExpirationMillis)
	assert.Equal(t, "tok-1", stored.SyncToken)
}

func TestEstablishWatch_RetryAfterFailedSync(t *testing.T) {
	env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
	exp := testNow.Add(time.Hour).UnixMilli()

	env.api.On("Watch", mock.Anything, "a", mock.Anything, testCallback).
		Return(&calendar.WatchResult{ChannelResourceID: "res-a", ExpirationMillis: exp}, nil).Twice()
	env.api.On("FullSync", mock.Anything, "a").Return("", errors.New("timeout")).Once()
	env.api.On("FullSync", mock.Anything, "a").Return("tok-1", nil).Once()

	_, err := env.src.subs.EstablishWatch(context.Background(), "a")
	require.Error(t, err)
	_, err = env.store.Get(context.Background(), "a")
	assert.ErrorIs(t, err, syncstate.ErrNotFound, "nothing is persisted for a partial watch")

	record, err := env.src.subs.EstablishWatch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "chan-2", record.ChannelID)
}

func TestTeardownWatch(t *testing.T) {
	tests := []struct {
		name       string
		stopCode   int
		stopErr    error
		wantErr    error
		wantKeeper bool
	}{
		{name: "confirmed", stopCode: constants.StatusStopped},
		{name: "not found", stopCode: http.StatusNotFound, wantErr: ErrTeardownNotConfirmed, wantKeeper: true},
		{name: "ok without no content", stopCode: http.StatusOK, wantErr: ErrTeardownNotConfirmed, wantKeeper: true},
		{name: "transport failure", stopErr: errors.New("connection reset"), wantKeeper: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
			env.seed(t, "a", "chan-old", "tok-1", testNow.Add(time.Hour))
			env.api.On("Stop", mock.Anything, "chan-old", "res-a").Return(tt.stopCode, tt.stopErr).Once()

			err := env.src.subs.TeardownWatch(context.Background(), "a")
			_, getErr := env.store.Get(context.Background(), "a")

			if !tt.wantKeeper {
				require.NoError(t, err)
				assert.ErrorIs(t, getErr, syncstate.ErrNotFound)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, getErr, "state is kept when teardown is not confirmed")
		})
	}
}

func TestTeardownWatch_NothingPersisted(t *testing.T) {
	env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
	assert.NoError(t, env.src.subs.TeardownWatch(context.Background(), "a"))
	env.api.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenewIfExpiringSoon_Boundary(t *testing.T) {
	interval := time.Hour
	expiration := time.UnixMilli(1_700_000_000_000)

	t.Run("just before the window", func(t *testing.T) {
		env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
		env.seed(t, "a", "chan-old", "tok-1", expiration)
		env.src.subs.now = func() time.Time { return expiration.Add(-interval - time.Millisecond) }

		renewed, err := env.src.subs.RenewIfExpiringSoon(context.Background(), "a", interval)
		require.NoError(t, err)
		assert.False(t, renewed)
		env.api.AssertNotCalled(t, "Watch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inside the window", func(t *testing.T) {
		env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
		env.seed(t, "a", "chan-old", "tok-1", expiration)
		env.src.subs.now = func() time.Time { return expiration.Add(-interval + time.Millisecond) }
		newExp := expiration.Add(7 * 24 * time.Hour).UnixMilli()

		var order []string
		mock.InOrder(
			env.api.On("Watch", mock.Anything, "a", "chan-1", testCallback).
				Run(func(mock.Arguments) { order = append(order, "watch") }).
				Return(&calendar.WatchResult{ChannelResourceID: "res-a-2", ExpirationMillis: newExp}, nil).Once(),
			env.api.On("FullSync", mock.Anything, "a").Return("tok-2", nil).Once(),
			env.api.On("Stop", mock.Anything, "chan-old", "res-a").
				Run(func(mock.Arguments) { order = append(order, "stop") }).
				Return(constants.StatusStopped, nil).Once(),
		)

		renewed, err := env.src.subs.RenewIfExpiringSoon(context.Background(), "a", interval)
		require.NoError(t, err)
		assert.True(t, renewed)
		assert.Equal(t, []string{"watch", "stop"}, order)

		stored, err := env.store.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "chan-1", stored.ChannelID)
		assert.Equal(t, "res-a-2", stored.ChannelResourceID)
		assert.Equal(t, newExp, stored.ExpirationMillis)
		assert.Equal(t, "tok-2", stored.SyncToken)
	})
}

func TestRenewIfExpiringSoon_OldStopFailureKeepsNewChannel(t *testing.T) {
	env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
	env.seed(t, "a", "chan-old", "tok-1", testNow.Add(time.Minute))

	env.api.On("Watch", mock.Anything, "a", "chan-1", testCallback).
		Return(&calendar.WatchResult{ChannelResourceID: "res-a-2", ExpirationMillis: testNow.Add(48 * time.Hour).UnixMilli()}, nil).Once()
	env.api.On("FullSync", mock.Anything, "a").Return("tok-2", nil).Once()
	env.api.On("Stop", mock.Anything, "chan-old", "res-a").Return(http.StatusNotFound, nil).Once()

	renewed, err := env.src.subs.RenewIfExpiringSoon(context.Background(), "a", time.Hour)
	require.NoError(t, err)
	assert.True(t, renewed)

	stored, err := env.store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", stored.ChannelID)
}

func TestRenewIfExpiringSoon_WatchFailureKeepsOldChannel(t *testing.T) {
	env := newTestEnv(t, Options{ResourceIDs: []string{"a"}})
	env.seed(t, "a", "chan-old", "tok-1", testNow.Add(time.Minute))
	env.api.On("Watch", mock.Anything, "a", "chan-1", testCallback).Return(nil, errors.New("quota exceeded")).Once()

	renewed, err := env.src.subs.RenewIfExpiringSoon(context.Background(), "a", time.Hour)
	require.Error(t, err)
	assert.False(t, renewed)

	stored, err := env.store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "chan-old", stored.ChannelID)
	env.api.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything, mock.Anything)
}
