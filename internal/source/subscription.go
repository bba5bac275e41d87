package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/signals"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// ErrTeardownNotConfirmed is returned when the API did not confirm that a channel stopped
var ErrTeardownNotConfirmed = errors.New("channel teardown not confirmed")

// SubscriptionManager creates, renews and tears down push channels.
// Callers serialize calls per resource id.
type SubscriptionManager struct {
	api             calendar.API
	store           syncstate.Store
	callbackAddress string
	now             func() time.Time
	newChannelID    func() string
	logger          zerolog.Logger
}

// NewSubscriptionManager creates a SubscriptionManager registering channels on callbackAddress
func NewSubscriptionManager(api calendar.API, store syncstate.Store, callbackAddress string) *SubscriptionManager {
	return &SubscriptionManager{
		api:             api,
		store:           store,
		callbackAddress: callbackAddress,
		now:             time.Now,
		newChannelID:    uuid.NewString,
		logger:          logging.GetLogger("subscription"),
	}
}

// EstablishWatch registers a new channel, re-baselines the sync token with a full resync and
// persists the result. A previous channel of the resource is not stopped here.
// Calling it again after a failure is safe: the API supersedes duplicate registrations.
func (m *SubscriptionManager) EstablishWatch(ctx context.Context, resourceID string) (*syncstate.WatchedResource, error) {
	channelID := m.newChannelID()
	logger := m.logger.With().Str("resource_id", resourceID).Str("channel_id", channelID).Logger()

	watch, err := m.api.Watch(ctx, resourceID, channelID, m.callbackAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", resourceID, err)
	}

	syncToken, err := m.api.FullSync(ctx, resourceID)
	if err != nil {
		logger.Warn().Err(err).Msg("Watch created but initial full sync failed")
		return nil, fmt.Errorf("failed to prime sync token of %s: %w", resourceID, err)
	}

	record := &syncstate.WatchedResource{
		ResourceID:        resourceID,
		ChannelID:         channelID,
		ChannelResourceID: watch.ChannelResourceID,
		ExpirationMillis:  watch.ExpirationMillis,
		SyncToken:         syncToken,
	}
	existing, err := m.store.Get(ctx, resourceID)
	switch {
	case err == nil:
		record.Version = existing.Version
	case !errors.Is(err, syncstate.ErrNotFound):
		return nil, fmt.Errorf("failed to read state of %s: %w", resourceID, err)
	}

	if err := m.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist watch of %s: %w", resourceID, err)
	}

	logger.Info().
		Str("channel_resource_id", record.ChannelResourceID).
		Time("expiration", record.Expiration()).
		Msg("Watch established")
	return record, nil
}

// TeardownWatch stops the persisted channel and clears the record. The record is only
// cleared when the API confirms the stop; otherwise an error wrapping
// ErrTeardownNotConfirmed is returned and the state is left for a later attempt.
func (m *SubscriptionManager) TeardownWatch(ctx context.Context, resourceID string) error {
	logger := m.logger.With().Str("resource_id", resourceID).Logger()

	record, err := m.store.Get(ctx, resourceID)
	if errors.Is(err, syncstate.ErrNotFound) {
		logger.Debug().Msg("No watch persisted, nothing to tear down")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state of %s: %w", resourceID, err)
	}

	if record.HasChannel() {
		code, err := m.api.Stop(ctx, record.ChannelID, record.ChannelResourceID)
		if err != nil {
			return fmt.Errorf("failed to stop channel %s of %s: %w", record.ChannelID, resourceID, err)
		}
		if code != constants.StatusStopped {
			logger.Warn().Str("channel_id", record.ChannelID).Int("status_code", code).Msg("Channel stop not confirmed, keeping state")
			return fmt.Errorf("%w: channel %s of %s returned status %d", ErrTeardownNotConfirmed, record.ChannelID, resourceID, code)
		}
	}

	if err := m.store.Delete(ctx, resourceID, record.Version); err != nil {
		return fmt.Errorf("failed to clear state of %s: %w", resourceID, err)
	}
	logger.Info().Str("channel_id", record.ChannelID).Msg("Watch torn down")
	return nil
}

// RenewIfExpiringSoon replaces the channel when now+lookahead passes its expiration.
// The new channel is established before the old one is stopped. It reports whether a
// renewal happened.
func (m *SubscriptionManager) RenewIfExpiringSoon(ctx context.Context, resourceID string, lookahead time.Duration) (bool, error) {
	record, err := m.store.Get(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("failed to read state of %s: %w", resourceID, err)
	}

	now := m.now()
	if !now.Add(lookahead).After(record.Expiration()) {
		return false, nil
	}

	logger := m.logger.With().
		Str("resource_id", resourceID).
		Str("old_channel_id", record.ChannelID).
		Time("expiration", record.Expiration()).
		Logger()
	logger.Info().Dur("lookahead", lookahead).Msg("Channel expiring soon, renewing")

	if _, err := m.replace(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceWatch establishes a fresh channel and then stops the one persisted before, if any
func (m *SubscriptionManager) ReplaceWatch(ctx context.Context, resourceID string) (*syncstate.WatchedResource, error) {
	record, err := m.store.Get(ctx, resourceID)
	switch {
	case errors.Is(err, syncstate.ErrNotFound):
		return m.EstablishWatch(ctx, resourceID)
	case err != nil:
		return nil, fmt.Errorf("failed to read state of %s: %w", resourceID, err)
	}
	return m.replace(ctx, record)
}

func (m *SubscriptionManager) replace(ctx context.Context, old *syncstate.WatchedResource) (*syncstate.WatchedResource, error) {
	fresh, err := m.EstablishWatch(ctx, old.ResourceID)
	if err != nil {
		return nil, err
	}
	if !old.HasChannel() {
		return fresh, nil
	}

	m.stopSuperseded(ctx, old)
	signals.EmitChannelRenewed(ctx, signals.ChannelRenewedData{
		ResourceID:       old.ResourceID,
		OldChannelID:     old.ChannelID,
		NewChannelID:     fresh.ChannelID,
		ExpirationMillis: fresh.ExpirationMillis,
	})
	return fresh, nil
}

// stopSuperseded stops a channel that is no longer referenced by the persisted record.
// Failures are only logged: the channel expires on its own.
func (m *SubscriptionManager) stopSuperseded(ctx context.Context, old *syncstate.WatchedResource) {
	logger := m.logger.With().
		Str("resource_id", old.ResourceID).
		Str("channel_id", old.ChannelID).
		Logger()

	code, err := m.api.Stop(ctx, old.ChannelID, old.ChannelResourceID)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Failed to stop superseded channel")
	case code != constants.StatusStopped:
		logger.Warn().Int("status_code", code).Msg("Superseded channel stop not confirmed")
	default:
		logger.Debug().Msg("Superseded channel stopped")
	}
}
