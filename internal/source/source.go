// Package source turns calendar push notifications into emitted events.
//
// A Source owns the lifecycle of one push channel per configured calendar: Activate registers
// the channels and primes their sync tokens, Run handles timer ticks (channel renewal) and
// inbound notifications (delta fetch, projection, emission) and Deactivate stops the channels.
// Work on a single calendar is serialized inside the process; writes to the state store are
// versioned so concurrent processes cannot clobber each other.
package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/sink"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// Options configures a Source
type Options struct {
	// ResourceIDs are the calendars to watch; the slice is copied
	ResourceIDs     []string
	NewOnly         bool
	CallbackAddress string
	ChannelToken    string
}

// Trigger is one invocation of Run: a notification when set, a timer tick otherwise
type Trigger struct {
	Interval     time.Duration
	Notification *Notification
}

// Source wires the subscription, validation, pagination and projection steps together
type Source struct {
	resourceIDs []string
	newOnly     bool

	store     syncstate.Store
	out       sink.Sink
	subs      *SubscriptionManager
	validator *NotificationValidator
	paginator *DeltaSyncPaginator
	renewals  *RenewalScheduler
	locks     *resourceLocks
	stats     *Stats
	logger    zerolog.Logger
}

// New creates a Source
func New(api calendar.API, store syncstate.Store, out sink.Sink, opts Options) *Source {
	stats := &Stats{}
	locks := newResourceLocks()
	subs := NewSubscriptionManager(api, store, opts.CallbackAddress)
	return &Source{
		resourceIDs: slices.Clone(opts.ResourceIDs),
		newOnly:     opts.NewOnly,
		store:       store,
		out:         out,
		subs:        subs,
		validator:   NewNotificationValidator(opts.ChannelToken),
		paginator:   NewDeltaSyncPaginator(api, store, stats),
		renewals:    newRenewalScheduler(subs, locks, stats),
		locks:       locks,
		stats:       stats,
		logger:      logging.GetLogger("source"),
	}
}

// ResourceIDs returns a copy of the watched calendar ids
func (s *Source) ResourceIDs() []string {
	return slices.Clone(s.resourceIDs)
}

// Stats returns the activity counters
func (s *Source) Stats() *Stats {
	return s.stats
}

// Activate (re)establishes a watch for every calendar. A channel persisted by an earlier
// activation is stopped once its replacement exists.
func (s *Source) Activate(ctx context.Context) error {
	var result *multierror.Error
	for _, resourceID := range s.resourceIDs {
		if err := s.withLock(resourceID, func() error {
			_, err := s.subs.ReplaceWatch(ctx, resourceID)
			return err
		}); err != nil {
			s.logger.Error().Err(err).Str("resource_id", resourceID).Msg("Failed to activate watch")
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	s.logger.Info().Int("resources", len(s.resourceIDs)).Msg("Source activated")
	return nil
}

// EnsureWatches establishes watches only for calendars without a live channel
func (s *Source) EnsureWatches(ctx context.Context) error {
	var result *multierror.Error
	for _, resourceID := range s.resourceIDs {
		err := s.withLock(resourceID, func() error {
			record, err := s.store.Get(ctx, resourceID)
			switch {
			case errors.Is(err, syncstate.ErrNotFound):
			case err != nil:
				return fmt.Errorf("failed to read state of %s: %w", resourceID, err)
			case record.HasChannel() && s.subs.now().Before(record.Expiration()):
				s.logger.Debug().Str("resource_id", resourceID).Str("channel_id", record.ChannelID).Msg("Active channel already exists")
				return nil
			}
			_, err = s.subs.ReplaceWatch(ctx, resourceID)
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Str("resource_id", resourceID).Msg("Failed to ensure watch")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Deactivate tears down the watch of every configured calendar and of any calendar still
// persisted from an earlier configuration. Failed teardowns keep their state and are
// reported together.
func (s *Source) Deactivate(ctx context.Context) error {
	ids := s.ResourceIDs()
	persisted, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list persisted watches, tearing down configured calendars only")
	}
	for _, record := range persisted {
		if !slices.Contains(ids, record.ResourceID) {
			ids = append(ids, record.ResourceID)
		}
	}

	var result *multierror.Error
	for _, resourceID := range ids {
		if err := s.withLock(resourceID, func() error {
			return s.subs.TeardownWatch(ctx, resourceID)
		}); err != nil {
			s.stats.teardownsFailed.Inc()
			s.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("Watch teardown failed, state kept")
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	s.logger.Info().Int("resources", len(ids)).Msg("Source deactivated")
	return nil
}

// Run handles one trigger
func (s *Source) Run(ctx context.Context, trigger Trigger) error {
	if trigger.Notification != nil {
		_, err := s.HandleNotification(ctx, *trigger.Notification)
		return err
	}
	return s.HandleTick(ctx, trigger.Interval)
}

// HandleTick renews channels expiring within interval
func (s *Source) HandleTick(ctx context.Context, interval time.Duration) error {
	return s.renewals.Tick(ctx, s.resourceIDs, interval)
}

// RunRenewals drives HandleTick from a ticker until ctx is cancelled
func (s *Source) RunRenewals(ctx context.Context, interval time.Duration) {
	s.renewals.Run(ctx, s.resourceIDs, interval)
}

// HandleNotification validates a push notification and, for content changes, fetches the
// delta and emits every relevant item.
func (s *Source) HandleNotification(ctx context.Context, n Notification) (Verdict, error) {
	known, err := s.knownChannels(ctx)
	if err != nil {
		return VerdictUnknownChannel, err
	}

	verdict, channel := s.validator.Validate(n, known)
	s.stats.recordVerdict(verdict)
	if !verdict.ShouldFetch() {
		return verdict, nil
	}
	return verdict, s.withLock(channel.ResourceID, func() error {
		return s.sync(ctx, channel.ResourceID)
	})
}

// knownChannels maps the persisted channel ids of configured calendars to their resources
func (s *Source) knownChannels(ctx context.Context) (map[string]KnownChannel, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched resources: %w", err)
	}
	known := make(map[string]KnownChannel, len(records))
	for _, record := range records {
		if !record.HasChannel() || !slices.Contains(s.resourceIDs, record.ResourceID) {
			continue
		}
		known[record.ChannelID] = KnownChannel{
			ResourceID:        record.ResourceID,
			ChannelResourceID: record.ChannelResourceID,
		}
	}
	return known, nil
}

// sync runs one fetch cycle for a resource
func (s *Source) sync(ctx context.Context, resourceID string) error {
	logger := s.logger.With().Str("resource_id", resourceID).Logger()

	emitted, skipped := 0, 0
	for item, err := range s.paginator.FetchChanges(ctx, resourceID) {
		if err != nil {
			logger.Error().Err(err).Int("emitted", emitted).Msg("Fetch cycle failed")
			return err
		}
		if !IsRelevant(item, s.newOnly) {
			skipped++
			s.stats.skipped.Inc()
			continue
		}
		event, ok := Project(resourceID, item)
		if !ok {
			skipped++
			s.stats.skipped.Inc()
			continue
		}
		s.out.Emit(ctx, event)
		emitted++
		s.stats.emitted.Inc()
	}

	logger.Info().Int("emitted", emitted).Int("skipped", skipped).Msg("Fetch cycle completed")
	return nil
}

func (s *Source) withLock(resourceID string, fn func() error) error {
	unlock := s.locks.lock(resourceID)
	defer unlock()
	return fn()
}
