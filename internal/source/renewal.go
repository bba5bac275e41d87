package source

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// RenewalScheduler renews channels that expire within the next timer interval
type RenewalScheduler struct {
	subs   *SubscriptionManager
	locks  *resourceLocks
	stats  *Stats
	logger zerolog.Logger
}

func newRenewalScheduler(subs *SubscriptionManager, locks *resourceLocks, stats *Stats) *RenewalScheduler {
	return &RenewalScheduler{
		subs:   subs,
		locks:  locks,
		stats:  stats,
		logger: logging.GetLogger("renewal"),
	}
}

// Tick checks every resource once, renewing channels whose expiration falls before the
// next tick. Resources without persisted state get a fresh watch. Every resource is
// attempted; failures are aggregated.
func (r *RenewalScheduler) Tick(ctx context.Context, resourceIDs []string, interval time.Duration) error {
	var result *multierror.Error
	for _, resourceID := range resourceIDs {
		if err := r.renew(ctx, resourceID, interval); err != nil {
			r.logger.Error().Err(err).Str("resource_id", resourceID).Msg("Channel renewal failed")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *RenewalScheduler) renew(ctx context.Context, resourceID string, interval time.Duration) error {
	unlock := r.locks.lock(resourceID)
	defer unlock()

	renewed, err := r.subs.RenewIfExpiringSoon(ctx, resourceID, interval)
	if errors.Is(err, syncstate.ErrNotFound) {
		r.logger.Warn().Str("resource_id", resourceID).Msg("No watch persisted, establishing one")
		if _, err := r.subs.EstablishWatch(ctx, resourceID); err != nil {
			return err
		}
		r.stats.renewals.Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if renewed {
		r.stats.renewals.Inc()
	}
	return nil
}

// Run calls Tick every interval until ctx is cancelled
func (r *RenewalScheduler) Run(ctx context.Context, resourceIDs []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Int("resources", len(resourceIDs)).Msg("Starting renewal loop")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Renewal loop stopped")
			return
		case <-ticker.C:
			r.logger.Debug().Msg("Renewal tick received")
			// Errors are logged per resource by Tick
			_ = r.Tick(ctx, resourceIDs, interval)
		}
	}
}
