package sink

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/logging"
)

// Ledger remembers which dedupe ids were already emitted
type Ledger interface {
	// MarkEmitted records the id and reports whether it was seen for the first time
	MarkEmitted(ctx context.Context, dedupeID string) (bool, error)
}

// Dedupe drops events whose dedupe id is already in the ledger
type Dedupe struct {
	next   Sink
	ledger Ledger
	logger zerolog.Logger
}

// NewDedupe wraps next with ledger-based duplicate suppression
func NewDedupe(next Sink, ledger Ledger) *Dedupe {
	return &Dedupe{
		next:   next,
		ledger: ledger,
		logger: logging.GetLogger("sink-dedupe"),
	}
}

// Emit forwards first-seen events. When the ledger is unavailable the event is forwarded:
// a duplicate is preferred over a lost event.
func (d *Dedupe) Emit(ctx context.Context, event Event) {
	first, err := d.ledger.MarkEmitted(ctx, event.Metadata.DedupeID)
	if err != nil {
		d.logger.Warn().Err(err).Str("dedupe_id", event.Metadata.DedupeID).Msg("Dedupe ledger unavailable, emitting anyway")
		d.next.Emit(ctx, event)
		return
	}
	if !first {
		d.logger.Debug().Str("dedupe_id", event.Metadata.DedupeID).Msg("Duplicate event suppressed")
		return
	}
	d.next.Emit(ctx, event)
}

// MemoryLedger is a process-local Ledger
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryLedger creates an empty MemoryLedger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

// MarkEmitted implements Ledger
func (l *MemoryLedger) MarkEmitted(_ context.Context, dedupeID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[dedupeID]; ok {
		return false, nil
	}
	l.seen[dedupeID] = struct{}{}
	return true, nil
}
