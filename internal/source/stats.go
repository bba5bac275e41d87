package source

import "go.uber.org/atomic"

// Stats counts connector activity since start
type Stats struct {
	notifications   [verdictCount]atomic.Int64
	emitted         atomic.Int64
	skipped         atomic.Int64
	invalidations   atomic.Int64
	renewals        atomic.Int64
	teardownsFailed atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Notifications   map[string]int64 `json:"notifications"`
	Emitted         int64            `json:"emitted"`
	Skipped         int64            `json:"skipped"`
	Invalidations   int64            `json:"invalidations"`
	Renewals        int64            `json:"renewals"`
	TeardownsFailed int64            `json:"teardowns_failed"`
}

func (s *Stats) recordVerdict(v Verdict) {
	if v >= 0 && v < verdictCount {
		s.notifications[v].Inc()
	}
}

// Snapshot copies the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Notifications:   make(map[string]int64, verdictCount),
		Emitted:         s.emitted.Load(),
		Skipped:         s.skipped.Load(),
		Invalidations:   s.invalidations.Load(),
		Renewals:        s.renewals.Load(),
		TeardownsFailed: s.teardownsFailed.Load(),
	}
	for v := Verdict(0); v < verdictCount; v++ {
		snap.Notifications[v.String()] = s.notifications[v].Load()
	}
	return snap
}
