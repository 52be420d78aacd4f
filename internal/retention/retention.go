// Package retention implements the sweeper that ages out
// idempotency_keys, rate_limit_buckets, rejection_log, and ride_audit
// rows past their retention windows.
//
// Built on internal/infra/dsa's ExpiryQueue, a min-heap ordered by pure
// expiry time (see infra/dsa/heap.go): each table class is rescheduled
// one full retention window after it was last swept, so a tick only
// queries storage for the classes actually due instead of rescanning
// all four on every call. The age of a table's oldest surviving row is
// not consulted when scheduling.
package retention

import (
	"time"

	"github.com/citytransit/etalearn/internal/infra/dsa"
	"github.com/citytransit/etalearn/internal/infra/observability"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

const (
	tableIdempotency = "idempotency_keys"
	tableQuota       = "rate_limit_buckets"
	tableRejections  = "rejection_log"
	tableRideAudit   = "ride_audit"
)

// Windows holds the per-table retention windows.
type Windows struct {
	IdempotencyTTL time.Duration // default 24h
	QuotaIdle      time.Duration // default 24h
	RejectionAge   time.Duration // default 30 days
	RideAuditAge   time.Duration // default 90 days
}

// DefaultWindows matches the production defaults.
func DefaultWindows() Windows {
	return Windows{
		IdempotencyTTL: 24 * time.Hour,
		QuotaIdle:      24 * time.Hour,
		RejectionAge:   30 * 24 * time.Hour,
		RideAuditAge:   90 * 24 * time.Hour,
	}
}

// Sweeper periodically ages out expired rows across all four retention
// classes.
type Sweeper struct {
	db      *sqlite.DB
	windows Windows
	queue   *dsa.ExpiryQueue
	now     func() time.Time
}

// New constructs a Sweeper and seeds the schedule so every class is
// eligible for its first tick immediately.
func New(db *sqlite.DB, windows Windows) *Sweeper {
	s := &Sweeper{db: db, windows: windows, queue: dsa.NewExpiryQueue(), now: time.Now}
	due := s.now()
	for _, table := range []string{tableIdempotency, tableQuota, tableRejections, tableRideAudit} {
		s.queue.Push(dsa.ExpiryItem{Table: table, ExpiresAt: due})
	}
	return s
}

// Tick runs a single sweep pass: every class due by now is swept and
// rescheduled one window out. Returns the number of rows removed per
// table class actually swept this tick.
func (s *Sweeper) Tick() (map[string]int64, error) {
	now := s.now()
	removed := make(map[string]int64)

	for s.queue.DueBy(now) {
		item, ok := s.queue.Pop()
		if !ok {
			break
		}

		n, window, err := s.sweepOne(item.Table, now)
		if err != nil {
			// Reschedule so a transient storage error doesn't permanently
			// drop this class from the rotation.
			s.queue.Push(dsa.ExpiryItem{Table: item.Table, ExpiresAt: now.Add(time.Minute)})
			return removed, err
		}
		removed[item.Table] = n
		observability.RetentionRowsSweptTotal.WithLabelValues(item.Table).Add(float64(n))
		s.queue.Push(dsa.ExpiryItem{Table: item.Table, ExpiresAt: now.Add(window)})
	}
	return removed, nil
}

func (s *Sweeper) sweepOne(table string, now time.Time) (int64, time.Duration, error) {
	switch table {
	case tableIdempotency:
		n, err := s.db.SweepIdempotency(now.Add(-s.windows.IdempotencyTTL))
		return n, s.windows.IdempotencyTTL, err
	case tableQuota:
		n, err := s.db.SweepQuota(now.Add(-s.windows.QuotaIdle))
		return n, s.windows.QuotaIdle, err
	case tableRejections:
		n, err := s.db.SweepRejections(now.Add(-s.windows.RejectionAge))
		return n, s.windows.RejectionAge, err
	case tableRideAudit:
		n, err := s.db.SweepRideAudit(now.Add(-s.windows.RideAuditAge))
		return n, s.windows.RideAuditAge, err
	default:
		return 0, time.Hour, nil
	}
}

// Run drives Tick on interval until stop is closed. Intended to be
// launched as a background goroutine by the serve command
// (internal/cli/serve.go).
func (s *Sweeper) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-stop:
			return
		}
	}
}
