// Package quota implements the Quota Gate: a persisted,
// linearizable-per-bucket token bucket. Gate also offers Allow, an
// advisory in-process limiter; no ingestion code path calls it, so every
// admission is decided by Spend alone.
//
// The persisted bucket is the authoritative gate (infra/sqlite.SpendTx
// reads and rewrites the bucket row inside the store's one-at-a-time
// write transaction, so two requests cannot both spend a bucket's last
// token). golang.org/x/time/rate cannot itself satisfy the durability and
// cross-process contract a rate-limited service needs — it is in-memory
// and resets on restart — so Allow can only narrow traffic ahead of the
// authoritative check, never replace it.
package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

// Config controls the persisted bucket's capacity and refill window plus
// the advisory limiter's shape.
type Config struct {
	Capacity int           // C, default 500
	Window   time.Duration // W, default 1h
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{Capacity: 500, Window: time.Hour}
}

// Gate is the Quota Gate.
type Gate struct {
	db  *sqlite.DB
	cfg Config

	mu       sync.Mutex
	advisory map[string]*rate.Limiter
}

// New constructs a Gate backed by db.
func New(db *sqlite.DB, cfg Config) *Gate {
	return &Gate{db: db, cfg: cfg, advisory: make(map[string]*rate.Limiter)}
}

// Allow applies the advisory in-process limiter only. It never touches
// storage and carries no authority: a caller that passes Allow still
// must call Spend inside the ingestion transaction, and a caller that
// fails Allow may still short-circuit before opening that transaction to
// save a storage round trip under a burst.
func (g *Gate) Allow(bucketID string) bool {
	g.mu.Lock()
	lim, ok := g.advisory[bucketID]
	if !ok {
		// Roughly twice the persisted rate, so the advisory layer only
		// trims the sharpest bursts. A burst that straddles a refill of
		// the persisted bucket can still be refused here.
		perSecond := float64(g.cfg.Capacity) / g.cfg.Window.Seconds() * 2
		lim = rate.NewLimiter(rate.Limit(perSecond), g.cfg.Capacity)
		g.advisory[bucketID] = lim
	}
	g.mu.Unlock()
	return lim.Allow()
}

// Spend implements domain.QuotaGate: the atomic, persisted
// check-and-decrement.
func (g *Gate) Spend(tx domain.StoreTx, bucketID string, now time.Time) (bool, int, int, time.Time, error) {
	sqliteTx, ok := tx.(*sqlite.Tx)
	if !ok {
		return false, 0, 0, time.Time{}, domain.NewCodedError(domain.CodeServerError, "quota gate requires a sqlite transaction")
	}
	ok, remaining, reset, err := g.db.SpendTx(sqliteTx, bucketID, g.cfg.Capacity, g.cfg.Window, now)
	if err != nil {
		return false, g.cfg.Capacity, 0, time.Time{}, err
	}
	return ok, g.cfg.Capacity, remaining, reset, nil
}

// Sweep removes persisted buckets idle longer than idleSince. It does not
// touch the advisory limiter map; a handful of stale in-memory limiters
// for long-idle clients costs negligible memory compared to the
// correctness of clearing them under concurrent Allow calls.
func (g *Gate) Sweep(idleSince time.Time) (int, error) {
	n, err := g.db.SweepQuota(idleSince)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ domain.QuotaGate = (*Gate)(nil)
