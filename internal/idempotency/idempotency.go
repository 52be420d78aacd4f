// Package idempotency implements the Idempotency Registry:
// at-most-once submission semantics keyed by a client-chosen token, with
// a body-hash guard against replays that mutate the payload.
//
// Begin records every key it sees in an internal/infra/dsa.BloomFilter,
// and MaybeSeen answers from that filter: false means the key has not
// been presented to Begin in this process since the filter was last
// reset, true means it may have been. Begin itself does not consult the
// filter; it always performs the storage-backed check in
// BeginIdempotencyTx, so correctness never depends on the filter.
package idempotency

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/dsa"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

// Registry is the Idempotency Registry.
type Registry struct {
	db     *sqlite.DB
	filter *dsa.BloomFilter
}

// New constructs a Registry backed by db, with a Bloom filter sized for
// roughly one day of keys at moderate volume.
func New(db *sqlite.DB) *Registry {
	return &Registry{db: db, filter: dsa.NewBloomFilter(dsa.DefaultBloomConfig())}
}

// Begin implements domain.IdempotencyRegistry.
func (r *Registry) Begin(tx domain.StoreTx, idemKey string, bodyHash [32]byte, now time.Time) (domain.IdempotencyOutcome, []byte, int, error) {
	sqliteTx, ok := tx.(*sqlite.Tx)
	if !ok {
		return domain.IdemConflict, nil, 0, domain.NewCodedError(domain.CodeServerError, "idempotency registry requires a sqlite transaction")
	}

	fresh, replay, conflict, status, cached, err := r.db.BeginIdempotencyTx(sqliteTx, idemKey, bodyHash, now)
	if err != nil {
		return domain.IdemConflict, nil, 0, err
	}
	r.filter.Add(idemKey)

	switch {
	case conflict:
		return domain.IdemConflict, nil, 0, nil
	case replay:
		return domain.IdemReplay, cached, status, nil
	case fresh:
		return domain.IdemFresh, nil, 0, nil
	default:
		return domain.IdemConflict, nil, 0, domain.NewCodedError(domain.CodeServerError, "idempotency begin returned no outcome")
	}
}

// Commit implements domain.IdempotencyRegistry.
func (r *Registry) Commit(tx domain.StoreTx, idemKey string, statusCode int, response []byte) error {
	sqliteTx, ok := tx.(*sqlite.Tx)
	if !ok {
		return domain.NewCodedError(domain.CodeServerError, "idempotency registry requires a sqlite transaction")
	}
	return r.db.CommitIdempotencyTx(sqliteTx, idemKey, statusCode, response)
}

// bloomResetThreshold is the estimated false-positive rate past which
// the fast-path filter is worth rebuilding from scratch. The filter is
// sized for one TTL window's worth of keys at moderate volume; sustained
// traffic well above that fills it faster than expired keys ever clear
// it, since the filter has no way to un-learn a key storage has already
// forgotten.
const bloomResetThreshold = 0.05

// Sweep implements domain.IdempotencyRegistry, deleting records accepted
// more than 24h before now (the default idempotency TTL; the registry
// has no TTL setting of its own). A few lingering false
// positives for keys that have already expired only cost an extra
// storage round trip, never a correctness violation, so the filter is
// otherwise left alone — except once its estimated false positive rate
// has drifted past bloomResetThreshold, at which point it is rebuilt
// empty so the fast path stays worth taking.
func (r *Registry) Sweep(now time.Time) (int, error) {
	n, err := r.db.SweepIdempotency(now.Add(-24 * time.Hour))
	if err == nil && r.filter.NeedsReset(bloomResetThreshold) {
		r.filter.Reset()
	}
	return int(n), err
}

// MaybeSeen reports whether idemKey might have been presented before.
// false is authoritative (never seen); true requires the caller to fall
// through to Begin's storage-backed check.
func (r *Registry) MaybeSeen(idemKey string) bool {
	return r.filter.Contains(idemKey)
}

var _ domain.IdempotencyRegistry = (*Registry)(nil)

// CanonicalBodyHash computes the body_hash guard over a canonical
// byte representation of req.
//
// The wire format's whitespace and key ordering must not affect the
// hash. Go's encoding/json.Marshal of a struct always emits
// fields in the struct's declared order, and its float formatting is a
// pure function of the float64 value — so hashing the re-marshaled
// canonicalRequest, built from the already-decoded and validated
// IngestRequest, is deterministic regardless of how the original
// request body was spaced, ordered, or indented.
func CanonicalBodyHash(req domain.IngestRequest) [32]byte {
	type canonicalSegment struct {
		FromStopID   string  `json:"from_stop_id"`
		ToStopID     string  `json:"to_stop_id"`
		DurationSec  float64 `json:"duration_sec"`
		DwellSec     float64 `json:"dwell_sec"`
		HasMapMatch  bool    `json:"has_map_match"`
		MapMatchConf float64 `json:"map_match_conf"`
		ObservedAt   string  `json:"observed_at"`
		IsHoliday    bool    `json:"is_holiday"`
	}
	type canonicalRequest struct {
		RouteID     string             `json:"route_id"`
		DirectionID int                `json:"direction_id"`
		BucketID    string             `json:"bucket_id"`
		Segments    []canonicalSegment `json:"segments"`
	}

	c := canonicalRequest{
		RouteID:     req.RouteID,
		DirectionID: req.DirectionID,
		BucketID:    req.BucketID,
		Segments:    make([]canonicalSegment, len(req.Segments)),
	}
	for i, s := range req.Segments {
		c.Segments[i] = canonicalSegment{
			FromStopID:   s.FromStopID,
			ToStopID:     s.ToStopID,
			DurationSec:  s.DurationSec,
			DwellSec:     s.DwellSec,
			HasMapMatch:  s.HasMapMatch,
			MapMatchConf: s.MapMatchConf,
			ObservedAt:   s.ObservedAt.UTC().Format(time.RFC3339Nano),
			IsHoliday:    s.IsHoliday,
		}
	}

	// json.Marshal never fails on this concrete, cycle-free type.
	b, _ := json.Marshal(c)
	return sha256.Sum256(b)
}
