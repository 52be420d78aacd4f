package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the orchestrator depends on them.

// SegmentRegistry abstracts the read-only segment directory.
type SegmentRegistry interface {
	Lookup(routeID string, directionID int, fromStopID, toStopID string) (segmentID int64, ok bool)
}

// LearningUpdater abstracts the per-observation update path. It is
// invoked inside the enclosing write transaction by the Ingestion
// Orchestrator, once per segment that passes the orchestrator's earlier
// gates; Apply itself decides whether the observation is accepted.
type LearningUpdater interface {
	Apply(tx StoreTx, segmentID int64, binID int, durationSec float64, observedAt time.Time) (accepted bool, reason RejectionReason, err error)
}

// ETAEstimator abstracts the ETA read path.
type ETAEstimator interface {
	Estimate(ctx context.Context, segmentID int64, binID int, when time.Time) (ETAEstimate, error)
}

// IdempotencyOutcome is the result of IdempotencyRegistry.Begin.
type IdempotencyOutcome int

const (
	IdemFresh IdempotencyOutcome = iota
	IdemReplay
	IdemConflict
)

// IdempotencyRegistry abstracts the at-most-once idempotency protocol.
type IdempotencyRegistry interface {
	Begin(tx StoreTx, idemKey string, bodyHash [32]byte, now time.Time) (outcome IdempotencyOutcome, cached []byte, cachedStatus int, err error)
	Commit(tx StoreTx, idemKey string, statusCode int, response []byte) error
	Sweep(now time.Time) (int, error)
}

// QuotaGate abstracts the per-bucket rate-limit gate.
type QuotaGate interface {
	// Spend performs the atomic check-and-decrement. ok is false when the
	// bucket has no tokens remaining; limit/remaining/reset are always
	// populated for response headers regardless of outcome.
	Spend(tx StoreTx, bucketID string, now time.Time) (ok bool, limit, remaining int, reset time.Time, err error)
}

// StoreTx is the minimal transaction handle the orchestrator threads
// through the registries above, so every mutation they perform commits or
// rolls back atomically with the Statistics Store write.
type StoreTx interface {
	Commit() error
	Rollback() error
}
