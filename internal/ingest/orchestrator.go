// Package ingest implements the Ingestion Orchestrator: the
// request-shaped state machine that validates, gates on idempotency and
// quota, fans a submission out over the Learning Updater per segment,
// and returns a counts summary — all within one storage transaction so
// the single-writer discipline holds.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/citytransit/etalearn/internal/binmapper"
	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/idempotency"
	"github.com/citytransit/etalearn/internal/infra/observability"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
	"github.com/citytransit/etalearn/internal/quota"
)

// Config holds the orchestrator's own tunables, distinct from the
// numerical tunables owned by internal/stats.
type Config struct {
	MaxSegments     int
	MapMatchMinConf float64
	StaleWindow     time.Duration
	RetryAttempts   int
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSegments:     50,
		MapMatchMinConf: 0.7,
		StaleWindow:     7 * 24 * time.Hour,
		RetryAttempts:   3,
	}
}

// Orchestrator wires the Segment Registry, Learning Updater, Idempotency
// Registry, Quota Gate, and rejection log into one ingestion state
// machine.
type Orchestrator struct {
	db       *sqlite.DB
	cfg      Config
	registry domain.SegmentRegistry
	updater  domain.LearningUpdater
	idem     *idempotency.Registry
	gate     *quota.Gate
	tracer   *observability.Tracer
	now      func() time.Time
}

// New constructs an Orchestrator. It carries its own request tracer
// (§5's per-transaction state machine: validate → idempotency → quota →
// per-segment processing → commit), recorded as one span per submission
// rather than spans per sub-step, since the transaction as a whole is
// the unit operators care about replaying.
func New(db *sqlite.DB, cfg Config, registry domain.SegmentRegistry, updater domain.LearningUpdater, idem *idempotency.Registry, gate *quota.Gate) *Orchestrator {
	return &Orchestrator{
		db: db, cfg: cfg, registry: registry, updater: updater, idem: idem, gate: gate,
		tracer: observability.NewTracer(observability.DefaultTracerConfig()),
		now:    time.Now,
	}
}

// Tracer exposes the orchestrator's in-process span recorder, e.g. for
// an operational /debug/spans endpoint outside this package's scope.
func (o *Orchestrator) Tracer() *observability.Tracer { return o.tracer }

// RateLimitInfo carries the X-RateLimit-* header values. It is only
// populated on a fresh admission, since a replay never debits the gate.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Present   bool
}

// Outcome is the result of processing one submission: either a fully
// formed response to return, or a terminal error code to surface.
type Outcome struct {
	Response   domain.IngestResponse
	StatusCode int // 200 normally, 409/422/429 on terminal paths short of a storage error
	RateLimit  RateLimitInfo
}

// Process runs the full ingestion state machine for one already shape-valid
// request. Shape validation (step 1) is the caller's responsibility
// (typically the HTTP layer, since it must run before a transaction is
// even considered) — ValidateShape below is provided for that purpose.
func (o *Orchestrator) Process(ctx context.Context, req domain.IngestRequest, idemKey string, bodyHash [32]byte) (Outcome, error) {
	span := o.tracer.StartSpanKind(ctx, "ingest.process", observability.SpanServer, map[string]string{
		"route_id":      req.RouteID,
		"segment_count": fmt.Sprintf("%d", len(req.Segments)),
	})

	var outcome Outcome
	err := sqlite.WithRetry(o.cfg.RetryAttempts, func() error {
		var innerErr error
		outcome, innerErr = o.processOnce(ctx, req, idemKey, bodyHash)
		return innerErr
	})
	if err == nil {
		span.SetAttr("status_code", fmt.Sprintf("%d", outcome.StatusCode))
		span.SetAttr("accepted_segments", fmt.Sprintf("%d", outcome.Response.AcceptedSegments))
		span.SetAttr("rejected_segments", fmt.Sprintf("%d", outcome.Response.RejectedSegments))
	}
	o.tracer.EndSpan(span, err)
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (o *Orchestrator) processOnce(ctx context.Context, req domain.IngestRequest, idemKey string, bodyHash [32]byte) (Outcome, error) {
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return Outcome{}, err
	}

	now := o.now()

	idemOutcome, cachedResponse, cachedStatus, err := o.idem.Begin(tx, idemKey, bodyHash, now)
	if err != nil {
		o.db.RollbackAndRelease(tx)
		return Outcome{}, err
	}

	switch idemOutcome {
	case domain.IdemConflict:
		o.db.RollbackAndRelease(tx)
		return Outcome{StatusCode: 409}, nil
	case domain.IdemReplay:
		if err := o.db.CommitAndRelease(tx); err != nil {
			return Outcome{}, err
		}
		return replayOutcome(cachedStatus, cachedResponse), nil
	}

	// Fresh admission: the Quota Gate runs only here, never on a replay.
	spendOK, limit, remaining, reset, err := o.gate.Spend(tx, req.BucketID, now)
	if err != nil {
		o.db.RollbackAndRelease(tx)
		return Outcome{}, err
	}
	rateLimit := RateLimitInfo{Limit: limit, Remaining: remaining, Reset: reset, Present: true}
	if !spendOK {
		o.db.RollbackAndRelease(tx)
		return Outcome{StatusCode: 429, RateLimit: rateLimit}, nil
	}

	counts := domain.RejectedCounts{}
	accepted := 0
	for _, seg := range req.Segments {
		reason, ok, err := o.processSegment(tx, req, seg, now)
		if err != nil {
			o.db.RollbackAndRelease(tx)
			return Outcome{}, err
		}
		if ok {
			accepted++
			continue
		}
		bumpReason(&counts, reason)
	}

	resp := domain.IngestResponse{
		AcceptedSegments: accepted,
		RejectedSegments: counts.Total(),
		RejectedByReason: counts,
	}

	status := 200
	if accepted == 0 && counts.Total() > 0 {
		// A request where every segment was rejected fails at request
		// granularity, not just per-segment.
		status = 422
	}

	respBytes, err := encodeResponse(resp)
	if err != nil {
		o.db.RollbackAndRelease(tx)
		return Outcome{}, err
	}
	if err := o.idem.Commit(tx, idemKey, status, respBytes); err != nil {
		o.db.RollbackAndRelease(tx)
		return Outcome{}, err
	}
	if err := o.db.CommitAndRelease(tx); err != nil {
		return Outcome{}, err
	}

	return Outcome{Response: resp, StatusCode: status, RateLimit: rateLimit}, nil
}

// processSegment applies the per-segment admission gates in order. The
// returned reason is only meaningful when ok is false; a non-nil err means
// a storage failure occurred and the caller must abort the enclosing
// transaction rather than recording a per-segment rejection for it.
func (o *Orchestrator) processSegment(tx domain.StoreTx, req domain.IngestRequest, seg domain.SegmentObservation, now time.Time) (domain.RejectionReason, bool, error) {
	if seg.ObservedAt.Before(now.Add(-o.cfg.StaleWindow)) || seg.ObservedAt.After(now) {
		o.recordRejection(tx, nil, nil, domain.ReasonStaleTimestamp, seg.DurationSec, req.BucketID, now)
		return domain.ReasonStaleTimestamp, false, nil
	}

	if seg.HasMapMatch && seg.MapMatchConf < o.cfg.MapMatchMinConf {
		o.recordRejection(tx, nil, nil, domain.ReasonLowConfidence, seg.DurationSec, req.BucketID, now)
		return domain.ReasonLowConfidence, false, nil
	}

	segmentID, found := o.registry.Lookup(req.RouteID, req.DirectionID, seg.FromStopID, seg.ToStopID)
	if !found {
		o.recordRejection(tx, nil, nil, domain.ReasonInvalidSegment, seg.DurationSec, req.BucketID, now)
		return domain.ReasonInvalidSegment, false, nil
	}

	binID := binmapper.BinID(seg.ObservedAt, seg.IsHoliday)

	accepted, reason, err := o.updater.Apply(tx, segmentID, binID, seg.DurationSec, seg.ObservedAt)
	if err != nil {
		// A genuine storage failure must abort the whole enclosing
		// transaction, not get recoded as a per-segment rejection that
		// would otherwise still let the request commit.
		return "", false, err
	}
	if !accepted {
		o.recordRejection(tx, &segmentID, &binID, reason, seg.DurationSec, req.BucketID, now)
		return reason, false, nil
	}
	if err := recordRideAudit(o.db, tx, segmentID, binID, seg.DurationSec, seg.ObservedAt, now); err != nil {
		return "", false, err
	}
	return "", true, nil
}

func (o *Orchestrator) recordRejection(tx domain.StoreTx, segmentID *int64, binID *int, reason domain.RejectionReason, observed float64, bucketID string, now time.Time) {
	sqliteTx, ok := tx.(*sqlite.Tx)
	if !ok {
		return
	}
	_ = o.db.RecordRejectionTx(sqliteTx, domain.RejectionEntry{
		SegmentID: segmentID,
		BinID:     binID,
		Reason:    reason,
		Observed:  observed,
		BucketID:  bucketID,
		Timestamp: now,
	})
}

func recordRideAudit(db *sqlite.DB, tx domain.StoreTx, segmentID int64, binID int, durationSec float64, observedAt, acceptedAt time.Time) error {
	sqliteTx, ok := tx.(*sqlite.Tx)
	if !ok {
		return nil
	}
	return db.RecordRideAuditTx(sqliteTx, segmentID, binID, durationSec, observedAt, acceptedAt)
}

func bumpReason(counts *domain.RejectedCounts, reason domain.RejectionReason) {
	switch reason {
	case domain.ReasonOutlier:
		counts.Outlier++
	case domain.ReasonLowConfidence:
		counts.LowConfidence++
	case domain.ReasonInvalidSegment:
		counts.InvalidSegment++
	case domain.ReasonStaleTimestamp:
		counts.StaleTimestamp++
	case domain.ReasonTooManySegments:
		counts.TooManySegments++
	}
}

func replayOutcome(status int, cached []byte) Outcome {
	resp, err := decodeResponse(cached)
	if err != nil {
		return Outcome{StatusCode: status}
	}
	return Outcome{Response: resp, StatusCode: status}
}

// ValidateShape implements the request's first admission step:
// non-transactional shape and range checks, including the
// too_many_segments single-rejection case.
// It returns ok=false with a populated single-reason IngestResponse when the
// request must be rejected before a transaction is even opened.
func ValidateShape(req domain.IngestRequest, maxSegments int) (domain.IngestResponse, bool) {
	if len(req.Segments) == 0 || len(req.Segments) > maxSegments {
		return domain.IngestResponse{
			RejectedSegments: 1,
			RejectedByReason: domain.RejectedCounts{TooManySegments: 1},
		}, false
	}
	return domain.IngestResponse{}, true
}
