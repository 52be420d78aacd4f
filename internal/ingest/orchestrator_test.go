package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/idempotency"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
	"github.com/citytransit/etalearn/internal/quota"
	"github.com/citytransit/etalearn/internal/registry"
	"github.com/citytransit/etalearn/internal/stats"
)

// failingUpdater always reports a storage failure, to exercise the path
// where a genuine error out of the Learning Updater must abort the
// whole transaction rather than get recoded as a segment rejection.
type failingUpdater struct{}

func (failingUpdater) Apply(tx domain.StoreTx, segmentID int64, binID int, durationSec float64, observedAt time.Time) (bool, domain.RejectionReason, error) {
	return false, "", errors.New("disk full")
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *sqlite.DB, int64) {
	t.Helper()
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:", BusyTimeout: 0})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	key := domain.SegmentKey{RouteID: "42", DirectionID: 0, FromStopID: "A", ToStopID: "B"}
	segmentID, err := db.SeedSegment(key, map[int]float64{0: 300, 1: 300})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := registry.New(db)
	if err := reg.Load(); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	updater := stats.NewUpdater(db, stats.DefaultConfig())
	idem := idempotency.New(db)
	gate := quota.New(db, quota.DefaultConfig())

	orch := New(db, DefaultConfig(), reg, updater, idem, gate)
	return orch, db, segmentID
}

func TestOrchestrator_AcceptsFreshSubmission(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	req := domain.IngestRequest{
		RouteID: "42", DirectionID: 0, BucketID: "client-1",
		Segments: []domain.SegmentObservation{
			{FromStopID: "A", ToStopID: "B", DurationSec: 280, ObservedAt: now},
		},
	}
	hash := idempotency.CanonicalBodyHash(req)

	out, err := orch.Process(context.Background(), req, "idem-a", hash)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", out.StatusCode)
	}
	if out.Response.AcceptedSegments != 1 {
		t.Fatalf("accepted = %d, want 1", out.Response.AcceptedSegments)
	}
}

func TestOrchestrator_ReplayReturnsCachedResponse(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	req := domain.IngestRequest{
		RouteID: "42", DirectionID: 0, BucketID: "client-2",
		Segments: []domain.SegmentObservation{
			{FromStopID: "A", ToStopID: "B", DurationSec: 280, ObservedAt: now},
		},
	}
	hash := idempotency.CanonicalBodyHash(req)

	first, err := orch.Process(context.Background(), req, "idem-b", hash)
	if err != nil {
		t.Fatalf("process first: %v", err)
	}

	second, err := orch.Process(context.Background(), req, "idem-b", hash)
	if err != nil {
		t.Fatalf("process replay: %v", err)
	}
	if second.Response.AcceptedSegments != first.Response.AcceptedSegments {
		t.Fatalf("replay response mismatch: first=%+v second=%+v", first.Response, second.Response)
	}
}

func TestOrchestrator_ConflictOnDifferentBodySameKey(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	req1 := domain.IngestRequest{RouteID: "42", DirectionID: 0, BucketID: "client-3", Segments: []domain.SegmentObservation{
		{FromStopID: "A", ToStopID: "B", DurationSec: 280, ObservedAt: now},
	}}
	req2 := req1
	req2.Segments = []domain.SegmentObservation{
		{FromStopID: "A", ToStopID: "B", DurationSec: 500, ObservedAt: now},
	}

	if _, err := orch.Process(context.Background(), req1, "idem-c", idempotency.CanonicalBodyHash(req1)); err != nil {
		t.Fatalf("process first: %v", err)
	}
	out, err := orch.Process(context.Background(), req2, "idem-c", idempotency.CanonicalBodyHash(req2))
	if err != nil {
		t.Fatalf("process second: %v", err)
	}
	if out.StatusCode != 409 {
		t.Fatalf("status = %d, want 409", out.StatusCode)
	}
}

func TestOrchestrator_StaleTimestampRejectedAndAllStaleIs422(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	req := domain.IngestRequest{
		RouteID: "42", DirectionID: 0, BucketID: "client-4",
		Segments: []domain.SegmentObservation{
			{FromStopID: "A", ToStopID: "B", DurationSec: 280, ObservedAt: now.Add(-30 * 24 * time.Hour)},
		},
	}
	hash := idempotency.CanonicalBodyHash(req)

	out, err := orch.Process(context.Background(), req, "idem-d", hash)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.StatusCode != 422 {
		t.Fatalf("status = %d, want 422 when every segment is stale", out.StatusCode)
	}
	if out.Response.RejectedByReason.StaleTimestamp != 1 {
		t.Fatalf("expected stale_timestamp rejection, got %+v", out.Response.RejectedByReason)
	}
}

func TestOrchestrator_InvalidSegmentUnknownTuple(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	req := domain.IngestRequest{
		RouteID: "42", DirectionID: 0, BucketID: "client-5",
		Segments: []domain.SegmentObservation{
			{FromStopID: "A", ToStopID: "ZZZ", DurationSec: 280, ObservedAt: now},
		},
	}
	hash := idempotency.CanonicalBodyHash(req)

	out, err := orch.Process(context.Background(), req, "idem-e", hash)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Response.RejectedByReason.InvalidSegment != 1 {
		t.Fatalf("expected invalid_segment rejection, got %+v", out.Response.RejectedByReason)
	}
}

func TestOrchestrator_StorageErrorAbortsTransaction(t *testing.T) {
	_, db, _ := newTestOrchestrator(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	reg := registry.New(db)
	if err := reg.Load(); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	idem := idempotency.New(db)
	gate := quota.New(db, quota.DefaultConfig())
	orch := New(db, DefaultConfig(), reg, failingUpdater{}, idem, gate)
	orch.now = func() time.Time { return now }

	req := domain.IngestRequest{
		RouteID: "42", DirectionID: 0, BucketID: "client-f",
		Segments: []domain.SegmentObservation{
			{FromStopID: "A", ToStopID: "B", DurationSec: 280, ObservedAt: now},
		},
	}
	hash := idempotency.CanonicalBodyHash(req)

	_, err := orch.Process(context.Background(), req, "idem-f", hash)
	if err == nil {
		t.Fatal("expected Process to surface the updater's storage error, got nil")
	}
}

func TestValidateShape_TooManySegments(t *testing.T) {
	segs := make([]domain.SegmentObservation, 51)
	req := domain.IngestRequest{Segments: segs}
	resp, ok := ValidateShape(req, 50)
	if ok {
		t.Fatalf("expected shape validation to fail for 51 segments with max 50")
	}
	if resp.RejectedByReason.TooManySegments != 1 {
		t.Fatalf("expected a single too_many_segments rejection, got %+v", resp.RejectedByReason)
	}
}

func TestValidateShape_EmptySegments(t *testing.T) {
	req := domain.IngestRequest{Segments: nil}
	_, ok := ValidateShape(req, 50)
	if ok {
		t.Fatalf("expected shape validation to fail for zero segments")
	}
}
