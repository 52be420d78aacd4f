package registry

import (
	"testing"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:", BusyTimeout: 0})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegistry_LookupHitAndMiss(t *testing.T) {
	db := openTestDB(t)
	key := domain.SegmentKey{RouteID: "42", DirectionID: 0, FromStopID: "A", ToStopID: "B"}
	if _, err := db.SeedSegment(key, map[int]float64{58: 300}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := New(db)
	if err := reg.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	id, ok := reg.Lookup("42", 0, "A", "B")
	if !ok || id == 0 {
		t.Fatalf("expected hit, got id=%d ok=%v", id, ok)
	}

	if _, ok := reg.Lookup("42", 0, "A", "Z"); ok {
		t.Fatalf("expected miss for unknown tuple")
	}
}

func TestRegistry_LookupAfterLateSeed(t *testing.T) {
	db := openTestDB(t)
	reg := New(db)
	if err := reg.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	key := domain.SegmentKey{RouteID: "7", DirectionID: 1, FromStopID: "X", ToStopID: "Y"}
	if _, err := db.SeedSegment(key, map[int]float64{10: 120}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	id, ok := reg.Lookup("7", 1, "X", "Y")
	if !ok || id == 0 {
		t.Fatalf("expected fallback-to-storage hit after late seed, got id=%d ok=%v", id, ok)
	}
}
