// Package registry implements the Segment Registry: the
// immutable directory of learnable segments. It is populated once by the
// external schedule importer and is read-only at steady state, so this
// package caches the entire directory in memory and serves lookups
// without a storage round trip on the hot ingestion path.
//
// It wraps a *sqlite.DB and an in-memory natural-key index.
package registry

import (
	"fmt"
	"sync"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

// Registry is the read path for segment identity.
type Registry struct {
	db *sqlite.DB

	mu    sync.RWMutex
	byKey map[domain.SegmentKey]int64
}

// New creates a Registry backed by db. Call Load once at startup.
func New(db *sqlite.DB) *Registry {
	return &Registry{db: db, byKey: make(map[domain.SegmentKey]int64)}
}

// Load populates the in-memory cache from storage. Safe to call again to
// pick up segments seeded by the importer after startup.
func (r *Registry) Load() error {
	segments, err := r.db.ListSegments()
	if err != nil {
		return fmt.Errorf("load segment registry: %w", err)
	}

	index := make(map[domain.SegmentKey]int64, len(segments))
	for _, s := range segments {
		index[s.Key] = s.SegmentID
	}

	r.mu.Lock()
	r.byKey = index
	r.mu.Unlock()
	return nil
}

// Lookup resolves a natural key to its surrogate segment_id. A miss
// means the caller must treat the segment as invalid.
func (r *Registry) Lookup(routeID string, directionID int, fromStopID, toStopID string) (int64, bool) {
	key := domain.SegmentKey{RouteID: routeID, DirectionID: directionID, FromStopID: fromStopID, ToStopID: toStopID}

	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return id, true
	}

	// The importer may have seeded a segment after our last Load(); fall
	// back to storage once before reporting a miss, then refresh the
	// cache so subsequent lookups for the same key stay in memory.
	id, ok, err := r.db.LookupSegment(routeID, directionID, fromStopID, toStopID)
	if err != nil || !ok {
		return 0, false
	}

	r.mu.Lock()
	r.byKey[key] = id
	r.mu.Unlock()
	return id, true
}

// Size returns the number of cached segments, for health/diagnostics.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

var _ domain.SegmentRegistry = (*Registry)(nil)
