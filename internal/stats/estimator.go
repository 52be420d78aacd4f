package stats

import (
	"context"
	"math"
	"time"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

// Estimator is the ETA Estimator: it blends the learned mean with
// the schedule baseline and derives confidence-aware percentiles.
type Estimator struct {
	db  *sqlite.DB
	cfg Config
}

// NewEstimator constructs an ETA Estimator backed by db.
func NewEstimator(db *sqlite.DB, cfg Config) *Estimator {
	return &Estimator{db: db, cfg: cfg}
}

// Estimate implements domain.ETAEstimator. when selects the bin via the
// caller's bin mapping before this is invoked; the estimator itself is a
// pure function of the stored cell and ignores when directly.
func (e *Estimator) Estimate(_ context.Context, segmentID int64, binID int, _ time.Time) (domain.ETAEstimate, error) {
	cell, found, err := e.db.GetStat(segmentID, binID)
	if err != nil {
		return domain.ETAEstimate{}, err
	}
	if !found {
		return domain.ETAEstimate{}, domain.ErrNoScheduleData
	}
	return blend(cell, e.cfg), nil
}

// blend implements the schedule/learned-mean blend in isolation, so it
// is testable without a storage round trip.
func blend(cell domain.SegmentStat, cfg Config) domain.ETAEstimate {
	n := float64(cell.N)
	w := 0.0
	if cell.N > 0 {
		w = n / (n + cfg.N0)
	}

	etaSec := w*cell.M1 + (1-w)*cell.ScheduleMeanSec

	divisor := float64(cell.N)
	if divisor < 1 {
		divisor = 1
	}
	sigma := 0.0
	if cell.N >= 2 {
		sigma = math.Sqrt(cell.M2 / divisor)
	}

	confidence := domain.ConfidenceFor(cell.N)

	c := 1.28
	if confidence == domain.ConfidenceLow || confidence == domain.ConfidenceMedium {
		c = 1.5
	}

	return domain.ETAEstimate{
		ETASec:      etaSec,
		P50Sec:      etaSec,
		P90Sec:      etaSec + c*sigma,
		N:           cell.N,
		BlendWeight: w,
		ScheduleSec: cell.ScheduleMeanSec,
		Confidence:  confidence,
		BinID:       cell.BinID,
		LastUpdated: cell.LastUpdate,
	}
}

var _ domain.ETAEstimator = (*Estimator)(nil)
