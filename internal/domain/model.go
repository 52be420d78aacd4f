// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"math"
	"time"
)

// ─── Time Bins ──────────────────────────────────────────────────────────────

// DayType splits the week into the two calendars the schedule baseline and
// the learned statistics are partitioned by.
type DayType int

const (
	Weekday DayType = iota
	Weekend
)

func (d DayType) String() string {
	if d == Weekend {
		return "weekend"
	}
	return "weekday"
}

// BinsPerDayType is the number of 15-minute slots in one day-type calendar.
const BinsPerDayType = 96

// TotalBins is the size of the bin_id codomain: 96 slots × {weekday, weekend}.
const TotalBins = 2 * BinsPerDayType

// TimeBin is the decoded form of a bin_id.
type TimeBin struct {
	DayType   DayType
	SlotOfDay int // [0, 96)
}

// BinID returns the deterministic [0,192) identifier for this bin.
func (b TimeBin) BinID() int {
	if b.DayType == Weekend {
		return BinsPerDayType + b.SlotOfDay
	}
	return b.SlotOfDay
}

// ─── Segment Registry ───────────────────────────────────────────────────────

// SegmentKey is the immutable natural key of a learnable segment.
type SegmentKey struct {
	RouteID     string
	DirectionID int // 0 or 1
	FromStopID  string
	ToStopID    string
}

// Segment is a directory entry assigning a stable surrogate ID to a
// natural key. Segments are created once at schedule import and never
// mutated or deleted while referenced.
type Segment struct {
	SegmentID int64
	Key       SegmentKey
}

// ─── Statistics Store ───────────────────────────────────────────────────────

// SegmentStat is the per-(segment_id, bin_id) learning cell.
type SegmentStat struct {
	SegmentID int64
	BinID     int

	N  int64   // observation count
	M1 float64 // running mean, seconds
	M2 float64 // sum of squared deviations from the running mean

	EMAMean float64 // exponentially weighted mean, seconds
	EMAVar  float64 // exponentially weighted variance

	ScheduleMeanSec float64 // static schedule baseline, seconds; always > 0
	LastUpdate      time.Time
}

// Variance returns the population variance implied by M2, or 0 if N<2.
func (s SegmentStat) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	return s.M2 / float64(s.N)
}

// StdDev returns sqrt(Variance()), treating N<2 as zero spread.
func (s SegmentStat) StdDev() float64 {
	v := s.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// ─── Confidence ─────────────────────────────────────────────────────────────

// Confidence categorizes the reliability of a learned estimate by sample
// count.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor classifies n by sample-count thresholds.
func ConfidenceFor(n int64) Confidence {
	switch {
	case n >= 8:
		return ConfidenceHigh
	case n >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ETAEstimate is the output of the ETA Estimator.
type ETAEstimate struct {
	ETASec      float64
	P50Sec      float64
	P90Sec      float64
	N           int64
	BlendWeight float64
	ScheduleSec float64
	Confidence  Confidence
	BinID       int
	LastUpdated time.Time
}

// ─── Rejection reasons ──────────────────────────────────────────────────────

// RejectionReason is the closed set of reasons a submitted segment
// observation is not applied to the Statistics Store.
type RejectionReason string

const (
	ReasonOutlier         RejectionReason = "outlier"
	ReasonLowConfidence   RejectionReason = "low_confidence"
	ReasonInvalidSegment  RejectionReason = "invalid_segment"
	ReasonStaleTimestamp  RejectionReason = "stale_timestamp"
	ReasonTooManySegments RejectionReason = "too_many_segments"
)

// RejectionEntry is an append-only audit row for a rejected observation.
type RejectionEntry struct {
	ID        int64
	SegmentID *int64 // nil when the segment tuple itself was unresolved
	BinID     *int
	Reason    RejectionReason
	Observed  float64 // the rejected duration_sec, 0 if not applicable
	BucketID  string
	Timestamp time.Time
}

// RideAudit is the optional, retention-bound record of an accepted
// segment observation, kept for replay/auditing.
type RideAudit struct {
	ID         int64
	SegmentID  int64
	BinID      int
	DurationSec float64
	ObservedAt time.Time
	AcceptedAt time.Time
}

// ─── Idempotency ────────────────────────────────────────────────────────────

// IdempotencyRecord is the at-most-once gate row keyed by a client-chosen
// idempotency key.
type IdempotencyRecord struct {
	IdemKey     string
	BodyHash    [32]byte
	AcceptedAt  time.Time
	StatusCode  int
	Response    []byte // canonical JSON of the cached response body
	HasResponse bool   // false between begin() and commit()
}

// ─── Quota ──────────────────────────────────────────────────────────────────

// QuotaBucket is a persisted token bucket row keyed by an opaque client
// bucket id (or an IP-derived fallback).
type QuotaBucket struct {
	BucketID   string
	Tokens     int
	LastRefill time.Time
}

// ─── Ingestion request/response shapes ──────────────────────────────────────

// SegmentObservation is one stop-to-stop ride summary within a submission.
type SegmentObservation struct {
	FromStopID    string
	ToStopID      string
	DurationSec   float64
	DwellSec      float64 // optional, 0 if absent
	HasMapMatch   bool
	MapMatchConf  float64 // only meaningful if HasMapMatch
	ObservedAt    time.Time
	IsHoliday     bool // per-observation holiday flag, default false
}

// IngestRequest is the shape-validated body of POST /v1/ride_summary.
type IngestRequest struct {
	RouteID     string
	DirectionID int
	BucketID    string
	Segments    []SegmentObservation
}

// RejectedCounts tallies rejections by reason for a single request.
type RejectedCounts struct {
	Outlier         int `json:"outlier"`
	LowConfidence   int `json:"low_confidence"`
	InvalidSegment  int `json:"invalid_segment"`
	StaleTimestamp  int `json:"stale_timestamp"`
	TooManySegments int `json:"too_many_segments"`
}

// Total returns the sum of all rejection reasons.
func (c RejectedCounts) Total() int {
	return c.Outlier + c.LowConfidence + c.InvalidSegment + c.StaleTimestamp + c.TooManySegments
}

// IngestResponse is the counts summary returned for an admitted request,
// whether freshly processed or replayed from the idempotency cache.
type IngestResponse struct {
	AcceptedSegments int             `json:"accepted_segments"`
	RejectedSegments int             `json:"rejected_segments"`
	RejectedByReason RejectedCounts  `json:"rejected_by_reason"`
}
