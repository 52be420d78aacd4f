package api

import (
	"time"

	"github.com/citytransit/etalearn/internal/domain"
)

// wireSegment is the JSON shape of one segment observation in the
// request body of POST /v1/ride_summary (§4.8, §6).
type wireSegment struct {
	FromStopID   string   `json:"from_stop_id"`
	ToStopID     string   `json:"to_stop_id"`
	DurationSec  float64  `json:"duration_sec"`
	DwellSec     float64  `json:"dwell_sec"`
	MapMatchConf *float64 `json:"mapmatch_conf"`
	ObservedAt   string   `json:"observed_at"`
	IsHoliday    bool     `json:"is_holiday"`
}

// wireIngestRequest is the JSON shape of the POST /v1/ride_summary body.
type wireIngestRequest struct {
	RouteID     string        `json:"route_id"`
	DirectionID int           `json:"direction_id"`
	BucketID    string        `json:"bucket_id"`
	Segments    []wireSegment `json:"segments"`
}

// toDomain converts the wire shape into domain.IngestRequest, parsing
// timestamps. ok is false when any field is shaped wrong enough that
// §4.8 step 1 ("shape validation") must reject the whole request with
// invalid_request, before a transaction is ever opened.
func (w wireIngestRequest) toDomain() (domain.IngestRequest, bool) {
	if w.RouteID == "" || (w.DirectionID != 0 && w.DirectionID != 1) {
		return domain.IngestRequest{}, false
	}

	segments := make([]domain.SegmentObservation, 0, len(w.Segments))
	for _, s := range w.Segments {
		if s.FromStopID == "" || s.ToStopID == "" {
			return domain.IngestRequest{}, false
		}
		observedAt, err := time.Parse(time.RFC3339, s.ObservedAt)
		if err != nil {
			return domain.IngestRequest{}, false
		}
		obs := domain.SegmentObservation{
			FromStopID:  s.FromStopID,
			ToStopID:    s.ToStopID,
			DurationSec: s.DurationSec,
			DwellSec:    s.DwellSec,
			ObservedAt:  observedAt.UTC(),
			IsHoliday:   s.IsHoliday,
		}
		if s.MapMatchConf != nil {
			obs.HasMapMatch = true
			obs.MapMatchConf = *s.MapMatchConf
		}
		segments = append(segments, obs)
	}

	return domain.IngestRequest{
		RouteID:     w.RouteID,
		DirectionID: w.DirectionID,
		BucketID:    w.BucketID,
		Segments:    segments,
	}, true
}

// wireETAResponse is the JSON shape of a successful GET /v1/eta response
// (§4.5).
type wireETAResponse struct {
	ETASec      float64 `json:"eta_sec"`
	P50Sec      float64 `json:"p50_sec"`
	P90Sec      float64 `json:"p90_sec"`
	N           int64   `json:"n"`
	BlendWeight float64 `json:"blend_weight"`
	ScheduleSec float64 `json:"schedule_sec"`
	Confidence  string  `json:"confidence"`
	BinID       int     `json:"bin_id"`
	LastUpdated string  `json:"last_updated,omitempty"`
}

func toWireETA(e domain.ETAEstimate) wireETAResponse {
	resp := wireETAResponse{
		ETASec:      e.ETASec,
		P50Sec:      e.P50Sec,
		P90Sec:      e.P90Sec,
		N:           e.N,
		BlendWeight: e.BlendWeight,
		ScheduleSec: e.ScheduleSec,
		Confidence:  string(e.Confidence),
		BinID:       e.BinID,
	}
	if !e.LastUpdated.IsZero() {
		resp.LastUpdated = e.LastUpdated.UTC().Format(time.RFC3339)
	}
	return resp
}
