package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citytransit/etalearn/internal/binmapper"
	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/idempotency"
	"github.com/citytransit/etalearn/internal/infra/observability"
	"github.com/citytransit/etalearn/internal/ingest"
)

const maxRideSummaryBody = 1 << 20 // 1 MiB; well above any realistic 50-segment body

// handleRideSummary implements POST /v1/ride_summary (§6, §4.8). Shape
// validation runs before any transaction is opened, matching the state
// machine's first step.
func (s *Server) handleRideSummary(w http.ResponseWriter, r *http.Request) {
	observability.IngestRequestsTotal.Inc()

	idemKey := r.Header.Get("Idempotency-Key")
	if _, err := uuid.Parse(idemKey); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "Idempotency-Key header must be a UUID")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRideSummaryBody)
	var wire wireIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "malformed request body")
		return
	}

	req, ok := wire.toDomain()
	if !ok {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "request failed shape validation")
		return
	}
	req.BucketID = resolveBucketID(req.BucketID, r)

	if shapeResp, ok := ingest.ValidateShape(req, s.cfg.Ingest.MaxSegments); !ok {
		observability.SegmentsRejectedTotal.WithLabelValues("too_many_segments").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, shapeResp)
		return
	}

	bodyHash := idempotency.CanonicalBodyHash(req)

	outcome, err := s.orchestrator.Process(r.Context(), req, idemKey, bodyHash)
	if err != nil {
		observability.StoreErrorsTotal.Inc()
		writeError(w, http.StatusInternalServerError, domain.CodeServerError, err.Error())
		return
	}

	if outcome.RateLimit.Present {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(outcome.RateLimit.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(outcome.RateLimit.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(outcome.RateLimit.Reset.Unix(), 10))
	}

	switch outcome.StatusCode {
	case 409:
		observability.IdempotencyConflictsTotal.Inc()
		writeError(w, http.StatusConflict, domain.CodeConflict, "idempotency key reused with a different body")
		return
	case 429:
		observability.QuotaDeniedTotal.Inc()
		writeError(w, http.StatusTooManyRequests, domain.CodeRateLimited, "rate limit exceeded")
		return
	}

	observability.SegmentsAcceptedTotal.Add(float64(outcome.Response.AcceptedSegments))
	bumpRejectionMetrics(outcome.Response.RejectedByReason)

	writeJSON(w, outcome.StatusCode, outcome.Response)
}

func bumpRejectionMetrics(c domain.RejectedCounts) {
	observability.SegmentsRejectedTotal.WithLabelValues("outlier").Add(float64(c.Outlier))
	observability.SegmentsRejectedTotal.WithLabelValues("low_confidence").Add(float64(c.LowConfidence))
	observability.SegmentsRejectedTotal.WithLabelValues("invalid_segment").Add(float64(c.InvalidSegment))
	observability.SegmentsRejectedTotal.WithLabelValues("stale_timestamp").Add(float64(c.StaleTimestamp))
}

// resolveBucketID falls back to an IP-derived bucket id when the client
// omits the opaque bucket token or sends only whitespace (§4.7). Any
// other value is used as given; its format is not checked.
func resolveBucketID(bucketID string, r *http.Request) string {
	bucketID = strings.TrimSpace(bucketID)
	if bucketID != "" {
		return bucketID
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return "ip:" + host
}

// handleETA implements GET /v1/eta (§6, §4.5).
func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	observability.ETAQueriesTotal.Inc()

	q := r.URL.Query()
	routeID := q.Get("route_id")
	fromStopID := q.Get("from_stop_id")
	toStopID := q.Get("to_stop_id")
	directionID, err := strconv.Atoi(q.Get("direction_id"))
	if routeID == "" || fromStopID == "" || toStopID == "" || err != nil || (directionID != 0 && directionID != 1) {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "route_id, direction_id, from_stop_id, to_stop_id are required")
		return
	}

	when := time.Now().UTC()
	if raw := q.Get("when"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "when must be RFC3339")
			return
		}
		when = parsed.UTC()
	}

	segmentID, found := s.registry.Lookup(routeID, directionID, fromStopID, toStopID)
	if !found {
		writeError(w, http.StatusNotFound, domain.CodeNotFound, "segment not found")
		return
	}

	binID := binmapper.BinID(when, false)
	estimate, err := s.estimator.Estimate(r.Context(), segmentID, binID, when)
	if err != nil {
		if errors.Is(err, domain.ErrNoScheduleData) {
			writeError(w, http.StatusNotFound, domain.CodeNotFound, "no schedule baseline for this segment/bin")
			return
		}
		observability.StoreErrorsTotal.Inc()
		writeError(w, http.StatusInternalServerError, domain.CodeServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toWireETA(estimate))
}
