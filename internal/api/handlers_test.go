package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/citytransit/etalearn/internal/daemon"
	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/idempotency"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
	"github.com/citytransit/etalearn/internal/ingest"
	"github.com/citytransit/etalearn/internal/quota"
	"github.com/citytransit/etalearn/internal/registry"
	"github.com/citytransit/etalearn/internal/stats"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:", BusyTimeout: 0})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	key := domain.SegmentKey{RouteID: "42", DirectionID: 0, FromStopID: "A", ToStopID: "B"}
	schedule := make(map[int]float64, domain.TotalBins)
	for bin := 0; bin < domain.TotalBins; bin++ {
		schedule[bin] = 320
	}
	if _, err := db.SeedSegment(key, schedule); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := registry.New(db)
	if err := reg.Load(); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	statsCfg := stats.DefaultConfig()
	updater := stats.NewUpdater(db, statsCfg)
	estimator := stats.NewEstimator(db, statsCfg)
	idem := idempotency.New(db)
	gate := quota.New(db, quota.DefaultConfig())
	orch := ingest.New(db, ingest.DefaultConfig(), reg, updater, idem, gate)

	cfg := daemon.DefaultConfig()
	cfg.Auth.BearerToken = "test-token"

	return NewServer(cfg, orch, estimator, gate, reg, db)
}

func TestHandleETA_ColdQueryFallsBackToSchedule(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/eta?route_id=42&direction_id=0&from_stop_id=A&to_stop_id=B&when=2024-01-01T14:30:00Z", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp wireETAResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ETASec != 320.0 {
		t.Fatalf("eta_sec = %v, want 320.0", resp.ETASec)
	}
	if resp.Confidence != "low" {
		t.Fatalf("confidence = %q, want low", resp.Confidence)
	}
}

func TestHandleETA_UnknownSegmentIs404(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/eta?route_id=99&direction_id=0&from_stop_id=Z&to_stop_id=Q", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleRideSummary_RequiresBearerToken(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/ride_summary", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func ingestBody(t *testing.T, when time.Time) []byte {
	t.Helper()
	body := map[string]any{
		"route_id":     "42",
		"direction_id": 0,
		"bucket_id":    "client-a",
		"segments": []map[string]any{
			{
				"from_stop_id": "A",
				"to_stop_id":   "B",
				"duration_sec": 280.0,
				"observed_at":  when.Format(time.RFC3339),
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandleRideSummary_AcceptsFreshSubmission(t *testing.T) {
	s := setupTestServer(t)
	body := ingestBody(t, time.Now().UTC())

	req := httptest.NewRequest(http.MethodPost, "/v1/ride_summary", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Idempotency-Key", "5b1e6b2a-6b8a-4e3d-9f8b-9f3c9f1a2b3c")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected X-RateLimit-Limit header on admitted POST")
	}
	var resp domain.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AcceptedSegments != 1 {
		t.Fatalf("accepted = %d, want 1", resp.AcceptedSegments)
	}
}

func TestHandleRideSummary_RejectsMissingIdempotencyKey(t *testing.T) {
	s := setupTestServer(t)
	body := ingestBody(t, time.Now().UTC())

	req := httptest.NewRequest(http.MethodPost, "/v1/ride_summary", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing Idempotency-Key", w.Code)
	}
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
