// Package api provides the HTTP surface for the ETA learning service:
// POST /v1/ride_summary (authenticated ingestion), GET /v1/eta (public
// query), GET /v1/config (tunables), GET /v1/health, and /metrics.
//
// Built on a chi router plus middleware stack (request ID, real IP,
// recoverer, timeout), writeJSON/writeError response helpers, and a
// promhttp mount for metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citytransit/etalearn/internal/daemon"
	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/ingest"
	"github.com/citytransit/etalearn/internal/quota"
	"github.com/citytransit/etalearn/internal/stats"
)

// Pinger reports whether the storage layer is reachable.
type Pinger interface {
	Ping() error
}

// Server is the ETA learning service's HTTP API server.
type Server struct {
	cfg          daemon.Config
	orchestrator *ingest.Orchestrator
	estimator    *stats.Estimator
	gate         *quota.Gate
	registry     domain.SegmentRegistry
	db           Pinger
	startedAt    time.Time

	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(cfg daemon.Config, orchestrator *ingest.Orchestrator, estimator *stats.Estimator, gate *quota.Gate, registry domain.SegmentRegistry, db Pinger) *Server {
	return &Server{cfg: cfg, orchestrator: orchestrator, estimator: estimator, gate: gate, registry: registry, db: db, startedAt: time.Now()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/config", s.handleConfig)
	r.Get("/v1/eta", s.handleETA)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/v1/ride_summary", s.handleRideSummary)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	status := "ok"
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			dbOK = false
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"db_ok":      dbOK,
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"n0":                    s.cfg.Stats.N0,
		"time_bin_minutes":      15,
		"half_life_days":        s.cfg.Stats.HalfLifeDays,
		"ema_alpha_base":        s.cfg.Stats.EMAAlphaBase,
		"outlier_sigma":         s.cfg.Stats.OutlierSigma,
		"mapmatch_min_conf":     s.cfg.Stats.MapMatchMinConf,
		"max_segments_per_ride": s.cfg.Ingest.MaxSegments,
		"rate_limit_per_hour":   s.cfg.Quota.Capacity,
		"idempotency_ttl_hours": s.cfg.Retention.IdempotencyTTLHours,
		"schedule_feed_version": s.cfg.ScheduleFeedVersion,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code domain.Code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}
