package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/citytransit/etalearn/internal/api"
	"github.com/citytransit/etalearn/internal/idempotency"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
	"github.com/citytransit/etalearn/internal/ingest"
	"github.com/citytransit/etalearn/internal/logging"
	"github.com/citytransit/etalearn/internal/quota"
	"github.com/citytransit/etalearn/internal/registry"
	"github.com/citytransit/etalearn/internal/retention"
	"github.com/citytransit/etalearn/internal/stats"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("serve")

	db, err := sqlite.Open(sqlite.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: time.Duration(cfg.Store.BusyTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	reg := registry.New(db)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load segment registry: %w", err)
	}
	log.Info("segment registry loaded", "segments", reg.Size())

	statsCfg := stats.Config{
		N0:              cfg.Stats.N0,
		OutlierSigma:    cfg.Stats.OutlierSigma,
		HalfLifeDays:    cfg.Stats.HalfLifeDays,
		EMAAlphaBase:    cfg.Stats.EMAAlphaBase,
		MapMatchMinConf: cfg.Stats.MapMatchMinConf,
		MaxSegments:     cfg.Ingest.MaxSegments,
		StaleWindow:     time.Duration(cfg.Ingest.StaleWindowHours) * time.Hour,
	}
	updater := stats.NewUpdater(db, statsCfg)
	estimator := stats.NewEstimator(db, statsCfg)

	idem := idempotency.New(db)
	gate := quota.New(db, quota.Config{
		Capacity: cfg.Quota.Capacity,
		Window:   time.Duration(cfg.Quota.WindowSeconds) * time.Second,
	})

	orchCfg := ingest.Config{
		MaxSegments:     cfg.Ingest.MaxSegments,
		MapMatchMinConf: cfg.Stats.MapMatchMinConf,
		StaleWindow:     time.Duration(cfg.Ingest.StaleWindowHours) * time.Hour,
		RetryAttempts:   cfg.Ingest.RetryAttempts,
	}
	orch := ingest.New(db, orchCfg, reg, updater, idem, gate)

	sweeper := retention.New(db, retention.Windows{
		IdempotencyTTL: cfg.Retention.IdempotencyTTL(),
		QuotaIdle:      time.Duration(cfg.Retention.QuotaIdleHours) * time.Hour,
		RejectionAge:   time.Duration(cfg.Retention.RejectionDays) * 24 * time.Hour,
		RideAuditAge:   time.Duration(cfg.Retention.RideAuditDays) * 24 * time.Hour,
	})
	stop := make(chan struct{})
	defer close(stop)
	go sweeper.Run(stop, time.Hour)

	server := api.NewServer(cfg, orch, estimator, gate, reg, db)
	server.EnableMetrics()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	log.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, server.Handler())
}
