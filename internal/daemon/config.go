// Package daemon holds the service's top-level configuration: a TOML
// file overlaid with environment variables, organized into nested
// sections (API, Store, Stats, Ingest, Quota, Retention, Auth).
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig controls the embedded storage layer.
type StoreConfig struct {
	Path               string `toml:"path"`
	BusyTimeoutSeconds int    `toml:"busy_timeout_seconds"`
}

// StatsConfig mirrors the Learning Updater / ETA Estimator tunables.
type StatsConfig struct {
	N0              float64 `toml:"n0"`
	OutlierSigma    float64 `toml:"outlier_sigma"`
	HalfLifeDays    float64 `toml:"half_life_days"`
	EMAAlphaBase    float64 `toml:"ema_alpha_base"`
	MapMatchMinConf float64 `toml:"mapmatch_min_conf"`
}

// IngestConfig mirrors the Ingestion Orchestrator tunables.
type IngestConfig struct {
	MaxSegments        int `toml:"max_segments_per_ride"`
	StaleWindowHours   int `toml:"stale_window_hours"`
	RetryAttempts      int `toml:"retry_attempts"`
}

// QuotaConfig mirrors the Quota Gate tunables.
type QuotaConfig struct {
	Capacity      int `toml:"rate_limit_per_hour"`
	WindowSeconds int `toml:"window_seconds"`
}

// RetentionConfig mirrors the per-table retention windows.
type RetentionConfig struct {
	IdempotencyTTLHours int `toml:"idempotency_ttl_hours"`
	QuotaIdleHours      int `toml:"quota_idle_hours"`
	RejectionDays       int `toml:"rejection_retention_days"`
	RideAuditDays       int `toml:"ride_audit_retention_days"`
}

// IdempotencyTTL derives the idempotency sweep window from the
// configured hour count.
func (r RetentionConfig) IdempotencyTTL() time.Duration {
	return time.Duration(r.IdempotencyTTLHours) * time.Hour
}

// AuthConfig holds the bearer token required on POST /v1/ride_summary.
// It is the one tunable that is not optional.
type AuthConfig struct {
	BearerToken string `toml:"bearer_token"`
}

// Config is the full service configuration.
type Config struct {
	API                 APIConfig       `toml:"api"`
	Store               StoreConfig     `toml:"store"`
	Stats               StatsConfig     `toml:"stats"`
	Ingest              IngestConfig    `toml:"ingest"`
	Quota               QuotaConfig     `toml:"quota"`
	Retention           RetentionConfig `toml:"retention"`
	Auth                AuthConfig      `toml:"auth"`
	ScheduleFeedVersion string          `toml:"schedule_feed_version"`
}

// DefaultConfig returns the service's numeric defaults.
func DefaultConfig() Config {
	cfg := Config{
		API:   APIConfig{Host: "127.0.0.1", Port: 8080},
		Store: StoreConfig{Path: "etalearn.db", BusyTimeoutSeconds: 5},
		Stats: StatsConfig{
			N0:              20,
			OutlierSigma:    3.0,
			HalfLifeDays:    30,
			EMAAlphaBase:    0.1,
			MapMatchMinConf: 0.7,
		},
		Ingest: IngestConfig{MaxSegments: 50, StaleWindowHours: 7 * 24, RetryAttempts: 3},
		Quota:  QuotaConfig{Capacity: 500, WindowSeconds: 3600},
		Retention: RetentionConfig{
			IdempotencyTTLHours: 24,
			QuotaIdleHours:      24,
			RejectionDays:       30,
			RideAuditDays:       90,
		},
		ScheduleFeedVersion: "unversioned",
	}
	return cfg
}

// Load reads path as TOML over DefaultConfig, then overlays recognized
// environment variables (ETALEARN_<FIELD>, e.g. ETALEARN_N0,
// ETALEARN_STORE_PATH, ETALEARN_BEARER_TOKEN) using a file-then-env
// precedence.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ETALEARN_BEARER_TOKEN"); v != "" {
		cfg.Auth.BearerToken = v
	}
	if v := os.Getenv("ETALEARN_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ETALEARN_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}
	if v := os.Getenv("ETALEARN_N0"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Stats.N0 = n
		}
	}
	if v := os.Getenv("ETALEARN_HALF_LIFE_DAYS"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Stats.HalfLifeDays = n
		}
	}
	if v := os.Getenv("ETALEARN_RATE_LIMIT_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.Capacity = n
		}
	}
	if v := os.Getenv("ETALEARN_EMA_ALPHA_BASE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Stats.EMAAlphaBase = n
		}
	}
	if v := os.Getenv("ETALEARN_OUTLIER_SIGMA"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Stats.OutlierSigma = n
		}
	}
	if v := os.Getenv("ETALEARN_MAPMATCH_MIN_CONF"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Stats.MapMatchMinConf = n
		}
	}
	if v := os.Getenv("ETALEARN_MAX_SEGMENTS_PER_RIDE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.MaxSegments = n
		}
	}
	if v := os.Getenv("ETALEARN_IDEMPOTENCY_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.IdempotencyTTLHours = n
		}
	}
	if v := os.Getenv("ETALEARN_QUOTA_IDLE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.QuotaIdleHours = n
		}
	}
	if v := os.Getenv("ETALEARN_REJECTION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.RejectionDays = n
		}
	}
	if v := os.Getenv("ETALEARN_RIDE_AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.RideAuditDays = n
		}
	}
}
