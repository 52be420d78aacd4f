// Package stats implements the Statistics Store's learning state
// transitions, the Learning Updater, and the ETA Estimator: the
// numerical core of the service.
//
// The exponential-decay estimator is applyDecay in updater.go: the
// fixed-alpha EMA update form, with the effective alpha derived from the
// time elapsed since the cell's last update. It keeps no state of its
// own; ema_mean and ema_var live in the stored cell.
package stats

import "time"

// Config holds the learning and ingestion tunables exposed as
// configuration. All are optional; DefaultConfig matches the production
// numeric defaults.
type Config struct {
	N0              float64       // blend weight midpoint, default 20
	OutlierSigma    float64       // k in the outlier test, default 3.0
	HalfLifeDays    float64       // EMA half-life H in days, default 30
	EMAAlphaBase    float64       // alpha_base, default 0.1
	MapMatchMinConf float64       // minimum accepted map-match confidence, default 0.7
	MaxSegments     int           // max segments per ride submission, default 50
	StaleWindow     time.Duration // observed_at must lie within [now-window, now], default 7 days
}

// DefaultConfig returns the production numeric defaults.
func DefaultConfig() Config {
	return Config{
		N0:              20,
		OutlierSigma:    3.0,
		HalfLifeDays:    30,
		EMAAlphaBase:    0.1,
		MapMatchMinConf: 0.7,
		MaxSegments:     50,
		StaleWindow:     7 * 24 * time.Hour,
	}
}
