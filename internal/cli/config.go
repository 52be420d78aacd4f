package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON",
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"n0":                    cfg.Stats.N0,
		"time_bin_minutes":      15,
		"half_life_days":        cfg.Stats.HalfLifeDays,
		"ema_alpha_base":        cfg.Stats.EMAAlphaBase,
		"outlier_sigma":         cfg.Stats.OutlierSigma,
		"mapmatch_min_conf":     cfg.Stats.MapMatchMinConf,
		"max_segments_per_ride": cfg.Ingest.MaxSegments,
		"rate_limit_per_hour":   cfg.Quota.Capacity,
		"idempotency_ttl_hours": cfg.Retention.IdempotencyTTLHours,
		"schedule_feed_version": cfg.ScheduleFeedVersion,
	})
}
