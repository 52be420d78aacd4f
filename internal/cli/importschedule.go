package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(importScheduleCmd)
	importScheduleCmd.Flags().String("feed", "", "path to the schedule feed manifest")
	importScheduleCmd.Flags().Bool("dry-run", false, "print the feed manifest instead of seeding the store")
}

// importScheduleCmd is a thin CLI wrapper around the external schedule
// importer named (but not implemented) in §1: "the static schedule
// importer ... populates segment identity and a per-bin schedule
// baseline from the transit feed." This command seeds the directly
// reachable storage surface (SeedSegment) for a feed already expressed
// as a manifest file; the feed's own parsing is the out-of-scope
// collaborator's job.
var importScheduleCmd = &cobra.Command{
	Use:   "importschedule",
	Short: "Seed segments and schedule baselines from a feed manifest (out-of-scope importer's storage surface)",
	RunE:  runImportSchedule,
}

// feedManifest is the shape this command expects for a pre-parsed feed.
// The real transit-feed parsing step lives in the out-of-scope importer;
// this command only owns the storage side of seeding.
type feedManifest struct {
	ScheduleFeedVersion string                `yaml:"schedule_feed_version"`
	Segments            []feedManifestSegment `yaml:"segments"`
}

type feedManifestSegment struct {
	RouteID       string          `yaml:"route_id"`
	DirectionID   int             `yaml:"direction_id"`
	FromStopID    string          `yaml:"from_stop_id"`
	ToStopID      string          `yaml:"to_stop_id"`
	ScheduleByBin map[int]float64 `yaml:"schedule_mean_sec_by_bin"`
}

func runImportSchedule(cmd *cobra.Command, args []string) error {
	feedPath, _ := cmd.Flags().GetString("feed")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if feedPath == "" {
		return fmt.Errorf("importschedule requires --feed <manifest.yaml>")
	}

	raw, err := os.ReadFile(feedPath)
	if err != nil {
		return fmt.Errorf("read feed manifest: %w", err)
	}

	var manifest feedManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parse feed manifest: %w", err)
	}

	if dryRun {
		preview, err := yaml.Marshal(manifest)
		if err != nil {
			return fmt.Errorf("render preview: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(preview))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := sqlite.Open(sqlite.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	for _, s := range manifest.Segments {
		key := domain.SegmentKey{
			RouteID:     s.RouteID,
			DirectionID: s.DirectionID,
			FromStopID:  s.FromStopID,
			ToStopID:    s.ToStopID,
		}
		if _, err := db.SeedSegment(key, s.ScheduleByBin); err != nil {
			return fmt.Errorf("seed segment %+v: %w", key, err)
		}
	}

	fmt.Fprintf(os.Stdout, "seeded %d segments from feed version %q\n", len(manifest.Segments), manifest.ScheduleFeedVersion)
	return nil
}
