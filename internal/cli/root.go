// Package cli is the process entrypoint: the cobra command tree wiring
// configuration, the storage layer, and the learning/ingestion core into
// a runnable service.
//
// A root command with subcommands, flags parsed with
// cmd.Flags().GetString, and RunE returning a wrapped error instead of
// calling os.Exit directly.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/citytransit/etalearn/internal/daemon"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "etalearn",
	Short: "Privacy-preserving ETA learning service for a city bus network",
	Long: `etalearn ingests client-computed ride summaries and serves
schedule-blended ETA predictions, combining a static schedule baseline
with per-segment, per-time-bin online statistics.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.toml (optional)")
}

// Execute runs the command tree; it is the sole entrypoint called from
// cmd/etalearn/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	return daemon.Load(cfgFile)
}
