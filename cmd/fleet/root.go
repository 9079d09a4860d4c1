package main

import (
	"github.com/spf13/cobra"
)

// dataDirFlag is the --data-dir override shared by every command.
var dataDirFlag string

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Coordination core for multi-agent development work",
	Long: `fleet runs the coordination core: an event-sourced record of missions,
sorties, specialists, file locks, mailboxes, and checkpoints, served over a
local HTTP API.

State lives in a per-project .flightline/ directory. Commands discover it by
walking up from the working directory; override with --data-dir or the
FLEET_DATA_DIR environment variable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"state directory (default: nearest .flightline/ above the working directory)")
}
