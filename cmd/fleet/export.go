package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/export"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the event log as JSONL",
	Long: `Write every event as one JSON object per line, ordered by global
sequence, to stdout or to the file given with -o.

The export runs in a single read transaction, so it is safe while a server
is running: concurrent appends cannot tear the output.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runExport(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout (atomic rename)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command) error {
	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DBPath()); err != nil {
		return fmt.Errorf("no event log at %s (run 'fleet serve' first)", cfg.DBPath())
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	output, _ := cmd.Flags().GetString("output")

	var written int64
	if output != "" {
		written, err = export.WriteFile(ctx, store, output)
	} else {
		written, err = export.Write(ctx, store, os.Stdout)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d events\n", written)
	return nil
}

// openStore opens the store for a one-shot command, logging only errors.
func openStore(cfg *config.Config) (*storage.Store, error) {
	return storage.Open(context.Background(), storage.Config{
		Path:               cfg.DBPath(),
		BusyTimeout:        cfg.BusyTimeout,
		WALCheckpointEvery: cfg.WALCheckpointEvery,
		WALWarnBytes:       cfg.WALWarnBytes,
		PathPolicy:         cfg.PathPolicy(),
		Logger:             log.New(log.Config{Level: "error", Console: true}),
	})
}
