package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/export"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/projection"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an event log from JSONL",
	Long: `Read events from stdin (or -i FILE) and load them into an empty event
log, preserving ids, sequences, and timestamps. Projections are rebuilt by
replaying the imported log, so the restored store answers queries exactly
like the one that was exported.

Import is a bootstrap operation: a store that already holds events is
refused. It also requires exclusive access; stop any running server first.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runImport(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	importCmd.Flags().StringP("input", "i", "", "read from file instead of stdin")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command) error {
	input, _ := cmd.Flags().GetString("input")
	if input == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "Error: no input specified.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  fleet import -i events.jsonl     # import from a file\n")
		fmt.Fprintf(os.Stderr, "  fleet export | fleet import      # import from a pipe\n")
		os.Exit(1)
	}

	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		return err
	}
	if err := cfg.EnsureLayout(); err != nil {
		return err
	}

	// Import writes the store directly; refuse to race a running server.
	fl := flock.New(cfg.FlockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring %s: %w", cfg.FlockPath(), err)
	}
	if !locked {
		return fmt.Errorf("a fleet server owns %s; stop it before importing", cfg.DataDir)
	}
	defer func() { _ = fl.Unlock() }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	logger := log.New(log.Config{Level: "error", Console: true})
	registry := projection.NewRegistry(logger)

	ctx := context.Background()
	var imported int64
	if input != "" {
		imported, err = export.ReadFile(ctx, store, registry, logger, input)
	} else {
		imported, err = export.Read(ctx, store, registry, logger, os.Stdin)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Imported %d events\n", imported)
	return nil
}
