package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/v1truv1us/fleettools-sub002/internal/api"
	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/core"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/serverinfo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server",
	Long: `Start the HTTP server against the project's .flightline/ directory,
creating the directory layout on first run.

Exactly one server may own a data directory at a time; a second serve
against the same directory fails fast instead of corrupting state.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.ListenAddr = addr
	}
	if err := cfg.EnsureLayout(); err != nil {
		return err
	}

	// Advisory lock marks the directory as owned by this process.
	fl := flock.New(cfg.FlockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring %s: %w", cfg.FlockPath(), err)
	}
	if !locked {
		return fmt.Errorf("another fleet server already owns %s", cfg.DataDir)
	}
	defer func() { _ = fl.Unlock() }()

	logger := log.New(log.Config{
		Level:   cfg.LogLevel,
		Dir:     cfg.LogsDir(),
		Console: term.IsTerminal(int(os.Stderr.Fd())),
	})

	ctx := context.Background()
	c, err := core.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx, Version); err != nil {
		_ = c.Close()
		return err
	}

	// Register this process so `fleet status` can find and probe it.
	if err := serverinfo.Write(cfg, serverinfo.Info{
		PID:        os.Getpid(),
		Version:    Version,
		ListenAddr: cfg.ListenAddr,
		DataDir:    cfg.DataDir,
		DBPath:     cfg.DBPath(),
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		logger.Warn().Err(err).Msg("server registration failed")
	}
	defer func() {
		if err := serverinfo.Remove(cfg, os.Getpid()); err != nil {
			logger.Warn().Err(err).Msg("server registration cleanup failed")
		}
	}()

	server := api.NewServer(c, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.ListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Stop(stopCtx)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := c.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("core stop incomplete")
	}
	return nil
}
