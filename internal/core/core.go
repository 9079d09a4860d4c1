// Package core assembles the coordination engine: storage, event log,
// projections, managers, and the background loops that keep a long-running
// server healthy. Commands that only need the data path (export, import)
// call Open and Close; the server additionally calls Start and Stop.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/checkpoint"
	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/locks"
	"github.com/v1truv1us/fleettools-sub002/internal/mailbox"
	"github.com/v1truv1us/fleettools-sub002/internal/projection"
	"github.com/v1truv1us/fleettools-sub002/internal/recovery"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const maintenanceInterval = time.Minute

// Core is the assembled engine. Fields are exported for the API layer and
// the CLI; none of them are safe to swap after Open returns.
type Core struct {
	Config      *config.Config
	Store       *storage.Store
	Events      *eventlog.Log
	Projections *projection.Registry
	Fleet       *fleet.Manager
	Locks       *locks.Manager
	Mail        *mailbox.Manager
	Checkpoints *checkpoint.Engine
	Recovery    *recovery.Engine
	IDs         *ident.Generator

	lg        zerolog.Logger
	version   string
	startedAt time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Open builds the engine over the configured data directory, creating the
// layout and database on first run. Projections are verified (and rebuilt if
// stale) before anything else touches the store.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	if err := cfg.EnsureLayout(); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, storage.Config{
		Path:               cfg.DBPath(),
		BusyTimeout:        cfg.BusyTimeout,
		WALCheckpointEvery: cfg.WALCheckpointEvery,
		WALWarnBytes:       cfg.WALWarnBytes,
		PathPolicy:         cfg.PathPolicy(),
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	registry := projection.NewRegistry(logger)
	if err := registry.EnsureCurrent(ctx, store); err != nil {
		_ = store.Close()
		return nil, err
	}

	ids := ident.NewGenerator()
	events := eventlog.New(store, ids, registry, logger)

	c := &Core{
		Config:      cfg,
		Store:       store,
		Events:      events,
		Projections: registry,
		Fleet:       fleet.NewManager(store, events, ids, logger),
		Locks:       locks.NewManager(store, events, ids, cfg.PathPolicy(), logger),
		Mail:        mailbox.NewManager(store, events, ids, logger),
		Checkpoints: checkpoint.NewEngine(store, events, ids, cfg.CheckpointsDir(), logger),
		IDs:         ids,
		lg:          logger.With().Str("component", "core").Logger(),
	}
	c.Recovery = recovery.NewEngine(store, events, c.Fleet, c.Locks, c.Mail, c.Checkpoints, logger)

	// Terminal sortie transitions drive threshold checkpoints. The hook runs
	// after the sortie's transaction commits; checkpoint failures only log.
	c.Fleet.SetProgressHook(func(ctx context.Context, missionID string, percent int) {
		if _, err := c.Checkpoints.OnProgress(ctx, missionID, percent); err != nil {
			c.lg.Warn().Err(err).Str("mission_id", missionID).Int("percent", percent).
				Msg("progress checkpoint failed")
		}
	})

	if store.FirstRun() {
		_, err := events.Append(ctx, types.AppendInput{
			EventType:  types.EventFleetInitialized,
			StreamType: types.StreamFleet,
			StreamID:   "fleet",
			Data: types.FleetInitializedPayload{
				SchemaVersion: storage.SchemaVersion,
				PathPolicy:    cfg.PathPolicy(),
			},
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		c.lg.Info().Str("data_dir", cfg.DataDir).Msg("fleet store initialized")
	}

	return c, nil
}

// Start records the server start and launches the background loops: the
// expired-lock sweeper, the store maintenance ticker, and (when enabled) the
// checkpoint directory watcher. The loops run until Stop.
func (c *Core) Start(ctx context.Context, version string) error {
	c.version = version
	c.startedAt = time.Now()

	if _, err := c.Events.Append(ctx, types.AppendInput{
		EventType:  types.EventServerStarted,
		StreamType: types.StreamSystem,
		StreamID:   "server",
		Data:       types.ServerStartedPayload{Version: version, ListenAddr: c.Config.ListenAddr},
	}); err != nil {
		return err
	}

	// Surface missions that went quiet before this run so an operator (or
	// orchestrator) knows a restore is on the table.
	if cands, err := c.Recovery.Detect(ctx, c.Config.ActivityThreshold); err != nil {
		c.lg.Warn().Err(err).Msg("recovery detection failed")
	} else {
		for _, cand := range cands {
			evt := c.lg.Warn().
				Str("mission_id", cand.MissionID).
				Str("latest_event", cand.LatestEventType).
				Int64("age_seconds", cand.AgeSeconds).
				Float64("confidence", cand.Confidence)
			if cand.LatestCheckpointID != nil {
				evt = evt.Str("checkpoint_id", *cand.LatestCheckpointID)
			}
			evt.Msg("mission appears interrupted; restore available")
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Locks.RunSweeper(loopCtx, c.Config.SweepInterval)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.maintenanceLoop(loopCtx)
	}()

	if c.Config.CheckpointWatch {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.Checkpoints.WatchFiles(loopCtx); err != nil {
				c.lg.Warn().Err(err).Msg("checkpoint file watcher exited")
			}
		}()
	}

	return nil
}

// Stop winds the engine down: background loops first, then the stop event,
// then the store. Safe to call more than once.
func (c *Core) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		if !c.startedAt.IsZero() {
			if _, aerr := c.Events.Append(ctx, types.AppendInput{
				EventType:  types.EventServerStopped,
				StreamType: types.StreamSystem,
				StreamID:   "server",
				Data: types.ServerStoppedPayload{
					Version: c.version,
					Uptime:  time.Since(c.startedAt).Milliseconds(),
				},
			}); aerr != nil {
				c.lg.Warn().Err(aerr).Msg("failed to record server stop")
			}
		}

		err = c.Store.Close()
	})
	return err
}

// Close releases the store without the server lifecycle events. For
// short-lived commands that never called Start.
func (c *Core) Close() error {
	var err error
	c.stopOnce.Do(func() {
		err = c.Store.Close()
	})
	return err
}

func (c *Core) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Store.MaintenanceTick(ctx, c.Config.VacuumIdleAfter); err != nil {
				c.lg.Warn().Err(err).Msg("store maintenance failed")
			}
		}
	}
}
