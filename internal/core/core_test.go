package core

import (
	"context"
	"testing"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:       t.TempDir(),
		LogLevel:      "info",
		ListenAddr:    "127.0.0.1:0",
		SweepInterval: 50 * time.Millisecond,
		CaseFoldPaths: config.PolicyPreserve,
	}
}

func TestOpenInitializesOnce(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := Open(ctx, cfg, log.Nop())
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	events, err := c.Events.GetByType(ctx, types.EventFleetInitialized, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one fleet_initialized, got %d", len(events))
	}
	decoded, err := types.DecodePayload(types.EventFleetInitialized, events[0].Data)
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	payload, ok := decoded.(*types.FleetInitializedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", decoded)
	}
	if payload.PathPolicy != config.PolicyPreserve {
		t.Errorf("expected path policy %q, got %q", config.PolicyPreserve, payload.PathPolicy)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Reopening the same directory is not a first run.
	c2, err := Open(ctx, cfg, log.Nop())
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer c2.Close()

	events, err = c2.Events.GetByType(ctx, types.EventFleetInitialized, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("reopen must not append another fleet_initialized, got %d", len(events))
	}
}

func TestStartStopBracketsRun(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := Open(ctx, cfg, log.Nop())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := c.Start(ctx, "test"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	started, err := c.Events.GetByType(ctx, types.EventServerStarted, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("expected one server_started, got %d", len(started))
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	// Stop is idempotent.
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}

	c2, err := Open(ctx, cfg, log.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c2.Close()

	stopped, err := c2.Events.GetByType(ctx, types.EventServerStopped, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(stopped) != 1 {
		t.Errorf("expected one server_stopped, got %d", len(stopped))
	}
}

func TestProgressHookFiresThresholdCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := Open(ctx, cfg, log.Nop())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	mission, err := c.Fleet.CreateMission(ctx, fleet.CreateMissionRequest{Title: "Hook test"})
	if err != nil {
		t.Fatalf("create mission failed: %v", err)
	}
	if _, err := c.Fleet.StartMission(ctx, mission.ID, nil, nil); err != nil {
		t.Fatalf("start mission failed: %v", err)
	}
	if _, err := c.Fleet.RegisterSpecialist(ctx, fleet.RegisterSpecialistRequest{ID: "spc-hook", Name: "Hook"}); err != nil {
		t.Fatalf("register specialist failed: %v", err)
	}

	sortie, err := c.Fleet.CreateSortie(ctx, fleet.CreateSortieRequest{MissionID: &mission.ID, Title: "Only sortie"})
	if err != nil {
		t.Fatalf("create sortie failed: %v", err)
	}
	if _, err := c.Fleet.AssignSortie(ctx, sortie.ID, "spc-hook", nil, nil); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if _, err := c.Fleet.StartSortie(ctx, sortie.ID, "spc-hook", nil); err != nil {
		t.Fatalf("start sortie failed: %v", err)
	}
	if _, err := c.Fleet.CompleteSortie(ctx, sortie.ID, nil, nil, nil); err != nil {
		t.Fatalf("complete sortie failed: %v", err)
	}

	// 1/1 sorties complete = 100%, which crosses every threshold; the hook
	// fires the highest one.
	cps, err := c.Checkpoints.ListByMission(ctx, mission.ID)
	if err != nil {
		t.Fatalf("list checkpoints failed: %v", err)
	}
	if len(cps) != 1 {
		t.Fatalf("expected one threshold checkpoint, got %d", len(cps))
	}
	if cps[0].ProgressPercent != 100 || cps[0].Trigger != types.TriggerProgress {
		t.Errorf("unexpected checkpoint: trigger=%s percent=%d", cps[0].Trigger, cps[0].ProgressPercent)
	}
}

func TestCollectStats(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := Open(ctx, cfg, log.Nop())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	mission, err := c.Fleet.CreateMission(ctx, fleet.CreateMissionRequest{Title: "Stats"})
	if err != nil {
		t.Fatalf("create mission failed: %v", err)
	}
	if _, err := c.Fleet.CreateSortie(ctx, fleet.CreateSortieRequest{MissionID: &mission.ID, Title: "S1"}); err != nil {
		t.Fatalf("create sortie failed: %v", err)
	}
	if _, err := c.Fleet.RegisterSpecialist(ctx, fleet.RegisterSpecialistRequest{ID: "spc-stats", Name: "Stats"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	stats, err := c.CollectStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Missions.Total != 1 || stats.Missions.Pending != 1 {
		t.Errorf("mission counts wrong: %+v", stats.Missions)
	}
	if stats.Sorties.Total != 1 || stats.Sorties.Pending != 1 {
		t.Errorf("sortie counts wrong: %+v", stats.Sorties)
	}
	if stats.Specialists != 1 {
		t.Errorf("expected 1 specialist, got %d", stats.Specialists)
	}
	// fleet_initialized + mission_created + sortie_created + specialist_registered
	if stats.Events != 4 {
		t.Errorf("expected 4 events, got %d", stats.Events)
	}
}
