package recovery

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/checkpoint"
	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/locks"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/mailbox"
	"github.com/v1truv1us/fleettools-sub002/internal/projection"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

type harness struct {
	engine      *Engine
	checkpoints *checkpoint.Engine
	fleet       *fleet.Manager
	locks       *locks.Manager
	mail        *mailbox.Manager
	elog        *eventlog.Log
	cleanup     func()
}

func setupEngine(t *testing.T) *harness {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fleet-recovery-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := storage.Open(context.Background(), storage.Config{
		Path:       filepath.Join(tmpDir, "fleet.db"),
		PathPolicy: config.PolicyPreserve,
		Logger:     log.Nop(),
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open store: %v", err)
	}

	ids := ident.NewGenerator()
	registry := projection.NewRegistry(log.Nop())
	elog := eventlog.New(store, ids, registry, log.Nop())
	fl := fleet.NewManager(store, elog, ids, log.Nop())
	lk := locks.NewManager(store, elog, ids, config.PolicyPreserve, log.Nop())
	mail := mailbox.NewManager(store, elog, ids, log.Nop())
	cps := checkpoint.NewEngine(store, elog, ids, filepath.Join(tmpDir, "checkpoints"), log.Nop())

	return &harness{
		engine:      NewEngine(store, elog, fl, lk, mail, cps, log.Nop()),
		checkpoints: cps,
		fleet:       fl,
		locks:       lk,
		mail:        mail,
		elog:        elog,
		cleanup: func() {
			store.Close()
			os.RemoveAll(tmpDir)
		},
	}
}

// seedMission builds an in_progress mission with one running sortie whose
// specialist holds a file lock and has a pending handoff message waiting.
func (h *harness) seedMission(t *testing.T) (*types.Mission, *types.Sortie, *types.Lock, *types.Message) {
	t.Helper()
	ctx := context.Background()

	if _, err := h.fleet.RegisterSpecialist(ctx, fleet.RegisterSpecialistRequest{
		ID: "pilot-1", Name: "Pilot One",
	}); err != nil {
		t.Fatalf("failed to register specialist: %v", err)
	}

	mission, err := h.fleet.CreateMission(ctx, fleet.CreateMissionRequest{Title: "Payments cutover"})
	if err != nil {
		t.Fatalf("failed to create mission: %v", err)
	}
	if _, err := h.fleet.StartMission(ctx, mission.ID, nil, nil); err != nil {
		t.Fatalf("failed to start mission: %v", err)
	}

	sortie, err := h.fleet.CreateSortie(ctx, fleet.CreateSortieRequest{
		MissionID: &mission.ID, Title: "migrate charge webhooks",
		Files: []string{"/srv/pay/webhook.go"},
	})
	if err != nil {
		t.Fatalf("failed to create sortie: %v", err)
	}
	if _, err := h.fleet.AssignSortie(ctx, sortie.ID, "pilot-1", nil, nil); err != nil {
		t.Fatalf("failed to assign sortie: %v", err)
	}
	if _, err := h.fleet.StartSortie(ctx, sortie.ID, "pilot-1", nil); err != nil {
		t.Fatalf("failed to start sortie: %v", err)
	}
	if _, err := h.fleet.ProgressSortie(ctx, sortie.ID, 40, nil, nil); err != nil {
		t.Fatalf("failed to progress sortie: %v", err)
	}

	res, err := h.locks.Acquire(ctx, locks.AcquireRequest{
		File: "/srv/pay/webhook.go", SpecialistID: "pilot-1", TimeoutMS: 600000,
	})
	if err != nil || res.Conflict {
		t.Fatalf("failed to acquire lock: %v conflict=%v", err, res.Conflict)
	}

	msg, err := h.mail.Send(ctx, mailbox.SendRequest{
		MailboxID: "pilot-1", MessageType: "task_handoff",
		Content: map[string]interface{}{"sortie": sortie.ID},
	})
	if err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	return mission, sortie, res.Lock, msg
}

func TestDetectValidatesThreshold(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()

	if _, err := h.engine.Detect(context.Background(), 0); !types.IsKind(err, types.KindValidation) {
		t.Errorf("expected VALIDATION for zero threshold, got %v", err)
	}
}

func TestDetectFlagsQuietMissions(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()
	ctx := context.Background()

	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	h.fleet.SetNow(func() time.Time { return base })

	// Everything here lands at base: the mission goes quiet with a running
	// sortie whose specialist also stops heartbeating.
	mission, _, _, _ := h.seedMission(t)

	// A mission with recent activity stays off the list.
	h.fleet.SetNow(func() time.Time { return base.Add(29 * time.Minute) })
	busy, err := h.fleet.CreateMission(ctx, fleet.CreateMissionRequest{Title: "Chatty mission"})
	if err != nil {
		t.Fatalf("failed to create busy mission: %v", err)
	}
	if _, err := h.fleet.StartMission(ctx, busy.ID, nil, nil); err != nil {
		t.Fatalf("failed to start busy mission: %v", err)
	}

	// A mission that never went live is not a candidate no matter how old.
	h.fleet.SetNow(func() time.Time { return base })
	if _, err := h.fleet.CreateMission(ctx, fleet.CreateMissionRequest{Title: "Parked mission"}); err != nil {
		t.Fatalf("failed to create parked mission: %v", err)
	}

	h.engine.SetNow(func() time.Time { return base.Add(30 * time.Minute) })
	cands, err := h.engine.Detect(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("failed to detect: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	cand := cands[0]
	if cand.MissionID != mission.ID || cand.MissionTitle != "Payments cutover" {
		t.Errorf("unexpected candidate %s (%s)", cand.MissionID, cand.MissionTitle)
	}
	if cand.LatestEventType != types.EventSortieProgressed {
		t.Errorf("expected sortie_progressed as latest event, got %s", cand.LatestEventType)
	}
	if cand.AgeSeconds != 1800 {
		t.Errorf("expected 1800s of silence, got %d", cand.AgeSeconds)
	}
	if cand.LatestCheckpointID != nil {
		t.Errorf("expected no checkpoint reference, got %s", *cand.LatestCheckpointID)
	}
	// Thirty minutes against a ten minute threshold is two thirds of the
	// way to the 0.9 ceiling, plus the stale-assignee bonus.
	want := 0.5 + 0.4*(2.0/3.0) + 0.1
	if math.Abs(cand.Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %.4f, got %.4f", want, cand.Confidence)
	}

	// Once a checkpoint exists the candidate points at it. Checkpoint
	// events ride their own stream, so the mission stays just as stale.
	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateRequest{
		MissionID: mission.ID, Trigger: types.TriggerManual,
	})
	if err != nil {
		t.Fatalf("failed to create checkpoint: %v", err)
	}
	cands, err = h.engine.Detect(ctx, 10*time.Minute)
	if err != nil || len(cands) != 1 {
		t.Fatalf("failed second detect: %v (%d)", err, len(cands))
	}
	if cands[0].LatestCheckpointID == nil || *cands[0].LatestCheckpointID != cp.ID {
		t.Errorf("expected checkpoint %s on candidate, got %v", cp.ID, cands[0].LatestCheckpointID)
	}
}

func TestDetectOrdersMostStaleFirst(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()
	ctx := context.Background()

	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	h.fleet.SetNow(func() time.Time { return base })
	oldest, _, _, _ := h.seedMission(t)

	h.fleet.SetNow(func() time.Time { return base.Add(20 * time.Minute) })
	newer, err := h.fleet.CreateMission(ctx, fleet.CreateMissionRequest{Title: "Bare mission"})
	if err != nil {
		t.Fatalf("failed to create mission: %v", err)
	}
	if _, err := h.fleet.StartMission(ctx, newer.ID, nil, nil); err != nil {
		t.Fatalf("failed to start mission: %v", err)
	}

	h.engine.SetNow(func() time.Time { return base.Add(time.Hour) })
	cands, err := h.engine.Detect(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("failed to detect: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].MissionID != oldest.ID || cands[1].MissionID != newer.ID {
		t.Fatalf("expected most stale first, got [%s %s]", cands[0].MissionID, cands[1].MissionID)
	}
	if cands[0].AgeSeconds != 3600 || cands[1].AgeSeconds != 2400 {
		t.Errorf("unexpected ages %d/%d", cands[0].AgeSeconds, cands[1].AgeSeconds)
	}
	// An hour of silence saturates the base score; the stale-assignee bonus
	// cannot push past 1. The bare mission has nobody assigned, so it stays
	// at the saturated base.
	if math.Abs(cands[0].Confidence-1) > 1e-9 {
		t.Errorf("expected capped confidence 1.0, got %.4f", cands[0].Confidence)
	}
	if math.Abs(cands[1].Confidence-0.9) > 1e-9 {
		t.Errorf("expected saturated base confidence 0.9, got %.4f", cands[1].Confidence)
	}
}

func TestRestoreRevertsToSnapshot(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()
	ctx := context.Background()

	mission, sortie, lock, msg := h.seedMission(t)
	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateRequest{
		MissionID: mission.ID, Trigger: types.TriggerManual,
	})
	if err != nil {
		t.Fatalf("failed to create checkpoint: %v", err)
	}

	// Work drifts past the snapshot: more progress, a second lock, and the
	// handoff gets read.
	if _, err := h.fleet.ProgressSortie(ctx, sortie.ID, 80, nil, nil); err != nil {
		t.Fatalf("failed to progress sortie: %v", err)
	}
	stray, err := h.locks.Acquire(ctx, locks.AcquireRequest{
		File: "/srv/pay/refunds.go", SpecialistID: "pilot-1", TimeoutMS: 600000,
	})
	if err != nil || stray.Conflict {
		t.Fatalf("failed to acquire stray lock: %v conflict=%v", err, stray.Conflict)
	}
	if _, err := h.mail.MarkRead(ctx, msg.ID, nil); err != nil {
		t.Fatalf("failed to mark message read: %v", err)
	}

	res, err := h.engine.Restore(ctx, cp.ID, false, nil)
	if err != nil {
		t.Fatalf("failed to restore: %v", err)
	}
	if !res.Success || res.DryRun {
		t.Fatalf("expected successful live restore, got %+v", res)
	}
	if res.Restored.Sorties != 1 || res.Restored.Locks != 1 || res.Restored.Messages != 1 {
		t.Fatalf("unexpected restore counts %+v", res.Restored)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", res.Conflicts)
	}

	got, err := h.fleet.GetSortie(ctx, sortie.ID)
	if err != nil {
		t.Fatalf("failed to reload sortie: %v", err)
	}
	if got.Progress != 40 || got.Status != types.SortieInProgress {
		t.Errorf("expected sortie back at 40%% in_progress, got %d %s", got.Progress, got.Status)
	}

	// The snapshot lock never lapsed, so it survives untouched; the one
	// taken after the snapshot is force-released.
	kept, err := h.locks.GetByID(ctx, lock.ID)
	if err != nil {
		t.Fatalf("failed to reload snapshot lock: %v", err)
	}
	if kept.Status != types.LockActive {
		t.Errorf("expected snapshot lock still active, got %s", kept.Status)
	}
	released, err := h.locks.GetByID(ctx, stray.Lock.ID)
	if err != nil {
		t.Fatalf("failed to reload stray lock: %v", err)
	}
	if released.Status != types.LockForceReleased {
		t.Errorf("expected stray lock force-released, got %s", released.Status)
	}
	if released.ReleaseReason == nil || *released.ReleaseReason != "checkpoint_restore" {
		t.Errorf("unexpected release reason %v", released.ReleaseReason)
	}

	requeued, err := h.mail.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to reload message: %v", err)
	}
	if requeued.Status != types.MessagePending || requeued.ReadAt != nil {
		t.Errorf("expected message requeued to pending, got %s", requeued.Status)
	}

	consumed, err := h.checkpoints.GetByID(ctx, cp.ID)
	if err != nil {
		t.Fatalf("failed to reload checkpoint: %v", err)
	}
	if consumed.ConsumedAt == nil {
		t.Error("expected checkpoint marked consumed")
	}

	// The restore itself is events on the mission stream, newest first.
	tail, err := h.elog.StreamTail(ctx, types.StreamMission, mission.ID, 2)
	if err != nil || len(tail) != 2 {
		t.Fatalf("failed to read stream tail: %v (%d)", err, len(tail))
	}
	if tail[0].EventType != types.EventSortieRestored || tail[1].EventType != types.EventMissionRestored {
		t.Errorf("expected restore events on the mission stream, got %s %s", tail[0].EventType, tail[1].EventType)
	}
}

func TestRestoreDryRunLeavesStateAlone(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()
	ctx := context.Background()

	mission, sortie, _, msg := h.seedMission(t)
	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateRequest{
		MissionID: mission.ID, Trigger: types.TriggerManual,
	})
	if err != nil {
		t.Fatalf("failed to create checkpoint: %v", err)
	}

	if _, err := h.fleet.ProgressSortie(ctx, sortie.ID, 80, nil, nil); err != nil {
		t.Fatalf("failed to progress sortie: %v", err)
	}
	stray, err := h.locks.Acquire(ctx, locks.AcquireRequest{
		File: "/srv/pay/refunds.go", SpecialistID: "pilot-1", TimeoutMS: 600000,
	})
	if err != nil || stray.Conflict {
		t.Fatalf("failed to acquire stray lock: %v conflict=%v", err, stray.Conflict)
	}
	if _, err := h.mail.MarkRead(ctx, msg.ID, nil); err != nil {
		t.Fatalf("failed to mark message read: %v", err)
	}

	res, err := h.engine.Restore(ctx, cp.ID, true, nil)
	if err != nil {
		t.Fatalf("failed to dry run: %v", err)
	}
	if !res.Success || !res.DryRun {
		t.Fatalf("expected successful dry run, got %+v", res)
	}
	// The dry run reports exactly what a live run would have done.
	if res.Restored.Sorties != 1 || res.Restored.Locks != 1 || res.Restored.Messages != 1 {
		t.Fatalf("unexpected dry run counts %+v", res.Restored)
	}

	got, err := h.fleet.GetSortie(ctx, sortie.ID)
	if err != nil {
		t.Fatalf("failed to reload sortie: %v", err)
	}
	if got.Progress != 80 {
		t.Errorf("dry run must not touch the sortie, got progress %d", got.Progress)
	}
	still, err := h.locks.GetByID(ctx, stray.Lock.ID)
	if err != nil {
		t.Fatalf("failed to reload stray lock: %v", err)
	}
	if still.Status != types.LockActive {
		t.Errorf("dry run must not release locks, got %s", still.Status)
	}
	read, err := h.mail.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to reload message: %v", err)
	}
	if read.Status != types.MessageRead {
		t.Errorf("dry run must not requeue messages, got %s", read.Status)
	}
	evaluated, err := h.checkpoints.GetByID(ctx, cp.ID)
	if err != nil {
		t.Fatalf("failed to reload checkpoint: %v", err)
	}
	if evaluated.ConsumedAt != nil {
		t.Error("dry run must not consume the checkpoint")
	}

	tail, err := h.elog.StreamTail(ctx, types.StreamMission, mission.ID, 1)
	if err != nil || len(tail) != 1 {
		t.Fatalf("failed to read stream tail: %v (%d)", err, len(tail))
	}
	if tail[0].EventType != types.EventSortieProgressed {
		t.Errorf("dry run must not append events, tail is %s", tail[0].EventType)
	}
}

func TestRestoreRecordsLockConflicts(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()
	ctx := context.Background()

	mission, _, lock, _ := h.seedMission(t)
	cp, err := h.checkpoints.Create(ctx, checkpoint.CreateRequest{
		MissionID: mission.ID, Trigger: types.TriggerManual,
	})
	if err != nil {
		t.Fatalf("failed to create checkpoint: %v", err)
	}

	// The holder lets go and someone outside the snapshot grabs the file.
	if _, err := h.locks.Release(ctx, lock.ID, "pilot-1", nil); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}
	if _, err := h.fleet.RegisterSpecialist(ctx, fleet.RegisterSpecialistRequest{
		ID: "pilot-2", Name: "Pilot Two",
	}); err != nil {
		t.Fatalf("failed to register second specialist: %v", err)
	}
	taken, err := h.locks.Acquire(ctx, locks.AcquireRequest{
		File: "/srv/pay/webhook.go", SpecialistID: "pilot-2", TimeoutMS: 600000,
	})
	if err != nil || taken.Conflict {
		t.Fatalf("failed to acquire as pilot-2: %v conflict=%v", err, taken.Conflict)
	}

	res, err := h.engine.Restore(ctx, cp.ID, false, nil)
	if err != nil {
		t.Fatalf("failed to restore: %v", err)
	}
	if !res.Success {
		t.Fatalf("lock conflicts must not fail the restore: %+v", res)
	}
	if res.Restored.Locks != 0 || len(res.Conflicts) != 1 {
		t.Fatalf("expected one conflict and no lock restores, got %+v", res)
	}
	c := res.Conflicts[0]
	if c.Kind != "lock" || c.ItemID != lock.ID || !strings.Contains(c.Reason, "pilot-2") {
		t.Errorf("unexpected conflict %+v", c)
	}

	// The interloper keeps the file; pilot-2 is not one of the snapshot's
	// specialists, so the stray sweep leaves their lock alone.
	cur, err := h.locks.GetByID(ctx, taken.Lock.ID)
	if err != nil {
		t.Fatalf("failed to reload pilot-2's lock: %v", err)
	}
	if cur.Status != types.LockActive {
		t.Errorf("expected pilot-2's lock untouched, got %s", cur.Status)
	}

	// Conflicts aside, the rest of the restore went through.
	consumed, err := h.checkpoints.GetByID(ctx, cp.ID)
	if err != nil {
		t.Fatalf("failed to reload checkpoint: %v", err)
	}
	if consumed.ConsumedAt == nil {
		t.Error("expected checkpoint consumed despite the conflict")
	}
}

func TestRestoreMissingCheckpoint(t *testing.T) {
	h := setupEngine(t)
	defer h.cleanup()

	if _, err := h.engine.Restore(context.Background(), "chk-missing00", false, nil); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("expected NOT_FOUND for unknown checkpoint, got %v", err)
	}
}
