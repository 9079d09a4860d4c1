package locks

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/projection"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func setupManager(t *testing.T) (*Manager, *eventlog.Log, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fleet-locks-test-*")
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

	registry := projection.NewRegistry(log.Nop())
	elog := eventlog.New(store, ident.NewGenerator(), registry, log.Nop())
	mgr := NewManager(store, elog, ident.NewGenerator(), config.PolicyPreserve, log.Nop())
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return mgr, elog, cleanup
}

// fixedClock pins the manager's clock to a mutable instant so tests can
// cross expiry boundaries without sleeping.
func fixedClock(mgr *Manager) *time.Time {
	current := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	mgr.SetNow(func() time.Time { return current })
	return &current
}

func mustAcquire(t *testing.T, mgr *Manager, req AcquireRequest) *types.Lock {
	t.Helper()
	res, err := mgr.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to acquire %s: %v", req.File, err)
	}
	if res.Conflict {
		t.Fatalf("unexpected conflict acquiring %s: held by %s", req.File, res.ExistingLock.ReservedBy)
	}
	return res.Lock
}

func TestAcquireAndRelease(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/a.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})
	if !strings.HasPrefix(lock.ID, "lock-") {
		t.Errorf("expected lock- prefix, got %s", lock.ID)
	}
	if lock.Status != types.LockActive {
		t.Errorf("expected active, got %s", lock.Status)
	}
	if lock.Purpose != types.PurposeEdit {
		t.Errorf("expected default purpose edit, got %s", lock.Purpose)
	}
	if !lock.ExpiresAt.After(lock.ReservedAt) {
		t.Error("expires_at must be after reserved_at")
	}

	held, holder, err := mgr.IsLocked(ctx, "/p/a.ts")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if !held || holder.ID != lock.ID {
		t.Errorf("expected %s to hold the path", lock.ID)
	}

	released, err := mgr.Release(ctx, lock.ID, "spc-aaaaaaaa", nil)
	if err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if released.Status != types.LockReleased || released.ReleasedAt == nil {
		t.Errorf("expected released with released_at, got %+v", released)
	}

	held, _, err = mgr.IsLocked(ctx, "/p/a.ts")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if held {
		t.Error("path should be free after release")
	}

	row, err := mgr.GetByID(ctx, lock.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if row.Status != types.LockReleased {
		t.Errorf("projection shows %s, want released", row.Status)
	}
}

func TestAcquireConflict(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	lockA := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/a.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})

	res, err := mgr.Acquire(ctx, AcquireRequest{
		File: "/p/a.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 60000,
	})
	if err != nil {
		t.Fatalf("conflict must be a result, not an error: %v", err)
	}
	if !res.Conflict {
		t.Fatal("expected a conflict")
	}
	if res.Lock != nil {
		t.Error("conflict result must not carry a new lock")
	}
	if res.ExistingLock == nil || res.ExistingLock.ID != lockA.ID {
		t.Errorf("expected existing lock %s, got %+v", lockA.ID, res.ExistingLock)
	}
}

func TestExpiryAndSweep(t *testing.T) {
	mgr, elog, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	lockA := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/a.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})

	*clock = clock.Add(60001 * time.Millisecond)

	n, err := mgr.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed lock, got %d", n)
	}

	row, err := mgr.GetByID(ctx, lockA.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if row.Status != types.LockExpired {
		t.Errorf("expected expired, got %s", row.Status)
	}

	lockB := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/a.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 60000,
	})
	if lockB.ID == lockA.ID {
		t.Error("retry must mint a new lock id")
	}

	// acquired, expired, acquired: a dense ctk stream for the path.
	events, err := elog.GetByStream(ctx, types.StreamCTK, lockA.NormalizedPath, 0, 10)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 lock events, got %d", len(events))
	}
	if events[1].EventType != types.EventLockExpired {
		t.Errorf("expected lock_expired second, got %s", events[1].EventType)
	}
}

func TestAcquireReclaimsExpiredInline(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	lockA := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/b.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 1000,
	})

	*clock = clock.Add(1001 * time.Millisecond)

	// No sweep tick between: Acquire itself reclaims the stale holder.
	lockB := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/b.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 1000,
	})
	if lockB.ID == lockA.ID {
		t.Error("expected a fresh lock id")
	}

	row, err := mgr.GetByID(ctx, lockA.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if row.Status != types.LockExpired {
		t.Errorf("stale holder should be expired, got %s", row.Status)
	}
}

func TestReleaseOwnership(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/c.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})

	_, err := mgr.Release(ctx, lock.ID, "spc-bbbbbbbb", nil)
	if !types.IsKind(err, types.KindOwnership) {
		t.Fatalf("expected OWNERSHIP_ERROR, got %v", err)
	}

	row, err := mgr.GetByID(ctx, lock.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if row.Status != types.LockActive {
		t.Errorf("failed release must leave the lock active, got %s", row.Status)
	}

	if _, err := mgr.Release(ctx, lock.ID, "spc-aaaaaaaa", nil); err != nil {
		t.Fatalf("owner release failed: %v", err)
	}
}

func TestReleaseTwiceReportsNotFound(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/d.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})
	if _, err := mgr.Release(ctx, lock.ID, "spc-aaaaaaaa", nil); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	_, err := mgr.Release(ctx, lock.ID, "spc-aaaaaaaa", nil)
	if !types.IsKind(err, types.KindNotFound) {
		t.Fatalf("expected NOT_FOUND on double release, got %v", err)
	}

	_, err = mgr.Release(ctx, "lock-nosuchlock", "spc-aaaaaaaa", nil)
	if !types.IsKind(err, types.KindNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown lock, got %v", err)
	}
}

func TestReleaseAfterExpiryIsStale(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/e.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 1000,
	})

	*clock = clock.Add(2 * time.Second)

	_, err := mgr.Release(ctx, lock.ID, "spc-aaaaaaaa", nil)
	if !types.IsKind(err, types.KindStale) {
		t.Fatalf("expected STALE past the TTL, got %v", err)
	}

	// After the sweeper records the expiry the answer stays STALE.
	if _, err := mgr.ReleaseExpired(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	_, err = mgr.Release(ctx, lock.ID, "spc-aaaaaaaa", nil)
	if !types.IsKind(err, types.KindStale) {
		t.Fatalf("expected STALE after sweep, got %v", err)
	}
}

func TestExtend(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/f.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})

	extended, err := mgr.Extend(ctx, lock.ID, "spc-aaaaaaaa", 30000, nil)
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	want := lock.ExpiresAt.Add(30 * time.Second)
	if !extended.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %s, got %s", want, extended.ExpiresAt)
	}

	row, err := mgr.GetByID(ctx, lock.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if !row.ExpiresAt.Equal(want) {
		t.Errorf("projection expiry %s, want %s", row.ExpiresAt, want)
	}

	if _, err := mgr.Extend(ctx, lock.ID, "spc-bbbbbbbb", 30000, nil); !types.IsKind(err, types.KindOwnership) {
		t.Errorf("expected OWNERSHIP_ERROR for foreign extend, got %v", err)
	}
	if _, err := mgr.Extend(ctx, lock.ID, "spc-aaaaaaaa", 0, nil); !types.IsKind(err, types.KindValidation) {
		t.Errorf("expected VALIDATION for zero extension, got %v", err)
	}

	*clock = clock.Add(2 * time.Hour)
	if _, err := mgr.Extend(ctx, lock.ID, "spc-aaaaaaaa", 30000, nil); !types.IsKind(err, types.KindStale) {
		t.Errorf("expected STALE extending past TTL, got %v", err)
	}
}

func TestSharedReadGrant(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	first := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/g.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
		Purpose: types.PurposeRead,
	})

	res, err := mgr.Acquire(ctx, AcquireRequest{
		File: "/p/g.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 60000,
		Purpose: types.PurposeRead,
	})
	if err != nil {
		t.Fatalf("second read acquire failed: %v", err)
	}
	if res.Conflict || !res.Reused {
		t.Fatalf("readers must share, got %+v", res)
	}
	if res.Lock.ID != first.ID {
		t.Errorf("shared grant should return the existing lock %s, got %s", first.ID, res.Lock.ID)
	}

	// A writer cannot join the readers.
	res, err = mgr.Acquire(ctx, AcquireRequest{
		File: "/p/g.ts", SpecialistID: "spc-cccccccc", TimeoutMS: 60000,
		Purpose: types.PurposeEdit,
	})
	if err != nil {
		t.Fatalf("edit acquire failed: %v", err)
	}
	if !res.Conflict {
		t.Error("edit must conflict with an active read lock")
	}
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/h.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 5000,
	})

	*clock = lock.ExpiresAt

	held, _, err := mgr.IsLocked(ctx, "/p/h.ts")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if held {
		t.Error("a lock expiring exactly now is expired")
	}

	n, err := mgr.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the boundary lock reclaimed, got %d", n)
	}
}

func TestForceRelease(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	lock := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/i.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
	})

	if _, err := mgr.ForceRelease(ctx, lock.ID, "", nil); !types.IsKind(err, types.KindValidation) {
		t.Fatalf("expected VALIDATION without a reason, got %v", err)
	}

	released, err := mgr.ForceRelease(ctx, lock.ID, "specialist crashed", nil)
	if err != nil {
		t.Fatalf("force release failed: %v", err)
	}
	if released.Status != types.LockForceReleased {
		t.Errorf("expected force_released, got %s", released.Status)
	}

	row, err := mgr.GetByID(ctx, lock.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if row.Status != types.LockForceReleased {
		t.Errorf("projection shows %s, want force_released", row.Status)
	}
	if row.ReleaseReason == nil || *row.ReleaseReason != "specialist crashed" {
		t.Errorf("expected the reason on the row, got %v", row.ReleaseReason)
	}
}

func TestReacquireRestoresSnapshotLock(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	checksum := "abc123"
	snapshot := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/j.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000,
		Checksum: &checksum,
	})

	*clock = clock.Add(90 * time.Second)
	if _, err := mgr.ReleaseExpired(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	var out ReacquireOutcome
	err := mgr.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = mgr.ReacquireTx(ctx, tx, snapshot, "chk-aaaaaaaa", nil)
		return err
	})
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if !out.Restored || out.Conflict != nil {
		t.Fatalf("expected restore, got %+v", out)
	}

	row, err := mgr.GetByID(ctx, snapshot.ID)
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if row.Status != types.LockActive {
		t.Errorf("expected active after reacquire, got %s", row.Status)
	}
	if !row.ExpiresAt.After(clock.UTC()) {
		t.Error("reacquired lock must get a fresh TTL")
	}
}

func TestReacquireConflictsOnForeignHolder(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	snapshot := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/k.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 1000,
	})

	*clock = clock.Add(5 * time.Second)
	mustAcquire(t, mgr, AcquireRequest{
		File: "/p/k.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 600000,
	})

	var out ReacquireOutcome
	err := mgr.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = mgr.ReacquireTx(ctx, tx, snapshot, "chk-aaaaaaaa", nil)
		return err
	})
	if err != nil {
		t.Fatalf("reacquire errored instead of reporting conflict: %v", err)
	}
	if out.Restored || out.Conflict == nil {
		t.Fatalf("expected a per-item conflict, got %+v", out)
	}
}

func TestReacquireConflictsOnChecksumDrift(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()
	clock := fixedClock(mgr)

	oldSum := "abc123"
	snapshot := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/l.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 1000,
		Checksum: &oldSum,
	})
	if _, err := mgr.Release(ctx, snapshot.ID, "spc-aaaaaaaa", nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// Someone else edited the file under a later lock.
	*clock = clock.Add(10 * time.Second)
	newSum := "def456"
	later := mustAcquire(t, mgr, AcquireRequest{
		File: "/p/l.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 1000,
		Checksum: &newSum,
	})
	*clock = clock.Add(10 * time.Second)
	if _, err := mgr.Release(ctx, later.ID, "spc-bbbbbbbb", nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	var out ReacquireOutcome
	err := mgr.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = mgr.ReacquireTx(ctx, tx, snapshot, "chk-aaaaaaaa", nil)
		return err
	})
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if out.Restored || out.Conflict == nil {
		t.Fatalf("expected a checksum conflict, got %+v", out)
	}
	if !strings.Contains(*out.Conflict, "checksum") {
		t.Errorf("conflict should name the checksum, got %q", *out.Conflict)
	}
}

func TestNormalizePolicy(t *testing.T) {
	fold := NewNormalizer(config.PolicyFold)
	preserve := NewNormalizer(config.PolicyPreserve)

	got, err := fold.Normalize("/Proj/Main.TS")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if got != "/proj/main.ts" {
		t.Errorf("fold policy: got %q", got)
	}

	got, err = preserve.Normalize("/Proj/Main.TS")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if got != "/Proj/Main.TS" {
		t.Errorf("preserve policy: got %q", got)
	}

	if _, err := preserve.Normalize("  "); !types.IsKind(err, types.KindValidation) {
		t.Errorf("expected VALIDATION for blank path, got %v", err)
	}

	// Relative paths and dot segments collapse to the same key.
	a, err := preserve.Normalize("/p/x/../y.ts")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	b, err := preserve.Normalize("/p/y.ts")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if a != b {
		t.Errorf("equivalent paths normalized differently: %q vs %q", a, b)
	}
}

func TestGetBySpecialistAndActive(t *testing.T) {
	mgr, _, cleanup := setupManager(t)
	defer cleanup()
	ctx := context.Background()

	mustAcquire(t, mgr, AcquireRequest{File: "/p/m1.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000})
	l2 := mustAcquire(t, mgr, AcquireRequest{File: "/p/m2.ts", SpecialistID: "spc-aaaaaaaa", TimeoutMS: 60000})
	mustAcquire(t, mgr, AcquireRequest{File: "/p/m3.ts", SpecialistID: "spc-bbbbbbbb", TimeoutMS: 60000})

	if _, err := mgr.Release(ctx, l2.ID, "spc-aaaaaaaa", nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	active, err := mgr.GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active locks, got %d", len(active))
	}

	mine, err := mgr.GetBySpecialist(ctx, "spc-aaaaaaaa", true)
	if err != nil {
		t.Fatalf("GetBySpecialist failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("expected 1 active lock for spc-aaaaaaaa, got %d", len(mine))
	}

	all, err := mgr.GetBySpecialist(ctx, "spc-aaaaaaaa", false)
	if err != nil {
		t.Fatalf("GetBySpecialist failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 total locks for spc-aaaaaaaa, got %d", len(all))
	}

	n, err := mgr.CountActive(ctx)
	if err != nil {
		t.Fatalf("CountActive failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 active, got %d", n)
	}
}
