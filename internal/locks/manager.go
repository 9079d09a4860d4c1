package locks

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Manager owns file reservations. All mutations run inside a single write
// transaction that checks preconditions against the locks projection and
// appends the lifecycle event, so the projection and the log cannot drift.
type Manager struct {
	store *storage.Store
	log   *eventlog.Log
	ids   *ident.Generator
	norm  *Normalizer
	lg    zerolog.Logger

	now func() time.Time
}

// NewManager wires a lock manager against the store and event log.
// pathPolicy is the pinned store policy (config.PolicyFold or
// config.PolicyPreserve).
func NewManager(store *storage.Store, log *eventlog.Log, ids *ident.Generator, pathPolicy string, logger zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		ids:   ids,
		norm:  NewNormalizer(pathPolicy),
		lg:    logger.With().Str("component", "locks").Logger(),
		now:   time.Now,
	}
}

// SetNow replaces the clock. Tests use this to cross expiry boundaries
// without sleeping.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// Normalize exposes path canonicalization for callers that query by file.
func (m *Manager) Normalize(file string) (string, error) {
	return m.norm.Normalize(file)
}

// AcquireRequest is one reservation attempt.
type AcquireRequest struct {
	File         string
	SpecialistID string
	TimeoutMS    int64
	Purpose      types.LockPurpose
	Checksum     *string
	CausationID  *string
}

// AcquireResult reports the outcome of an acquire attempt. Exactly one of
// three shapes comes back: a fresh lock, a shared grant on an existing read
// lock (Reused), or a conflict carrying the lock that stands in the way.
// Conflicts are results, not errors; the transport layer decides how to
// present them.
type AcquireResult struct {
	Lock         *types.Lock `json:"lock,omitempty"`
	Conflict     bool        `json:"conflict,omitempty"`
	ExistingLock *types.Lock `json:"existing_lock,omitempty"`
	Reused       bool        `json:"reused,omitempty"`
}

// Acquire reserves a file for a specialist. When the active lock on the
// path is past its TTL the reservation reclaims it in the same transaction
// (opportunistic expiry) before granting the new lock. Read purposes share
// an existing read lock instead of conflicting.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (*AcquireResult, error) {
	path, err := m.norm.Normalize(req.File)
	if err != nil {
		return nil, err
	}
	if req.SpecialistID == "" {
		return nil, types.Validationf("specialist_id is required")
	}
	if req.TimeoutMS <= 0 {
		return nil, types.Validationf("timeout_ms must be positive")
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = types.PurposeEdit
	}
	if !types.ValidLockPurpose(purpose) {
		return nil, types.Validationf("invalid purpose %q", purpose)
	}

	var res AcquireResult
	err = m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		res = AcquireResult{}
		now := m.now().UTC()
		existing, err := getActiveByPathTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if existing != nil && existing.ExpiredAt(now) {
			if err := m.expireTx(ctx, tx, existing, now); err != nil {
				return err
			}
			existing = nil
		}
		if existing != nil {
			if purpose == types.PurposeRead && existing.Purpose == types.PurposeRead {
				res = AcquireResult{Lock: existing, Reused: true}
				return nil
			}
			res = AcquireResult{Conflict: true, ExistingLock: existing}
			return nil
		}

		lockID := m.ids.New(ident.PrefixLock)
		expires := now.Add(time.Duration(req.TimeoutMS) * time.Millisecond)
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventLockAcquired,
			StreamType:  types.StreamCTK,
			StreamID:    path,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.LockAcquiredPayload{
				LockID:         lockID,
				File:           req.File,
				NormalizedPath: path,
				ReservedBy:     req.SpecialistID,
				Purpose:        purpose,
				ExpiresAt:      expires,
				Checksum:       req.Checksum,
			},
		})
		if err != nil {
			return err
		}
		res = AcquireResult{Lock: &types.Lock{
			ID:             lockID,
			File:           req.File,
			NormalizedPath: path,
			ReservedBy:     req.SpecialistID,
			ReservedAt:     now,
			ExpiresAt:      expires,
			Purpose:        purpose,
			Checksum:       req.Checksum,
			Status:         types.LockActive,
		}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Conflict {
		m.lg.Debug().Str("path", path).Str("holder", res.ExistingLock.ReservedBy).
			Str("requested_by", req.SpecialistID).Msg("lock conflict")
	}
	return &res, nil
}

// Release ends a reservation. Only the holder may release; releasing a lock
// that already ended reports NOT_FOUND, and one past its TTL reports STALE
// so the caller knows the sweeper beat them to it.
func (m *Manager) Release(ctx context.Context, lockID, specialistID string, causationID *string) (*types.Lock, error) {
	if specialistID == "" {
		return nil, types.Validationf("specialist_id is required")
	}
	var released *types.Lock
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		lock, err := getByIDTx(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if lock == nil {
			return types.NotFoundf("lock %s not found", lockID)
		}
		now := m.now().UTC()
		if lock.ReservedBy != specialistID {
			return types.Ownershipf("lock %s is held by %s", lockID, lock.ReservedBy)
		}
		switch {
		case lock.Status == types.LockExpired:
			return types.Stalef("lock %s expired at %s", lockID, types.FormatTime(lock.ExpiresAt))
		case lock.Status != types.LockActive:
			return types.NotFoundf("lock %s is not active", lockID)
		case lock.ExpiredAt(now):
			return types.Stalef("lock %s expired at %s", lockID, types.FormatTime(lock.ExpiresAt))
		}
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventLockReleased,
			StreamType:  types.StreamCTK,
			StreamID:    lock.NormalizedPath,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.LockReleasedPayload{
				LockID:         lockID,
				NormalizedPath: lock.NormalizedPath,
				ReleasedBy:     &specialistID,
			},
		})
		if err != nil {
			return err
		}
		lock.Status = types.LockReleased
		lock.ReleasedAt = &now
		released = lock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ForceRelease is the administrative escape hatch. It ignores ownership but
// requires a reason, which lands in the event and the projection row.
func (m *Manager) ForceRelease(ctx context.Context, lockID, reason string, causationID *string) (*types.Lock, error) {
	if reason == "" {
		return nil, types.Validationf("reason is required")
	}
	var released *types.Lock
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		lock, err := getByIDTx(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if lock == nil {
			return types.NotFoundf("lock %s not found", lockID)
		}
		if lock.Status != types.LockActive {
			return types.NotFoundf("lock %s is not active", lockID)
		}
		if err := m.ForceReleaseTx(ctx, tx, lock, reason, causationID); err != nil {
			return err
		}
		released = lock
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.lg.Warn().Str("lock_id", lockID).Str("reason", reason).Msg("lock force released")
	return released, nil
}

// ForceReleaseTx releases an already-loaded active lock inside the caller's
// transaction. Recovery uses it to clear locks taken after a checkpoint was
// cut; the passed lock is mutated to its released state.
func (m *Manager) ForceReleaseTx(ctx context.Context, tx *sql.Tx, lock *types.Lock, reason string, causationID *string) error {
	now := m.now().UTC()
	_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
		EventType:   types.EventLockReleased,
		StreamType:  types.StreamCTK,
		StreamID:    lock.NormalizedPath,
		CausationID: causationID,
		OccurredAt:  &now,
		Data: &types.LockReleasedPayload{
			LockID:         lock.ID,
			NormalizedPath: lock.NormalizedPath,
			Reason:         &reason,
			Force:          true,
		},
	})
	if err != nil {
		return err
	}
	lock.Status = types.LockForceReleased
	lock.ReleasedAt = &now
	lock.ReleaseReason = &reason
	return nil
}

// Extend pushes the expiry forward by additionalMS. Owner only, and only
// while the lock is active and has not crossed its TTL.
func (m *Manager) Extend(ctx context.Context, lockID, specialistID string, additionalMS int64, causationID *string) (*types.Lock, error) {
	if specialistID == "" {
		return nil, types.Validationf("specialist_id is required")
	}
	if additionalMS <= 0 {
		return nil, types.Validationf("additional_ms must be positive")
	}
	var extended *types.Lock
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		lock, err := getByIDTx(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if lock == nil {
			return types.NotFoundf("lock %s not found", lockID)
		}
		if lock.ReservedBy != specialistID {
			return types.Ownershipf("lock %s is held by %s", lockID, lock.ReservedBy)
		}
		now := m.now().UTC()
		if lock.Status != types.LockActive || lock.ExpiredAt(now) {
			return types.Stalef("lock %s is no longer active", lockID)
		}
		newExpiry := lock.ExpiresAt.Add(time.Duration(additionalMS) * time.Millisecond)
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventLockExtended,
			StreamType:  types.StreamCTK,
			StreamID:    lock.NormalizedPath,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.LockExtendedPayload{
				LockID:         lockID,
				NormalizedPath: lock.NormalizedPath,
				ExpiresAt:      newExpiry,
				ExtendedBy:     specialistID,
			},
		})
		if err != nil {
			return err
		}
		lock.ExpiresAt = newExpiry
		extended = lock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extended, nil
}

// ReleaseExpired reclaims every active lock past its TTL and returns how
// many it released. The sweeper calls this on a tick; Acquire performs the
// same reclaim opportunistically for the single path it is contending on.
func (m *Manager) ReleaseExpired(ctx context.Context) (int, error) {
	count := 0
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		count = 0
		now := m.now().UTC()
		expired, err := listExpiredTx(ctx, tx, now)
		if err != nil {
			return err
		}
		for _, lock := range expired {
			if err := m.expireTx(ctx, tx, lock, now); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.lg.Info().Int("count", count).Msg("expired locks reclaimed")
	}
	return count, nil
}

// expireTx appends the lock_expired event for one lock inside the caller's
// transaction. ExpiredAt carries the TTL instant, not the sweep time, so
// replay lands on identical rows.
func (m *Manager) expireTx(ctx context.Context, tx *sql.Tx, lock *types.Lock, now time.Time) error {
	_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
		EventType:  types.EventLockExpired,
		StreamType: types.StreamCTK,
		StreamID:   lock.NormalizedPath,
		OccurredAt: &now,
		Data: &types.LockExpiredPayload{
			LockID:         lock.ID,
			NormalizedPath: lock.NormalizedPath,
			ExpiredAt:      lock.ExpiresAt,
		},
	})
	return err
}

// ReacquireOutcome reports one snapshot lock's fate during recovery.
type ReacquireOutcome struct {
	LockID   string  `json:"lock_id"`
	Restored bool    `json:"restored"`
	Conflict *string `json:"conflict,omitempty"`
}

// ReacquireTx re-takes a snapshot lock inside the recovery engine's
// transaction. It never forces: a live foreign lock on the path, or a
// checksum that moved since the snapshot, comes back as a per-item conflict.
// The restored lock keeps its original id and is granted a fresh TTL of the
// snapshot's original length.
func (m *Manager) ReacquireTx(ctx context.Context, tx *sql.Tx, snapshot *types.Lock, checkpointID string, causationID *string) (ReacquireOutcome, error) {
	out := ReacquireOutcome{LockID: snapshot.ID}
	now := m.now().UTC()

	current, err := getActiveByPathTx(ctx, tx, snapshot.NormalizedPath)
	if err != nil {
		return out, err
	}
	if current != nil && current.ExpiredAt(now) {
		if err := m.expireTx(ctx, tx, current, now); err != nil {
			return out, err
		}
		current = nil
	}
	if current != nil {
		if current.ID == snapshot.ID {
			// Still held from before the interruption; nothing to replay.
			out.Restored = true
			return out, nil
		}
		reason := "path is actively locked by " + current.ReservedBy
		out.Conflict = &reason
		return out, nil
	}

	latest, err := getLatestByPathTx(ctx, tx, snapshot.NormalizedPath)
	if err != nil {
		return out, err
	}
	if latest != nil && latest.ID != snapshot.ID &&
		latest.Checksum != nil && snapshot.Checksum != nil && *latest.Checksum != *snapshot.Checksum {
		reason := "file checksum changed since checkpoint"
		out.Conflict = &reason
		return out, nil
	}

	ttl := snapshot.ExpiresAt.Sub(snapshot.ReservedAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
		EventType:   types.EventLockAcquired,
		StreamType:  types.StreamCTK,
		StreamID:    snapshot.NormalizedPath,
		CausationID: causationID,
		OccurredAt:  &now,
		Data: &types.LockAcquiredPayload{
			LockID:         snapshot.ID,
			File:           snapshot.File,
			NormalizedPath: snapshot.NormalizedPath,
			ReservedBy:     snapshot.ReservedBy,
			Purpose:        snapshot.Purpose,
			ExpiresAt:      now.Add(ttl),
			Checksum:       snapshot.Checksum,
			Reacquired:     true,
			CheckpointID:   &checkpointID,
		},
	})
	if err != nil {
		return out, err
	}
	out.Restored = true
	return out, nil
}
