package recovery

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/locks"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// errDryRun aborts the restore transaction after the evaluation ran; the
// caller swallows it and reports what would have happened.
var errDryRun = errors.New("dry run rollback")

// Restore replays a checkpoint's intent as new events: mission and sorties
// back to snapshot state, snapshot locks reacquired, pending messages
// requeued, checkpoint marked consumed. Locks taken by the checkpoint's
// specialists after the snapshot was cut are force-released first. Lock
// conflicts are recorded and do not fail the restore; any other failure
// rolls the whole transaction back. With dryRun the transaction always
// rolls back and the result reports what a real run would have done.
func (e *Engine) Restore(ctx context.Context, checkpointID string, dryRun bool, causationID *string) (*types.RestoreResult, error) {
	cp, err := e.checkpoints.GetByID(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.Mission == nil {
		return nil, types.Validationf("checkpoint %s has no mission snapshot", checkpointID)
	}

	res := &types.RestoreResult{CheckpointID: cp.ID, DryRun: dryRun}
	err = e.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		// The store retries this closure on busy, so the tallies reset
		// with each attempt.
		res.Restored = types.RestoredCounts{}
		res.Conflicts = nil
		now := e.now().UTC()

		_, err := e.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMissionRestored,
			StreamType:  types.StreamMission,
			StreamID:    cp.Mission.ID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.MissionRestoredPayload{CheckpointID: cp.ID, Mission: cp.Mission},
		})
		if err != nil {
			return err
		}

		existing, err := fleet.SortiesByMissionTx(ctx, tx, cp.MissionID)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(existing))
		for _, s := range existing {
			present[s.ID] = true
		}
		for _, s := range cp.Sorties {
			if !present[s.ID] {
				e.lg.Warn().
					Str("checkpoint_id", cp.ID).
					Str("sortie_id", s.ID).
					Msg("sortie from checkpoint no longer exists, skipping")
				continue
			}
			_, err := e.log.AppendTx(ctx, tx, types.AppendInput{
				EventType:   types.EventSortieRestored,
				StreamType:  types.StreamMission,
				StreamID:    cp.MissionID,
				CausationID: causationID,
				OccurredAt:  &now,
				Data:        &types.SortieRestoredPayload{CheckpointID: cp.ID, Sortie: s},
			})
			if err != nil {
				return err
			}
			res.Restored.Sorties++
		}

		if err := e.clearStrayLocks(ctx, tx, cp, causationID); err != nil {
			return err
		}
		for _, snap := range cp.ActiveLocks {
			out, err := e.locks.ReacquireTx(ctx, tx, snap, cp.ID, causationID)
			if err != nil {
				return err
			}
			if out.Conflict != nil {
				res.Conflicts = append(res.Conflicts, types.RestoreConflict{
					Kind:   "lock",
					ItemID: snap.ID,
					Reason: *out.Conflict,
				})
				continue
			}
			res.Restored.Locks++
		}

		for _, msg := range cp.PendingMessages {
			_, err := e.mail.RequeueTx(ctx, tx, msg.ID, &cp.ID, causationID)
			if types.IsKind(err, types.KindNotFound) {
				e.lg.Warn().
					Str("checkpoint_id", cp.ID).
					Str("message_id", msg.ID).
					Msg("message from checkpoint no longer exists, skipping")
				continue
			}
			if err != nil {
				return err
			}
			res.Restored.Messages++
		}

		if err := e.checkpoints.MarkConsumedTx(ctx, tx, cp.ID, cp.MissionID, res.Restored, causationID); err != nil {
			return err
		}
		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	res.Success = true

	if dryRun {
		e.lg.Debug().
			Str("checkpoint_id", cp.ID).
			Int("sorties", res.Restored.Sorties).
			Int("locks", res.Restored.Locks).
			Int("messages", res.Restored.Messages).
			Int("conflicts", len(res.Conflicts)).
			Msg("restore dry run evaluated")
		return res, nil
	}
	e.lg.Info().
		Str("checkpoint_id", cp.ID).
		Str("mission_id", cp.MissionID).
		Int("sorties", res.Restored.Sorties).
		Int("locks", res.Restored.Locks).
		Int("messages", res.Restored.Messages).
		Int("conflicts", len(res.Conflicts)).
		Msg("mission restored from checkpoint")
	return res, nil
}

// clearStrayLocks force-releases active locks held by the checkpoint's
// specialists that the snapshot does not contain. Work that started after
// the snapshot was cut is rolled back along with the rest of the restore.
func (e *Engine) clearStrayLocks(ctx context.Context, tx *sql.Tx, cp *types.Checkpoint, causationID *string) error {
	inSnapshot := make(map[string]bool, len(cp.ActiveLocks))
	specialists := make(map[string]bool)
	for _, l := range cp.ActiveLocks {
		inSnapshot[l.ID] = true
		specialists[l.ReservedBy] = true
	}
	for _, s := range cp.Sorties {
		if s.AssignedTo != nil {
			specialists[*s.AssignedTo] = true
		}
	}

	ids := make([]string, 0, len(specialists))
	for id := range specialists {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		held, err := locks.ActiveBySpecialistTx(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, l := range held {
			if inSnapshot[l.ID] {
				continue
			}
			if err := e.locks.ForceReleaseTx(ctx, tx, l, "checkpoint_restore", causationID); err != nil {
				return err
			}
			e.lg.Warn().
				Str("checkpoint_id", cp.ID).
				Str("lock_id", l.ID).
				Str("specialist_id", id).
				Msg("released lock taken after checkpoint")
		}
	}
	return nil
}
