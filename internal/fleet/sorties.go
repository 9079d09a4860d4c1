package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// sortieStream routes a sortie's events. Attached sorties append to their
// mission's stream so the mission stream totally orders everything that
// happened to the mission; unattached sorties get their own stream.
func sortieStream(s *types.Sortie) (types.StreamType, string) {
	if s.MissionID != nil {
		return types.StreamMission, *s.MissionID
	}
	return types.StreamSortie, s.ID
}

// CreateSortieRequest is the input for a new sortie.
type CreateSortieRequest struct {
	MissionID   *string
	Title       string
	Description *string
	Priority    types.Priority
	Files       []string
	CreatedBy   *string
	Metadata    map[string]interface{}
	CausationID *string
}

// CreateSortie registers a new work item, optionally under a mission. The
// mission must exist and still be open.
func (m *Manager) CreateSortie(ctx context.Context, req CreateSortieRequest) (*types.Sortie, error) {
	if req.Title == "" {
		return nil, types.Validationf("title is required")
	}
	if len(req.Title) > maxTitleLen {
		return nil, types.Validationf("title exceeds %d characters", maxTitleLen)
	}
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	if !types.ValidPriority(priority) {
		return nil, types.Validationf("invalid priority %q", priority)
	}

	sortieID := m.ids.New(ident.PrefixSortie)
	var created *types.Sortie
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		if req.MissionID != nil {
			mission, err := MissionByIDTx(ctx, tx, *req.MissionID)
			if err != nil {
				return err
			}
			if mission == nil {
				return types.NotFoundf("mission %s not found", *req.MissionID)
			}
			if types.TerminalMission(mission.Status) {
				return types.Preconditionf("mission %s is %s", mission.ID, mission.Status)
			}
		}
		now := m.now().UTC()
		sortie := &types.Sortie{
			ID:        sortieID,
			MissionID: req.MissionID,
			Title:     req.Title,
			Status:    types.SortiePending,
			Priority:  priority,
			CreatedAt: now,
			Files:     req.Files,
			Metadata:  req.Metadata,
		}
		sortie.Description = req.Description
		streamType, streamID := sortieStream(sortie)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieCreated,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.SortieCreatedPayload{
				SortieID:    sortieID,
				MissionID:   req.MissionID,
				Title:       req.Title,
				Description: req.Description,
				Priority:    priority,
				Files:       req.Files,
				CreatedBy:   req.CreatedBy,
				Metadata:    req.Metadata,
			},
		})
		if err != nil {
			return err
		}
		created = sortie
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// sortieCommand loads the sortie, runs the command body in the write
// transaction, and returns the mutated sortie.
func (m *Manager) sortieCommand(ctx context.Context, sortieID string, fn func(tx *sql.Tx, s *types.Sortie, now time.Time) error) (*types.Sortie, error) {
	var out *types.Sortie
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := sortieByIDTx(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		if s == nil {
			return types.NotFoundf("sortie %s not found", sortieID)
		}
		now := m.now().UTC()
		if err := fn(tx, s, now); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignSortie hands a sortie to a registered specialist. Re-assignment is
// legal until work starts.
func (m *Manager) AssignSortie(ctx context.Context, sortieID, specialistID string, assignedBy, causationID *string) (*types.Sortie, error) {
	if specialistID == "" {
		return nil, types.Validationf("specialist_id is required")
	}
	return m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if !types.ValidSortieTransition(s.Status, types.SortieAssigned) {
			return types.Conflictf("cannot assign sortie %s from %s", sortieID, s.Status)
		}
		spec, err := SpecialistByIDTx(ctx, tx, specialistID)
		if err != nil {
			return err
		}
		if spec == nil {
			return types.NotFoundf("specialist %s not found", specialistID)
		}
		streamType, streamID := sortieStream(s)
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieAssigned,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.SortieAssignedPayload{
				SortieID:     sortieID,
				SpecialistID: specialistID,
				AssignedBy:   assignedBy,
			},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieAssigned
		s.AssignedTo = &specialistID
		return nil
	})
}

// StartSortie begins work. Only the assigned specialist may start it.
func (m *Manager) StartSortie(ctx context.Context, sortieID, specialistID string, causationID *string) (*types.Sortie, error) {
	if specialistID == "" {
		return nil, types.Validationf("specialist_id is required")
	}
	return m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if s.Status != types.SortieAssigned {
			return types.Conflictf("cannot start sortie %s from %s", sortieID, s.Status)
		}
		if s.AssignedTo == nil || *s.AssignedTo != specialistID {
			return types.Ownershipf("sortie %s is assigned to %s", sortieID, deref(s.AssignedTo))
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieStarted,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.SortieStartedPayload{SortieID: sortieID, SpecialistID: specialistID},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieInProgress
		s.StartedAt = &now
		return nil
	})
}

// ProgressSortie records progress on a running sortie. Progress never moves
// backward within a run; a report behind the current value is stale.
func (m *Manager) ProgressSortie(ctx context.Context, sortieID string, progress int, notes *string, causationID *string) (*types.Sortie, error) {
	if progress < 0 || progress > 100 {
		return nil, types.Validationf("progress must be between 0 and 100, got %d", progress)
	}
	return m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if s.Status != types.SortieInProgress {
			return types.Conflictf("cannot report progress on sortie %s in %s", sortieID, s.Status)
		}
		if progress < s.Progress {
			return types.Stalef("progress %d is behind current %d", progress, s.Progress)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieProgressed,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.SortieProgressedPayload{
				SortieID: sortieID,
				Progress: progress,
				Notes:    notes,
			},
		})
		if err != nil {
			return err
		}
		s.Progress = progress
		if notes != nil {
			s.ProgressNotes = notes
		}
		return nil
	})
}

// BlockSortie parks a running sortie on an obstacle.
func (m *Manager) BlockSortie(ctx context.Context, sortieID string, blockedBy *string, reason string, causationID *string) (*types.Sortie, error) {
	if reason == "" {
		return nil, types.Validationf("reason is required")
	}
	return m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if !types.ValidSortieTransition(s.Status, types.SortieBlocked) {
			return types.Conflictf("cannot block sortie %s from %s", sortieID, s.Status)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieBlocked,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.SortieBlockedPayload{
				SortieID:  sortieID,
				BlockedBy: blockedBy,
				Reason:    reason,
			},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieBlocked
		s.BlockedBy = blockedBy
		s.BlockedReason = &reason
		return nil
	})
}

// UnblockSortie resumes a blocked sortie.
func (m *Manager) UnblockSortie(ctx context.Context, sortieID string, causationID *string) (*types.Sortie, error) {
	return m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if s.Status != types.SortieBlocked {
			return types.Conflictf("cannot unblock sortie %s from %s", sortieID, s.Status)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieUnblocked,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.SortieUnblockedPayload{SortieID: sortieID},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieInProgress
		s.BlockedBy = nil
		s.BlockedReason = nil
		return nil
	})
}

// RequestSortieReview moves a running sortie into review.
func (m *Manager) RequestSortieReview(ctx context.Context, sortieID string, causationID *string) (*types.Sortie, error) {
	return m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if !types.ValidSortieTransition(s.Status, types.SortieReview) {
			return types.Conflictf("cannot request review for sortie %s from %s", sortieID, s.Status)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieReviewRequested,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.SortieReviewRequestedPayload{SortieID: sortieID},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieReview
		return nil
	})
}

// CompleteSortie finishes a sortie and bumps its mission's progress.
func (m *Manager) CompleteSortie(ctx context.Context, sortieID string, result, completedBy *string, causationID *string) (*types.Sortie, error) {
	s, err := m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if !types.ValidSortieTransition(s.Status, types.SortieCompleted) {
			return types.Conflictf("cannot complete sortie %s from %s", sortieID, s.Status)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieCompleted,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.SortieCompletedPayload{
				SortieID:    sortieID,
				Result:      result,
				CompletedBy: completedBy,
			},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieCompleted
		s.CompletedAt = &now
		s.Progress = 100
		s.Result = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.fireProgress(ctx, s.MissionID)
	return s, nil
}

// FailSortie marks a sortie failed with a reason.
func (m *Manager) FailSortie(ctx context.Context, sortieID, reason string, causationID *string) (*types.Sortie, error) {
	if reason == "" {
		return nil, types.Validationf("reason is required")
	}
	s, err := m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if !types.ValidSortieTransition(s.Status, types.SortieFailed) {
			return types.Conflictf("cannot fail sortie %s from %s", sortieID, s.Status)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieFailed,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.SortieFailedPayload{SortieID: sortieID, Reason: reason},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieFailed
		s.CompletedAt = &now
		s.Result = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.fireProgress(ctx, s.MissionID)
	return s, nil
}

// CancelSortie withdraws a sortie from any non-terminal state.
func (m *Manager) CancelSortie(ctx context.Context, sortieID string, reason *string, causationID *string) (*types.Sortie, error) {
	s, err := m.sortieCommand(ctx, sortieID, func(tx *sql.Tx, s *types.Sortie, now time.Time) error {
		if !types.ValidSortieTransition(s.Status, types.SortieCancelled) {
			return types.Conflictf("cannot cancel sortie %s from %s", sortieID, s.Status)
		}
		streamType, streamID := sortieStream(s)
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSortieCancelled,
			StreamType:  streamType,
			StreamID:    streamID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.SortieCancelledPayload{SortieID: sortieID, Reason: reason},
		})
		if err != nil {
			return err
		}
		s.Status = types.SortieCancelled
		s.CompletedAt = &now
		s.Result = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.fireProgress(ctx, s.MissionID)
	return s, nil
}

// GetSortie loads one sortie.
func (m *Manager) GetSortie(ctx context.Context, sortieID string) (*types.Sortie, error) {
	sortie, err := scanSortie(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+sortieColumns+` FROM sorties WHERE id = ?`, sortieID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("sortie %s not found", sortieID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sortie %s: %w", sortieID, err)
	}
	return sortie, nil
}

// SortieFilter narrows a sortie listing.
type SortieFilter struct {
	MissionID  string
	Status     types.SortieStatus
	AssignedTo string
	Limit      int
	Offset     int
}

// ListSorties returns sorties in creation order.
func (m *Manager) ListSorties(ctx context.Context, f SortieFilter) ([]*types.Sortie, error) {
	query := `SELECT ` + sortieColumns + ` FROM sorties`
	var conds []string
	var args []interface{}
	if f.MissionID != "" {
		conds = append(conds, "mission_id = ?")
		args = append(args, f.MissionID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	query += whereClause(conds) + ` ORDER BY created_at, id`
	query += limitClause(f.Limit, f.Offset, &args)

	rows, err := m.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sorties: %w", err)
	}
	defer rows.Close()
	return collectSorties(rows)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
