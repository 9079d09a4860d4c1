package fleet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const maxTitleLen = 500

// CreateMissionRequest is the input for a new mission.
type CreateMissionRequest struct {
	Title       string
	Description *string
	Priority    types.Priority
	CreatedBy   *string
	Metadata    map[string]interface{}
	CausationID *string
}

// CreateMission registers a new mission in pending state.
func (m *Manager) CreateMission(ctx context.Context, req CreateMissionRequest) (*types.Mission, error) {
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

	missionID := m.ids.New(ident.PrefixMission)
	var created *types.Mission
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		now := m.now().UTC()
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMissionCreated,
			StreamType:  types.StreamMission,
			StreamID:    missionID,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.MissionCreatedPayload{
				MissionID:   missionID,
				Title:       req.Title,
				Description: req.Description,
				Priority:    priority,
				CreatedBy:   req.CreatedBy,
				Metadata:    req.Metadata,
			},
		})
		if err != nil {
			return err
		}
		created = &types.Mission{
			ID:          missionID,
			Title:       req.Title,
			Description: req.Description,
			Status:      types.MissionPending,
			Priority:    priority,
			CreatedAt:   now,
			Metadata:    req.Metadata,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// StartMission moves a mission from pending to in_progress.
func (m *Manager) StartMission(ctx context.Context, missionID string, startedBy *string, causationID *string) (*types.Mission, error) {
	var started *types.Mission
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := MissionByIDTx(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if mission == nil {
			return types.NotFoundf("mission %s not found", missionID)
		}
		if !types.ValidMissionTransition(mission.Status, types.MissionInProgress) {
			return types.Conflictf("cannot start mission %s from %s", missionID, mission.Status)
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMissionStarted,
			StreamType:  types.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.MissionStartedPayload{MissionID: missionID, StartedBy: startedBy},
		})
		if err != nil {
			return err
		}
		mission.Status = types.MissionInProgress
		mission.StartedAt = &now
		started = mission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// RequestMissionReview moves a mission from in_progress to review.
func (m *Manager) RequestMissionReview(ctx context.Context, missionID string, requestedBy *string, causationID *string) (*types.Mission, error) {
	var reviewed *types.Mission
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := MissionByIDTx(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if mission == nil {
			return types.NotFoundf("mission %s not found", missionID)
		}
		if !types.ValidMissionTransition(mission.Status, types.MissionReview) {
			return types.Conflictf("cannot request review for mission %s from %s", missionID, mission.Status)
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMissionReviewRequested,
			StreamType:  types.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.MissionReviewRequestedPayload{MissionID: missionID, RequestedBy: requestedBy},
		})
		if err != nil {
			return err
		}
		mission.Status = types.MissionReview
		reviewed = mission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reviewed, nil
}

// CompleteMission finishes a mission. Every sortie must already be in a
// terminal state; completing over open work is refused.
func (m *Manager) CompleteMission(ctx context.Context, missionID string, result, completedBy *string, causationID *string) (*types.Mission, error) {
	var completed *types.Mission
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := MissionByIDTx(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if mission == nil {
			return types.NotFoundf("mission %s not found", missionID)
		}
		if !types.ValidMissionTransition(mission.Status, types.MissionCompleted) {
			return types.Conflictf("cannot complete mission %s from %s", missionID, mission.Status)
		}
		open, err := countOpenSortiesTx(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if open > 0 {
			return types.Preconditionf("mission %s has %d open sorties", missionID, open)
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMissionCompleted,
			StreamType:  types.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.MissionCompletedPayload{
				MissionID:   missionID,
				Result:      result,
				CompletedBy: completedBy,
			},
		})
		if err != nil {
			return err
		}
		mission.Status = types.MissionCompleted
		mission.CompletedAt = &now
		mission.Result = result
		completed = mission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// CancelMission aborts a mission from any non-terminal state.
func (m *Manager) CancelMission(ctx context.Context, missionID string, reason, cancelledBy *string, causationID *string) (*types.Mission, error) {
	var cancelled *types.Mission
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := MissionByIDTx(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if mission == nil {
			return types.NotFoundf("mission %s not found", missionID)
		}
		if !types.ValidMissionTransition(mission.Status, types.MissionCancelled) {
			return types.Conflictf("cannot cancel mission %s from %s", missionID, mission.Status)
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMissionCancelled,
			StreamType:  types.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.MissionCancelledPayload{
				MissionID:   missionID,
				Reason:      reason,
				CancelledBy: cancelledBy,
			},
		})
		if err != nil {
			return err
		}
		mission.Status = types.MissionCancelled
		mission.CompletedAt = &now
		mission.Result = reason
		cancelled = mission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// GetMission loads one mission.
func (m *Manager) GetMission(ctx context.Context, missionID string) (*types.Mission, error) {
	mission, err := scanMission(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE id = ?`, missionID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("mission %s not found", missionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission %s: %w", missionID, err)
	}
	return mission, nil
}

// MissionFilter narrows a mission listing.
type MissionFilter struct {
	Status   types.MissionStatus
	Priority types.Priority
	Limit    int
	Offset   int
}

// ListMissions returns missions newest first.
func (m *Manager) ListMissions(ctx context.Context, f MissionFilter) ([]*types.Mission, error) {
	query := `SELECT ` + missionColumns + ` FROM missions`
	var conds []string
	var args []interface{}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, f.Priority)
	}
	query += whereClause(conds) + ` ORDER BY created_at DESC, id DESC`
	query += limitClause(f.Limit, f.Offset, &args)

	rows, err := m.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()
	return collectMissions(rows)
}
