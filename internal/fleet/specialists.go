package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// RegisterSpecialistRequest is the input for registering an external agent.
// ID is caller-chosen when set; the core mints one otherwise.
type RegisterSpecialistRequest struct {
	ID           string
	Name         string
	Capabilities []string
	Status       types.SpecialistStatus
	Metadata     map[string]interface{}
	CausationID  *string
}

// RegisterSpecialist records an agent identity. Re-registering an existing
// id refreshes name, capabilities, status and metadata but keeps the
// original registration time.
func (m *Manager) RegisterSpecialist(ctx context.Context, req RegisterSpecialistRequest) (*types.Specialist, error) {
	if req.Name == "" {
		return nil, types.Validationf("name is required")
	}
	specialistID := req.ID
	if specialistID == "" {
		specialistID = m.ids.New(ident.PrefixSpecialist)
	} else if !ident.Valid(specialistID) && !ident.ValidExternal(specialistID) {
		return nil, types.Validationf("invalid specialist id %q", specialistID)
	}
	status := req.Status
	if status == "" {
		status = types.SpecialistActive
	}
	if !types.ValidSpecialistStatus(status) {
		return nil, types.Validationf("invalid status %q", status)
	}

	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		now := m.now().UTC()
		_, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSpecialistRegistered,
			StreamType:  types.StreamSpecialist,
			StreamID:    specialistID,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.SpecialistRegisteredPayload{
				SpecialistID: specialistID,
				Name:         req.Name,
				Capabilities: req.Capabilities,
				Status:       status,
				Metadata:     req.Metadata,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	// Read back so re-registrations report the original registered_at.
	return m.GetSpecialist(ctx, specialistID)
}

// Heartbeat refreshes a specialist's last_seen, optionally updating status
// and current sortie. An empty current sortie string clears the field.
func (m *Manager) Heartbeat(ctx context.Context, specialistID string, status *types.SpecialistStatus, currentSortie *string, causationID *string) (*types.Specialist, error) {
	if specialistID == "" {
		return nil, types.Validationf("specialist_id is required")
	}
	if status != nil && !types.ValidSpecialistStatus(*status) {
		return nil, types.Validationf("invalid status %q", *status)
	}
	var out *types.Specialist
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		spec, err := SpecialistByIDTx(ctx, tx, specialistID)
		if err != nil {
			return err
		}
		if spec == nil {
			return types.NotFoundf("specialist %s not found", specialistID)
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventSpecialistHeartbeat,
			StreamType:  types.StreamSpecialist,
			StreamID:    specialistID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data: &types.SpecialistHeartbeatPayload{
				SpecialistID:  specialistID,
				Status:        status,
				CurrentSortie: currentSortie,
			},
		})
		if err != nil {
			return err
		}
		spec.LastSeen = now
		if status != nil {
			spec.Status = *status
		}
		if currentSortie != nil {
			if *currentSortie == "" {
				spec.CurrentSortie = nil
			} else {
				spec.CurrentSortie = currentSortie
			}
		}
		out = spec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSpecialist loads one specialist.
func (m *Manager) GetSpecialist(ctx context.Context, specialistID string) (*types.Specialist, error) {
	spec, err := scanSpecialist(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+specialistColumns+` FROM specialists WHERE id = ?`, specialistID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("specialist %s not found", specialistID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get specialist %s: %w", specialistID, err)
	}
	return spec, nil
}

// SpecialistFilter narrows a specialist listing. StaleThreshold only
// applies when StaleOnly is set.
type SpecialistFilter struct {
	Status         types.SpecialistStatus
	StaleOnly      bool
	StaleThreshold time.Duration
}

// ListSpecialists returns specialists ordered by registration.
func (m *Manager) ListSpecialists(ctx context.Context, f SpecialistFilter) ([]*types.Specialist, error) {
	query := `SELECT ` + specialistColumns + ` FROM specialists`
	var conds []string
	var args []interface{}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.StaleOnly {
		cutoff := m.now().UTC().Add(-f.StaleThreshold)
		conds = append(conds, "last_seen < ?")
		args = append(args, types.FormatTime(cutoff))
	}
	query += whereClause(conds) + ` ORDER BY registered_at, id`

	rows, err := m.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list specialists: %w", err)
	}
	defer rows.Close()
	return collectSpecialists(rows)
}
