package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const (
	missionColumns = `id, title, description, status, priority, created_at,
		started_at, completed_at, total_sorties, completed_sorties, result, metadata`
	sortieColumns = `id, mission_id, title, description, status, priority,
		assigned_to, created_at, started_at, completed_at, progress, progress_notes,
		blocked_by, blocked_reason, files, result, metadata`
	specialistColumns = `id, name, status, capabilities, registered_at, last_seen,
		current_sortie, metadata`
	cursorColumns = `id, stream_type, stream_id, position, consumer_id, created_at, updated_at`
)

// MissionByIDTx reads a mission inside a write transaction for command
// preconditions and checkpoint snapshots. Returns (nil, nil) when missing.
func MissionByIDTx(ctx context.Context, tx *sql.Tx, missionID string) (*types.Mission, error) {
	mission, err := scanMission(tx.QueryRowContext(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE id = ?`, missionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission %s: %w", missionID, err)
	}
	return mission, nil
}

// SortiesByMissionTx reads all of a mission's sorties inside a write
// transaction, ordered by id for stable snapshots.
func SortiesByMissionTx(ctx context.Context, tx *sql.Tx, missionID string) ([]*types.Sortie, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+sortieColumns+` FROM sorties WHERE mission_id = ? ORDER BY id`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sorties for mission %s: %w", missionID, err)
	}
	defer rows.Close()
	return collectSorties(rows)
}

// SpecialistByIDTx reads a specialist inside a write transaction. Returns
// (nil, nil) when missing.
func SpecialistByIDTx(ctx context.Context, tx *sql.Tx, specialistID string) (*types.Specialist, error) {
	spec, err := scanSpecialist(tx.QueryRowContext(ctx,
		`SELECT `+specialistColumns+` FROM specialists WHERE id = ?`, specialistID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get specialist %s: %w", specialistID, err)
	}
	return spec, nil
}

func sortieByIDTx(ctx context.Context, tx *sql.Tx, sortieID string) (*types.Sortie, error) {
	sortie, err := scanSortie(tx.QueryRowContext(ctx,
		`SELECT `+sortieColumns+` FROM sorties WHERE id = ?`, sortieID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sortie %s: %w", sortieID, err)
	}
	return sortie, nil
}

func cursorByIDTx(ctx context.Context, tx *sql.Tx, cursorID string) (*types.Cursor, error) {
	cursor, err := scanCursor(tx.QueryRowContext(ctx,
		`SELECT `+cursorColumns+` FROM cursors WHERE id = ?`, cursorID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor %s: %w", cursorID, err)
	}
	return cursor, nil
}

// countOpenSortiesTx counts a mission's sorties that still admit work.
func countOpenSortiesTx(ctx context.Context, tx *sql.Tx, missionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sorties
		WHERE mission_id = ? AND status NOT IN (?, ?, ?)`,
		missionID, types.SortieCompleted, types.SortieFailed, types.SortieCancelled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open sorties for mission %s: %w", missionID, err)
	}
	return n, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return ` WHERE ` + strings.Join(conds, " AND ")
}

func limitClause(limit, offset int, args *[]interface{}) string {
	if limit <= 0 {
		return ""
	}
	*args = append(*args, limit, offset)
	return ` LIMIT ? OFFSET ?`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMission(row rowScanner) (*types.Mission, error) {
	var m types.Mission
	var createdAt string
	var description, startedAt, completedAt, result sql.NullString
	var metadata string
	err := row.Scan(&m.ID, &m.Title, &description, &m.Status, &m.Priority,
		&createdAt, &startedAt, &completedAt, &m.TotalSorties, &m.CompletedSorties,
		&result, &metadata)
	if err != nil {
		return nil, err
	}
	t, err := types.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	m.CreatedAt = t
	if m.StartedAt, err = parseTimePtr(startedAt, "started_at"); err != nil {
		return nil, err
	}
	if m.CompletedAt, err = parseTimePtr(completedAt, "completed_at"); err != nil {
		return nil, err
	}
	m.Description = strPtr(description)
	m.Result = strPtr(result)
	if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode mission metadata: %w", err)
	}
	return &m, nil
}

func scanSortie(row rowScanner) (*types.Sortie, error) {
	var s types.Sortie
	var createdAt string
	var missionID, description, assignedTo, startedAt, completedAt sql.NullString
	var progressNotes, blockedBy, blockedReason, result sql.NullString
	var files, metadata string
	err := row.Scan(&s.ID, &missionID, &s.Title, &description, &s.Status, &s.Priority,
		&assignedTo, &createdAt, &startedAt, &completedAt, &s.Progress, &progressNotes,
		&blockedBy, &blockedReason, &files, &result, &metadata)
	if err != nil {
		return nil, err
	}
	t, err := types.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	s.CreatedAt = t
	if s.StartedAt, err = parseTimePtr(startedAt, "started_at"); err != nil {
		return nil, err
	}
	if s.CompletedAt, err = parseTimePtr(completedAt, "completed_at"); err != nil {
		return nil, err
	}
	s.MissionID = strPtr(missionID)
	s.Description = strPtr(description)
	s.AssignedTo = strPtr(assignedTo)
	s.ProgressNotes = strPtr(progressNotes)
	s.BlockedBy = strPtr(blockedBy)
	s.BlockedReason = strPtr(blockedReason)
	s.Result = strPtr(result)
	if err := json.Unmarshal([]byte(files), &s.Files); err != nil {
		return nil, fmt.Errorf("failed to decode sortie files: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &s.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode sortie metadata: %w", err)
	}
	return &s, nil
}

func scanSpecialist(row rowScanner) (*types.Specialist, error) {
	var sp types.Specialist
	var registeredAt, lastSeen string
	var currentSortie sql.NullString
	var capabilities, metadata string
	err := row.Scan(&sp.ID, &sp.Name, &sp.Status, &capabilities,
		&registeredAt, &lastSeen, &currentSortie, &metadata)
	if err != nil {
		return nil, err
	}
	t, err := types.ParseTime(registeredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse registered_at: %w", err)
	}
	sp.RegisteredAt = t
	t, err = types.ParseTime(lastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_seen: %w", err)
	}
	sp.LastSeen = t
	sp.CurrentSortie = strPtr(currentSortie)
	if err := json.Unmarshal([]byte(capabilities), &sp.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode specialist capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &sp.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode specialist metadata: %w", err)
	}
	return &sp, nil
}

func scanCursor(row rowScanner) (*types.Cursor, error) {
	var c types.Cursor
	var createdAt, updatedAt string
	var consumerID sql.NullString
	err := row.Scan(&c.ID, &c.StreamType, &c.StreamID, &c.Position,
		&consumerID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t, err := types.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	c.CreatedAt = t
	t, err = types.ParseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	c.UpdatedAt = t
	c.ConsumerID = strPtr(consumerID)
	return &c, nil
}

func collectMissions(rows *sql.Rows) ([]*types.Mission, error) {
	var missions []*types.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mission: %w", err)
		}
		missions = append(missions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate missions: %w", err)
	}
	return missions, nil
}

func collectSorties(rows *sql.Rows) ([]*types.Sortie, error) {
	var sorties []*types.Sortie
	for rows.Next() {
		s, err := scanSortie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sortie: %w", err)
		}
		sorties = append(sorties, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sorties: %w", err)
	}
	return sorties, nil
}

func collectSpecialists(rows *sql.Rows) ([]*types.Specialist, error) {
	var specs []*types.Specialist
	for rows.Next() {
		sp, err := scanSpecialist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan specialist: %w", err)
		}
		specs = append(specs, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate specialists: %w", err)
	}
	return specs, nil
}

func parseTimePtr(ns sql.NullString, column string) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := types.ParseTime(ns.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return &t, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
