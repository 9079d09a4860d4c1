package locks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const lockColumns = `id, file, normalized_path, reserved_by, reserved_at,
	released_at, expires_at, purpose, checksum, status, release_reason`

// GetByID loads one lock by id, any status.
func (m *Manager) GetByID(ctx context.Context, lockID string) (*types.Lock, error) {
	lock, err := scanLock(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE id = ?`, lockID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("lock %s not found", lockID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock %s: %w", lockID, err)
	}
	return lock, nil
}

// GetActive lists every active lock, ordered by path for stable output.
func (m *Manager) GetActive(ctx context.Context) ([]*types.Lock, error) {
	rows, err := m.store.ReadDB().QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE status = ? ORDER BY normalized_path`,
		types.LockActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active locks: %w", err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

// GetByFile lists the lock history of one file, newest first.
func (m *Manager) GetByFile(ctx context.Context, file string) ([]*types.Lock, error) {
	path, err := m.norm.Normalize(file)
	if err != nil {
		return nil, err
	}
	rows, err := m.store.ReadDB().QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE normalized_path = ?
		 ORDER BY reserved_at DESC, id DESC`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks for %s: %w", path, err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

// GetBySpecialist lists locks held by one specialist.
func (m *Manager) GetBySpecialist(ctx context.Context, specialistID string, activeOnly bool) ([]*types.Lock, error) {
	query := `SELECT ` + lockColumns + ` FROM locks WHERE reserved_by = ?`
	args := []interface{}{specialistID}
	if activeOnly {
		query += ` AND status = ?`
		args = append(args, types.LockActive)
	}
	query += ` ORDER BY reserved_at DESC, id DESC`
	rows, err := m.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks for %s: %w", specialistID, err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

// GetExpired lists active locks past their TTL, the sweeper's work queue.
func (m *Manager) GetExpired(ctx context.Context) ([]*types.Lock, error) {
	rows, err := m.store.ReadDB().QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE status = ? AND expires_at <= ?
		 ORDER BY normalized_path`,
		types.LockActive, types.FormatTime(m.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired locks: %w", err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

// IsLocked reports whether a live reservation covers the file and returns it.
func (m *Manager) IsLocked(ctx context.Context, file string) (bool, *types.Lock, error) {
	path, err := m.norm.Normalize(file)
	if err != nil {
		return false, nil, err
	}
	lock, err := scanLock(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE normalized_path = ? AND status = ?`,
		path, types.LockActive))
	if err == sql.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to check lock on %s: %w", path, err)
	}
	if lock.ExpiredAt(m.now().UTC()) {
		return false, lock, nil
	}
	return true, lock, nil
}

// CountActive returns the number of active locks, for status reporting.
func (m *Manager) CountActive(ctx context.Context) (int, error) {
	var n int
	err := m.store.ReadDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locks WHERE status = ?`, types.LockActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active locks: %w", err)
	}
	return n, nil
}

// ActiveBySpecialistTx lists a specialist's active locks inside the caller's
// transaction. The checkpoint engine snapshots locks through this so the
// capture observes the same event-log prefix as the rest of the snapshot.
func ActiveBySpecialistTx(ctx context.Context, tx *sql.Tx, specialistID string) ([]*types.Lock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE reserved_by = ? AND status = ?
		 ORDER BY normalized_path`, specialistID, types.LockActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active locks for %s: %w", specialistID, err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

func getByIDTx(ctx context.Context, tx *sql.Tx, lockID string) (*types.Lock, error) {
	lock, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE id = ?`, lockID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock %s: %w", lockID, err)
	}
	return lock, nil
}

func getActiveByPathTx(ctx context.Context, tx *sql.Tx, path string) (*types.Lock, error) {
	lock, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE normalized_path = ? AND status = ?`,
		path, types.LockActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active lock on %s: %w", path, err)
	}
	return lock, nil
}

func getLatestByPathTx(ctx context.Context, tx *sql.Tx, path string) (*types.Lock, error) {
	lock, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE normalized_path = ?
		 ORDER BY reserved_at DESC, id DESC LIMIT 1`, path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest lock on %s: %w", path, err)
	}
	return lock, nil
}

// listExpiredTx materializes the full expired set before the caller starts
// writing; a transaction cannot execute statements while rows are open.
func listExpiredTx(ctx context.Context, tx *sql.Tx, now time.Time) ([]*types.Lock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE status = ? AND expires_at <= ?
		 ORDER BY normalized_path`,
		types.LockActive, types.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired locks: %w", err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLock(row rowScanner) (*types.Lock, error) {
	var lock types.Lock
	var reservedAt, expiresAt string
	var releasedAt, checksum, releaseReason sql.NullString
	err := row.Scan(&lock.ID, &lock.File, &lock.NormalizedPath, &lock.ReservedBy,
		&reservedAt, &releasedAt, &expiresAt, &lock.Purpose, &checksum,
		&lock.Status, &releaseReason)
	if err != nil {
		return nil, err
	}
	t, err := types.ParseTime(reservedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reserved_at: %w", err)
	}
	lock.ReservedAt = t
	t, err = types.ParseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	lock.ExpiresAt = t
	if releasedAt.Valid {
		t, err = types.ParseTime(releasedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse released_at: %w", err)
		}
		lock.ReleasedAt = &t
	}
	if checksum.Valid {
		lock.Checksum = &checksum.String
	}
	if releaseReason.Valid {
		lock.ReleaseReason = &releaseReason.String
	}
	return &lock, nil
}

func collectLocks(rows *sql.Rows) ([]*types.Lock, error) {
	var locks []*types.Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locks: %w", err)
	}
	return locks, nil
}
