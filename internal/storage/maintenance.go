package storage

import (
	"context"
	"fmt"
	"time"
)

// MaintenanceTick runs periodic housekeeping: a passive WAL checkpoint every
// tick, and an incremental vacuum once the writer has been idle for
// idleAfter with writes outstanding since the last vacuum. Safe to call from
// a single background goroutine.
func (s *Store) MaintenanceTick(ctx context.Context, idleAfter time.Duration) error {
	if s.readOnly.Load() {
		return nil
	}
	if err := s.walCheckpointPassive(ctx); err != nil {
		s.log.Warn().Err(err).Msg("wal checkpoint failed")
	}

	last := s.lastWrite.Load()
	if last == 0 {
		return nil
	}
	idle := time.Since(time.Unix(0, last))
	if idle < idleAfter {
		return nil
	}
	count := s.writeCount.Load()
	if count == s.lastVacuumAt.Load() {
		return nil // nothing written since the last vacuum
	}
	if err := s.Vacuum(ctx); err != nil {
		return err
	}
	s.lastVacuumAt.Store(count)
	return nil
}

// Vacuum reclaims free pages. Runs outside any transaction; SQLite forbids
// VACUUM inside one.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writeDB.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	s.log.Debug().Msg("vacuum completed")
	return nil
}

// TruncateWAL forces a blocking checkpoint and truncates the WAL file.
// Used by export so the main database file is self-contained.
func (s *Store) TruncateWAL(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writeDB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to truncate wal: %w", err)
	}
	return nil
}
