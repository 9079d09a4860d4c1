package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Migration is a single idempotent schema change. Migrations run in order
// inside one EXCLUSIVE transaction; each checks for its own work before
// doing it so databases created from the current schema const pass through
// untouched.
type Migration struct {
	Name string
	Func func(ctx context.Context, db *sql.DB) error
}

var migrationsList = []Migration{
	{"locks_release_reason_column", migrateLocksReleaseReason},
	{"messages_insertion_seq_column", migrateMessagesInsertionSeq},
	{"checkpoints_progress_unique_index", migrateCheckpointsProgressUnique},
	{"events_recorded_index", migrateEventsRecordedIndex},
}

// SchemaVersion is the number of migrations this binary knows. Stored in
// the metadata schema_version row; a database reporting a higher version
// (or an unknown migration name) refuses to open.
var SchemaVersion = len(migrationsList)

// runMigrations serializes migrations across processes with an EXCLUSIVE
// transaction, then records the applied set and version.
func (s *Store) runMigrations(ctx context.Context) error {
	if err := s.checkMigrationCompat(ctx); err != nil {
		return err
	}

	// writeDB has a single connection, so raw BEGIN/COMMIT statements pair
	// up on the same connection.
	if _, err := s.writeDB.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = s.writeDB.ExecContext(ctx, "ROLLBACK")
		}
	}()

	now := types.FormatTime(time.Now())
	for _, m := range migrationsList {
		if err := m.Func(ctx, s.writeDB); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := s.writeDB.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)
			 ON CONFLICT (name) DO NOTHING`, m.Name, now); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}

	if _, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		MetaSchemaVersion, fmt.Sprintf("%d", SchemaVersion), now); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if _, err := s.writeDB.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}

// checkMigrationCompat refuses to open databases written by a newer binary,
// naming the first migration this binary does not have.
func (s *Store) checkMigrationCompat(ctx context.Context) error {
	known := make(map[string]bool, len(migrationsList))
	for _, m := range migrationsList {
		known[m.Name] = true
	}

	rows, err := s.readDB.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY name`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan migration name: %w", err)
		}
		if !known[name] {
			return fmt.Errorf("database requires migration %q which this binary does not provide; upgrade the server", name)
		}
	}
	return rows.Err()
}

func migrateLocksReleaseReason(ctx context.Context, db *sql.DB) error {
	ok, err := columnExists(ctx, db, "locks", "release_reason")
	if err != nil || ok {
		return err
	}
	_, err = db.ExecContext(ctx, `ALTER TABLE locks ADD COLUMN release_reason TEXT`)
	return err
}

func migrateMessagesInsertionSeq(ctx context.Context, db *sql.DB) error {
	ok, err := columnExists(ctx, db, "messages", "insertion_seq")
	if err != nil || ok {
		return err
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE messages ADD COLUMN insertion_seq INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	// Backfill from the originating event so existing mailboxes keep their
	// delivery order.
	_, err = db.ExecContext(ctx, `
		UPDATE messages SET insertion_seq = COALESCE(
			(SELECT e.global_seq FROM events e
			 WHERE e.event_type = 'message_sent'
			   AND json_extract(e.data, '$.message_id') = messages.id),
			0)
		WHERE insertion_seq = 0`)
	return err
}

func migrateCheckpointsProgressUnique(ctx context.Context, db *sql.DB) error {
	ok, err := indexExists(ctx, db, "idx_checkpoints_progress_once")
	if err != nil || ok {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX idx_checkpoints_progress_once
		ON checkpoints(mission_id, trigger_kind, progress_percent)
		WHERE trigger_kind = 'progress'`)
	return err
}

func migrateEventsRecordedIndex(ctx context.Context, db *sql.DB) error {
	ok, err := indexExists(ctx, db, "idx_events_recorded")
	if err != nil || ok {
		return err
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX idx_events_recorded ON events(recorded_at, global_seq)`)
	return err
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func indexExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name,
	).Scan(&n)
	return n > 0, err
}
