// Package storage owns the embedded SQLite database: schema, migrations,
// transaction primitives, health, and maintenance. Everything above it
// (event log, projections, managers) goes through ReadTxn/WriteTxn; nothing
// else in the repository opens the database file.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/v1truv1us/fleettools-sub002/internal/metrics"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Config carries the store tunables. Zero values get sane defaults.
type Config struct {
	Path               string
	BusyTimeout        time.Duration
	WALCheckpointEvery int
	WALWarnBytes       int64
	PathPolicy         string
	Logger             zerolog.Logger
}

// Store wraps two connection pools over one SQLite file: a single-connection
// write pool whose transactions start immediate, and a concurrent read pool.
// The write mutex on top of the pool is the core's single serialization
// point for appends and projection updates.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	log     zerolog.Logger

	writeMu      sync.Mutex
	writeCount   atomic.Int64
	lastWrite    atomic.Int64
	lastVacuumAt atomic.Int64
	readOnly     atomic.Bool

	walEvery     int
	walWarnBytes int64
	firstRun     bool
}

const (
	busyRetries   = 3
	busyBackoff   = 10 * time.Millisecond
	defaultBusyMS = 5000
)

// Open opens (creating if necessary) the database, applies the schema and
// migrations, and verifies the recorded path policy matches cfg.PathPolicy.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	busyMS := int(cfg.BusyTimeout / time.Millisecond)
	if busyMS <= 0 {
		busyMS = defaultBusyMS
	}
	walEvery := cfg.WALCheckpointEvery
	if walEvery <= 0 {
		walEvery = 512
	}
	warnBytes := cfg.WALWarnBytes
	if warnBytes <= 0 {
		warnBytes = 64 * 1024 * 1024
	}

	writeDSN := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_txlock=immediate",
		cfg.Path, busyMS)
	readDSN := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)",
		cfg.Path, busyMS)

	writeDB, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for writing: %w", err)
	}
	// One writer connection: per-stream sequencing relies on write
	// transactions never interleaving.
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open database for reading: %w", err)
	}
	readDB.SetMaxOpenConns(8)

	s := &Store{
		writeDB:      writeDB,
		readDB:       readDB,
		path:         cfg.Path,
		log:          cfg.Logger,
		walEvery:     walEvery,
		walWarnBytes: warnBytes,
	}

	if err := s.initialize(ctx, cfg.PathPolicy); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// initialize applies the schema in one transaction, runs migrations, and
// pins or verifies the metadata rows that must never change.
func (s *Store) initialize(ctx context.Context, pathPolicy string) error {
	var existed bool
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'metadata'`,
	).Scan(&existed)
	if err != nil {
		return fmt.Errorf("failed to probe database: %w", err)
	}
	s.firstRun = !existed

	// Full schema replay in a single transaction: every statement is
	// IF NOT EXISTS, so reapplying on every startup is safe and keeps
	// table/index creation dependencies ordered.
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	if err := s.runMigrations(ctx); err != nil {
		return err
	}

	policy, err := s.Meta(ctx, MetaPathPolicy)
	if err != nil {
		return err
	}
	switch policy {
	case "":
		if err := s.setMetaDirect(ctx, MetaPathPolicy, pathPolicy); err != nil {
			return err
		}
		if err := s.setMetaDirect(ctx, MetaInitializedAt, types.FormatTime(time.Now())); err != nil {
			return err
		}
	case pathPolicy:
	default:
		return fmt.Errorf("database was created with path policy %q but this configuration resolves to %q; refusing to open", policy, pathPolicy)
	}

	return nil
}

// FirstRun reports whether Open created the database rather than reopening
// an existing one. The caller appends the fleet_initialized event exactly
// when this is true.
func (s *Store) FirstRun() bool { return s.firstRun }

// Close closes both pools.
func (s *Store) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// ReadDB exposes the concurrent read pool for projection queries.
func (s *Store) ReadDB() *sql.DB { return s.readDB }

// Prepare readies a statement against the read pool for hot query paths.
func (s *Store) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.readDB.PrepareContext(ctx, query)
}

// ReadTxn runs fn inside a read-only transaction, giving it a consistent
// snapshot of the database.
func (s *Store) ReadTxn(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteTxn runs fn inside the store's single write transaction. SQLITE_BUSY
// failures retry with bounded exponential backoff before surfacing as
// TRANSIENT; every other error aborts immediately and rolls back.
func (s *Store) WriteTxn(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.readOnly.Load() {
		return types.NewError(types.KindCorruption, "store is in read-only mode; writes are refused")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if attempt > 0 {
			metrics.WriteRetries.Inc()
			backoff := busyBackoff << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.attemptWrite(ctx, fn)
		if err == nil {
			s.lastWrite.Store(time.Now().UnixNano())
			n := s.writeCount.Add(1)
			if n%int64(s.walEvery) == 0 {
				if err := s.walCheckpointPassive(ctx); err != nil {
					s.log.Warn().Err(err).Msg("incremental wal checkpoint failed")
				}
			}
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		lastErr = err
	}
	return types.WrapError(types.KindTransient, lastErr, "store busy after %d attempts", busyRetries)
}

func (s *Store) attemptWrite(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin write transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write transaction: %w", err)
	}
	committed = true
	return nil
}

// EnterReadOnly latches the store into read-only mode. Used when the event
// log detects an inconsistency that writes could make worse.
func (s *Store) EnterReadOnly(reason string) {
	if s.readOnly.CompareAndSwap(false, true) {
		s.log.Error().Str("reason", reason).Msg("store entering read-only mode; writes will be refused until restart")
	}
}

// IsReadOnly reports whether the corruption latch is set.
func (s *Store) IsReadOnly() bool { return s.readOnly.Load() }

// WriteCount returns the number of committed write transactions this run.
func (s *Store) WriteCount() int64 { return s.writeCount.Load() }

// LastWriteAt returns the time of the most recent committed write, or the
// zero time when nothing has been written this run.
func (s *Store) LastWriteAt() time.Time {
	n := s.lastWrite.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// IsBusy reports whether err is SQLite lock contention worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure,
// optionally on the given constraint target (table.column).
func IsUniqueViolation(err error, target string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return target == "" || strings.Contains(msg, target)
}

// WALPath is the sidecar file the health probe sizes.
func (s *Store) WALPath() string { return s.path + "-wal" }

// WALSize returns the current size of the WAL sidecar, zero if absent.
func (s *Store) WALSize() int64 {
	info, err := os.Stat(s.WALPath())
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Store) walCheckpointPassive(ctx context.Context) error {
	if _, err := s.writeDB.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("failed to checkpoint wal: %w", err)
	}
	return nil
}
