package export

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/projection"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Checkpoint snapshots ride inside event payloads, so single lines can get
// large. 16 MiB covers a mission with hundreds of sorties.
const maxLineBytes = 16 * 1024 * 1024

// Read imports JSONL events from r into an empty event log. Rows are
// inserted verbatim (ids, sequences, and timestamps preserved), then the
// projections are rebuilt by replaying the imported log. Returns the number
// of events imported.
//
// A populated log is refused with CONFLICT: import is a bootstrap operation,
// not a merge.
func Read(ctx context.Context, store *storage.Store, reg *projection.Registry, logger zerolog.Logger, r io.Reader) (int64, error) {
	recs, err := parseLines(r)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, types.Validationf("import input contains no events")
	}

	// Input is expected in global order but files assembled by hand are
	// tolerated; insertion order must be ascending so AUTOINCREMENT
	// bookkeeping lands on the maximum.
	sort.Slice(recs, func(i, j int) bool { return recs[i].GlobalSeq < recs[j].GlobalSeq })

	err = store.WriteTxn(ctx, func(tx *sql.Tx) error {
		var existing int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&existing); err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		if existing > 0 {
			return types.Conflictf("event log already contains %d events; import requires an empty log", existing)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (global_seq, event_id, event_type, stream_type, stream_id,
				sequence_number, data, causation_id, correlation_id, occurred_at, recorded_at, schema_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare import insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, rec := range recs {
			var causation interface{}
			if rec.CausationID != nil {
				causation = *rec.CausationID
			}
			if _, err := stmt.ExecContext(ctx, rec.GlobalSeq, rec.EventID, rec.EventType,
				rec.StreamType, rec.StreamID, rec.SequenceNumber, string(rec.Data),
				causation, rec.CorrelationID, rec.OccurredAt, rec.RecordedAt, rec.SchemaVersion); err != nil {
				if storage.IsUniqueViolation(err, "") {
					return types.Validationf("duplicate event in import input: %s (global %d)", rec.EventID, rec.GlobalSeq)
				}
				return fmt.Errorf("failed to insert event %s: %w", rec.EventID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info().Int("events", len(recs)).Msg("event log imported; rebuilding projections")
	if err := reg.Rebuild(ctx, store); err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// ReadFile imports from a JSONL file on disk.
func ReadFile(ctx context.Context, store *storage.Store, reg *projection.Registry, logger zerolog.Logger, path string) (int64, error) {
	f, err := os.Open(path) // #nosec G304 -- caller-chosen import path
	if err != nil {
		return 0, fmt.Errorf("failed to open import file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(ctx, store, reg, logger, f)
}

func parseLines(r io.Reader) ([]*record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var recs []*record
	seenGlobal := make(map[int64]int)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, types.Validationf("parse error at line %d: %v", lineNo, err)
		}
		if err := validateRecord(&rec); err != nil {
			return nil, types.Validationf("invalid event at line %d: %v", lineNo, err)
		}
		if prev, dup := seenGlobal[rec.GlobalSeq]; dup {
			return nil, types.Validationf("duplicate global_seq %d at lines %d and %d", rec.GlobalSeq, prev, lineNo)
		}
		seenGlobal[rec.GlobalSeq] = lineNo
		recs = append(recs, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import input: %w", err)
	}
	return recs, nil
}

func validateRecord(rec *record) error {
	if rec.GlobalSeq < 1 {
		return fmt.Errorf("global_seq must be >= 1, got %d", rec.GlobalSeq)
	}
	if rec.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if rec.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if !types.ValidStreamType(types.StreamType(rec.StreamType)) {
		return fmt.Errorf("unknown stream_type %q", rec.StreamType)
	}
	if rec.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if rec.SequenceNumber < 1 {
		return fmt.Errorf("sequence_number must be >= 1, got %d", rec.SequenceNumber)
	}
	if len(rec.Data) == 0 {
		rec.Data = json.RawMessage(`{}`)
	}
	if rec.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	if _, err := types.ParseTime(rec.OccurredAt); err != nil {
		return fmt.Errorf("bad occurred_at %q: %v", rec.OccurredAt, err)
	}
	if _, err := types.ParseTime(rec.RecordedAt); err != nil {
		return fmt.Errorf("bad recorded_at %q: %v", rec.RecordedAt, err)
	}
	if rec.SchemaVersion < 1 {
		return fmt.Errorf("schema_version must be >= 1, got %d", rec.SchemaVersion)
	}
	return nil
}
