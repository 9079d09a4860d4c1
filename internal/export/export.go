// Package export round-trips the event log through JSONL: one event per
// line, ordered by global sequence. Export is a plain read; import inserts
// rows verbatim into an empty log and rebuilds projections by replay, so an
// exported store and its re-import converge on identical projections.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/v1truv1us/fleettools-sub002/internal/storage"
)

// record is the wire form of one event line. Timestamps are canonical
// strings rather than time.Time so a round trip reproduces the stored text
// byte for byte.
type record struct {
	GlobalSeq      int64           `json:"global_seq"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	StreamType     string          `json:"stream_type"`
	StreamID       string          `json:"stream_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
	CausationID    *string         `json:"causation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	OccurredAt     string          `json:"occurred_at"`
	RecordedAt     string          `json:"recorded_at"`
	SchemaVersion  int             `json:"schema_version"`
}

const exportBatch = 500

// Write streams every event to w as JSONL in global order. The whole export
// runs inside one read transaction so concurrent appends cannot tear it.
// Returns the number of events written.
func Write(ctx context.Context, store *storage.Store, w io.Writer) (int64, error) {
	var written int64
	err := store.ReadTxn(ctx, func(tx *sql.Tx) error {
		enc := json.NewEncoder(w)
		var after int64
		for {
			recs, err := readBatch(ctx, tx, after, exportBatch)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return nil
			}
			for _, rec := range recs {
				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("failed to encode event %s: %w", rec.EventID, err)
				}
			}
			after = recs[len(recs)-1].GlobalSeq
			written += int64(len(recs))
		}
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// WriteFile exports to path atomically: write to a temp file in the same
// directory, then rename over the destination.
func WriteFile(ctx context.Context, store *storage.Store, path string) (int64, error) {
	tempPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	f, err := os.Create(tempPath) // #nosec G304 -- caller-chosen export path
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	n, err := Write(ctx, store, f)
	if err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	f = nil
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

func readBatch(ctx context.Context, tx *sql.Tx, afterGlobal int64, limit int) ([]*record, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT global_seq, event_id, event_type, stream_type, stream_id, sequence_number,
			data, causation_id, correlation_id, occurred_at, recorded_at, schema_version
		FROM events WHERE global_seq > ? ORDER BY global_seq ASC LIMIT ?`,
		afterGlobal, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events for export: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*record
	for rows.Next() {
		var (
			rec       record
			data      string
			causation sql.NullString
		)
		if err := rows.Scan(&rec.GlobalSeq, &rec.EventID, &rec.EventType, &rec.StreamType,
			&rec.StreamID, &rec.SequenceNumber, &data, &causation, &rec.CorrelationID,
			&rec.OccurredAt, &rec.RecordedAt, &rec.SchemaVersion); err != nil {
			return nil, fmt.Errorf("failed to scan event for export: %w", err)
		}
		rec.Data = json.RawMessage(data)
		if causation.Valid {
			rec.CausationID = &causation.String
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
