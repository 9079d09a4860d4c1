package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Filter narrows event queries. Zero fields are ignored. AfterSequence is
// meaningful only with StreamType+StreamID; AfterGlobal stands alone.
type Filter struct {
	StreamType    types.StreamType
	StreamID      string
	EventType     string
	CausationID   string
	CorrelationID string
	AfterSequence int64
	AfterGlobal   int64
	Limit         int
}

const eventColumns = `global_seq, event_id, event_type, stream_type, stream_id,
	sequence_number, data, causation_id, correlation_id, occurred_at, recorded_at, schema_version`

// Query returns events matching the filter. Stream-scoped queries come back
// in sequence order; everything else in global order.
func (l *Log) Query(ctx context.Context, f Filter) ([]*types.Event, error) {
	where, args := f.whereClause()
	order := "global_seq ASC"
	if f.StreamType != "" && f.StreamID != "" {
		order = "sequence_number ASC"
	}
	limitSQL := ""
	if f.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, f.Limit)
	}

	// #nosec G201 - clause fragments are assembled from fixed strings
	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY %s%s`, eventColumns, where, order, limitSQL)
	rows, err := l.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns how many events match the filter, ignoring limits.
func (l *Log) Count(ctx context.Context, f Filter) (int64, error) {
	f.Limit = 0
	where, args := f.whereClause()
	var n int64
	// #nosec G201 - clause fragments are assembled from fixed strings
	err := l.store.ReadDB().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM events%s`, where), args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// GetByID returns one event.
func (l *Log) GetByID(ctx context.Context, eventID string) (*types.Event, error) {
	row := l.store.ReadDB().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE event_id = ?`, eventColumns), eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("event %s not found", eventID)
	}
	return ev, err
}

// GetByStream returns a stream's events after the given sequence number, in
// sequence order. afterSequence 0 means from the beginning.
func (l *Log) GetByStream(ctx context.Context, streamType types.StreamType, streamID string, afterSequence int64, limit int) ([]*types.Event, error) {
	return l.Query(ctx, Filter{
		StreamType:    streamType,
		StreamID:      streamID,
		AfterSequence: afterSequence,
		Limit:         limit,
	})
}

// GetByType returns events of one type in global order.
func (l *Log) GetByType(ctx context.Context, eventType string, limit int) ([]*types.Event, error) {
	return l.Query(ctx, Filter{EventType: eventType, Limit: limit})
}

// GetByCausation returns the events directly caused by the given event.
func (l *Log) GetByCausation(ctx context.Context, causationID string) ([]*types.Event, error) {
	return l.Query(ctx, Filter{CausationID: causationID})
}

// GetByCorrelation returns every event in one causal tree, in global order.
func (l *Log) GetByCorrelation(ctx context.Context, correlationID string) ([]*types.Event, error) {
	return l.Query(ctx, Filter{CorrelationID: correlationID})
}

// GetAfterSequence pages the whole log in global insertion order. Replay,
// rebuild, and export all walk the log through here.
func (l *Log) GetAfterSequence(ctx context.Context, afterGlobal int64, limit int) ([]*types.Event, error) {
	return l.Query(ctx, Filter{AfterGlobal: afterGlobal, Limit: limit})
}

// StreamTail returns a stream's newest events, newest first. Recovery
// detection uses it to find each mission's last sign of life.
func (l *Log) StreamTail(ctx context.Context, streamType types.StreamType, streamID string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 1
	}
	// #nosec G201 - eventColumns is a fixed string
	rows, err := l.store.ReadDB().QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		WHERE stream_type = ? AND stream_id = ?
		ORDER BY sequence_number DESC LIMIT ?`, eventColumns),
		streamType, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream tail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// StreamTailTx returns a stream's newest events, newest first, inside the
// caller's transaction. Checkpoint snapshots use it so the recorded tail is
// coherent with the projection rows read in the same transaction.
func (l *Log) StreamTailTx(ctx context.Context, tx *sql.Tx, streamType types.StreamType, streamID string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 1
	}
	// #nosec G201 - eventColumns is a fixed string
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		WHERE stream_type = ? AND stream_id = ?
		ORDER BY sequence_number DESC LIMIT ?`, eventColumns),
		streamType, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream tail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MaxGlobalSeqTx returns the highest assigned global sequence inside the
// caller's transaction, 0 when the log is empty.
func (l *Log) MaxGlobalSeqTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var max int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(global_seq), 0) FROM events`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max global sequence: %w", err)
	}
	return max, nil
}

func (f Filter) whereClause() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.StreamType != "" {
		conds = append(conds, "stream_type = ?")
		args = append(args, f.StreamType)
	}
	if f.StreamID != "" {
		conds = append(conds, "stream_id = ?")
		args = append(args, f.StreamID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.CausationID != "" {
		conds = append(conds, "causation_id = ?")
		args = append(args, f.CausationID)
	}
	if f.CorrelationID != "" {
		conds = append(conds, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	if f.AfterSequence > 0 {
		conds = append(conds, "sequence_number > ?")
		args = append(args, f.AfterSequence)
	}
	if f.AfterGlobal > 0 {
		conds = append(conds, "global_seq > ?")
		args = append(args, f.AfterGlobal)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var (
		ev                     types.Event
		data                   string
		causation              sql.NullString
		occurredAt, recordedAt string
	)
	err := row.Scan(&ev.GlobalSeq, &ev.EventID, &ev.EventType, &ev.StreamType, &ev.StreamID,
		&ev.SequenceNumber, &data, &causation, &ev.CorrelationID, &occurredAt, &recordedAt, &ev.SchemaVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	ev.Data = []byte(data)
	if causation.Valid {
		ev.CausationID = &causation.String
	}
	if ev.OccurredAt, err = types.ParseTime(occurredAt); err != nil {
		return nil, fmt.Errorf("failed to parse occurred_at: %w", err)
	}
	if ev.RecordedAt, err = types.ParseTime(recordedAt); err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	return &ev, nil
}
