package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// historyTimeLayout matches the created_at default in the state_history
// schema. Second precision makes RFC 3339 strings sort chronologically.
const historyTimeLayout = "2006-01-02T15:04:05Z"

var errNoDeviceID = errors.New("device id is required")

// SQLiteStateHistoryRepository keeps snapshots as JSON rows in the
// state_history table. Rows cascade with their device.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository returns a repository backed by db.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, deviceID string, state State, source string) error {
	if deviceID == "" {
		return errNoDeviceID
	}
	if source == "" {
		source = StateHistorySourceRefresh
	}
	if state == nil {
		state = State{}
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", deviceID, err)
	}
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source) VALUES (?, ?, ?)",
		deviceID, string(doc), source,
	); err != nil {
		return fmt.Errorf("recording state for %s: %w", deviceID, err)
	}
	return nil
}

func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, errNoDeviceID
	}
	limit := min(q.Limit, MaxHistoryLimit)
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var query strings.Builder
	args := []any{deviceID}
	query.WriteString("SELECT id, device_id, state, source, created_at FROM state_history WHERE device_id = ?")
	if !q.Since.IsZero() {
		query.WriteString(" AND created_at > ?")
		args = append(args, q.Since.UTC().Format(historyTimeLayout))
	}
	// Rows written in the same second keep insertion order through id.
	query.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", deviceID, err)
	}
	return entries, nil
}

func scanHistoryEntry(rows *sql.Rows) (StateHistoryEntry, error) {
	var e StateHistoryEntry
	var doc, createdAt string
	if err := rows.Scan(&e.ID, &e.DeviceID, &doc, &e.Source, &createdAt); err != nil {
		return e, fmt.Errorf("scanning history row: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &e.State); err != nil {
		return e, fmt.Errorf("decoding history row %d: %w", e.ID, err)
	}
	at, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return e, fmt.Errorf("history row %d created_at: %w", e.ID, err)
	}
	e.CreatedAt = at
	return e, nil
}

func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune window must be positive, got %v", olderThan)
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeLayout)
	res, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}
