package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"syncqueue/internal/models"
)

const queueSelect = `SELECT _id, msg_id, type, priority, item_count, timestamp, config, request FROM network_queue`

// Seed returns every pending queue row, ordered by priority then insertion.
func (db *DB) Seed(ctx context.Context) ([]models.QueueRow, error) {
	rows, err := db.QueryContext(ctx, queueSelect+` ORDER BY priority ASC, _id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to seed queue rows: %w", err)
	}
	defer rows.Close()

	var out []models.QueueRow
	for rows.Next() {
		var r models.QueueRow
		if err := rows.Scan(&r.ID, &r.MsgID, &r.Type, &r.Priority, &r.ItemCount, &r.Timestamp, &r.Config, &r.Request); err != nil {
			return out, fmt.Errorf("failed to scan queue row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return out, nil
}

// Insert appends a queue row and returns its store id. The id doubles as the enqueue sequence.
func (db *DB) Insert(ctx context.Context, row *models.QueueRow) (int64, error) {
	if row.MsgID == "" {
		return 0, fmt.Errorf("failed to insert queue row: msg_id is required")
	}
	if row.Timestamp == 0 {
		row.Timestamp = time.Now().UnixMilli()
	}

	query := `INSERT INTO network_queue (msg_id, type, priority, item_count, timestamp, config, request)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		row.MsgID,
		row.Type,
		row.Priority,
		row.ItemCount,
		row.Timestamp,
		row.Config,
		row.Request,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert queue row: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	row.ID = id
	return id, nil
}

// Delete removes the row with the given msg_id.
func (db *DB) Delete(ctx context.Context, msgID string) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM network_queue WHERE msg_id = ?`, msgID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue row %s: %w", msgID, err)
	}
	return result.RowsAffected()
}

// Update applies patch to every queue row whose matchColumn is in matchValues.
func (db *DB) Update(ctx context.Context, matchColumn string, matchValues []string, patch map[string]any) (int64, error) {
	if len(matchValues) == 0 || len(patch) == 0 {
		return 0, nil
	}

	columns := make([]string, 0, len(patch))
	for c := range patch {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	if err := validateColumns(models.TableQueue, append([]string{matchColumn}, columns...)...); err != nil {
		return 0, err
	}

	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(matchValues))
	for i, c := range columns {
		sets[i] = c + " = ?"
		args = append(args, patch[c])
	}
	for _, v := range matchValues {
		args = append(args, v)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(matchValues)), ", ")

	query := fmt.Sprintf(`UPDATE network_queue SET %s WHERE %s IN (%s)`, strings.Join(sets, ", "), matchColumn, placeholders)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update queue rows: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of persisted queue rows.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM network_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue rows: %w", err)
	}
	return n, nil
}
