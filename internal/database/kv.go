package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"syncqueue/internal/models"
)

var (
	andPattern  = regexp.MustCompile(`(?i)\s+AND\s+`)
	termPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*\?\s*$`)
)

// Read runs a small lookup: SELECT columns FROM table WHERE where. The predicate
// is limited to "column = ?" terms joined by AND, one argument per term.
func (db *DB) Read(ctx context.Context, table string, columns []string, where string, args ...any) ([]map[string]any, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("read %s: no columns requested", table)
	}
	if err := validateColumns(table, columns...); err != nil {
		return nil, err
	}

	predicate, err := buildPredicate(table, where, len(args))
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
	if predicate != "" {
		query += " WHERE " + predicate
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return out, fmt.Errorf("read %s: scan: %w", table, err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetValue writes a flag into the key/value table, replacing any previous value.
func (db *DB) SetValue(ctx context.Context, key, value string) (int64, error) {
	result, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO no_sql (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return 0, fmt.Errorf("failed to set value %s: %w", key, err)
	}
	return result.LastInsertId()
}

// GetValue returns the stored flag and whether it exists.
func (db *DB) GetValue(ctx context.Context, key string) (string, bool, error) {
	rows, err := db.Read(ctx, models.TableKV, []string{"value"}, "key = ?", key)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	v, _ := rows[0]["value"].(string)
	return v, true, nil
}

func buildPredicate(table, where string, nargs int) (string, error) {
	if strings.TrimSpace(where) == "" {
		if nargs != 0 {
			return "", fmt.Errorf("%w: %d args without a predicate", ErrBadPredicate, nargs)
		}
		return "", nil
	}

	terms := andPattern.Split(strings.TrimSpace(where), -1)
	if len(terms) != nargs {
		return "", fmt.Errorf("%w: %d terms, %d args", ErrBadPredicate, len(terms), nargs)
	}
	clauses := make([]string, 0, len(terms))
	for _, term := range terms {
		m := termPattern.FindStringSubmatch(term)
		if m == nil {
			return "", fmt.Errorf("%w: %q", ErrBadPredicate, term)
		}
		if err := validateColumns(table, m[1]); err != nil {
			return "", err
		}
		clauses = append(clauses, m[1]+" = ?")
	}
	return strings.Join(clauses, " AND "), nil
}
