package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// timeLayout keeps sub-second precision so updated_at stays ordered.
const timeLayout = time.RFC3339Nano

// querier is satisfied by *sql.DB, *sql.Tx and *writeTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// filterColumns maps the accepted equality filter keys of each table to
// their columns. "limit" is accepted everywhere.
var filterColumns = map[string]map[string]string{
	types.TableBottles: {
		"bottle_token": "bottle_token",
		"product_id":   "product_id",
	},
	types.TableProtocols: {
		"bottle_id": "bottle_id",
		"status":    "status",
	},
	types.TableEntries: {
		"protocol_id":         "protocol_id",
		"dose_id":             "dose_id",
		"contribution_status": "contribution_status",
	},
	types.TableDoses: {
		"protocol_id": "protocol_id",
		"bottle_id":   "bottle_id",
	},
	types.TableSyncQueue: {
		"entry_id": "entry_id",
		"status":   "status",
	},
}

// buildQuery appends the WHERE, ORDER BY and LIMIT clauses for filter.
// Results are always in insertion order.
func buildQuery(table, selectClause string, filter map[string]any) (string, []any, error) {
	allowed := filterColumns[table]
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conditions []string
	var args []any
	limit := 0
	for _, key := range keys {
		value := filter[key]
		if key == "limit" {
			l, ok := toInt(value)
			if !ok || l < 0 {
				return "", nil, types.ErrInvalidFilter
			}
			limit = l
			continue
		}
		column, ok := allowed[key]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown key %q", types.ErrInvalidFilter, key)
		}
		s, ok := value.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s must be a string", types.ErrInvalidFilter, key)
		}
		conditions = append(conditions, column+" = ?")
		args = append(args, s)
	}

	query := selectClause
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query, args, nil
}

// queryAll runs query and hydrates each row with scan.
func queryAll[T any](ctx context.Context, q querier, query string, args []any, scan func(scanner) (*T, error)) ([]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []any{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// deleteWhere deletes every row of table matching where and records a
// delete change for each.
func deleteWhere(ctx context.Context, tx *writeTx, table, where string, args ...any) error {
	ids, err := selectIDs(ctx, tx, "SELECT id FROM "+table+" WHERE "+where+" ORDER BY rowid", args...)
	if err != nil {
		return fmt.Errorf("selecting %s: %w", table, err)
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+where, args...); err != nil {
		return fmt.Errorf("deleting %s: %w", table, err)
	}
	for _, id := range ids {
		tx.record(table, types.OpDelete, id)
	}
	return nil
}

func selectIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func exists(ctx context.Context, q querier, table, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", table, err)
	}
	return true, nil
}

// requireRef returns a validation error for field when id is not in table.
func requireRef(ctx context.Context, q querier, table, field, id string) error {
	ok, err := exists(ctx, q, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return types.Invalid(field, "references unknown record %s", id)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// one of the given columns, e.g. "bottles.bottle_token".
func isUniqueViolation(err error, columns ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	for _, c := range columns {
		if strings.Contains(msg, c) {
			return true
		}
	}
	return false
}

// stamp returns the write time for a record last updated at prev.
// updated_at never decreases, even if the wall clock steps back.
func stamp(prev time.Time) time.Time {
	now := time.Now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// toInt converts filter numbers, which may arrive as float64 from JSON.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
