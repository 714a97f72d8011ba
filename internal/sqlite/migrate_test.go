package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journal/pkg/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDB(filepath.Join(t.TempDir(), DBFileName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type schemaObject struct {
	Type, Name, Table, SQL string
}

func dumpSchema(t *testing.T, db *sql.DB) []schemaObject {
	t.Helper()
	rows, err := db.Query(`SELECT type, name, tbl_name, COALESCE(sql, '') FROM sqlite_master
		WHERE name NOT LIKE 'sqlite_%' ORDER BY type, name`)
	require.NoError(t, err)
	defer rows.Close()

	var out []schemaObject
	for rows.Next() {
		var o schemaObject
		require.NoError(t, rows.Scan(&o.Type, &o.Name, &o.Table, &o.SQL))
		out = append(out, o)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestMigrateFreshDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	report, err := Migrate(ctx, db)
	require.NoError(t, err)

	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 0, report.From)
	assert.Equal(t, latest, report.To)
	assert.Equal(t, []int64{1, 2, 3, 4}, report.Applied)

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, latest, v)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := Migrate(ctx, db)
	require.NoError(t, err)
	before := dumpSchema(t, db)

	report, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Equal(t, report.From, report.To)
	assert.Equal(t, before, dumpSchema(t, db))
}

func TestMigrateStepwiseMatchesFresh(t *testing.T) {
	ctx := context.Background()
	latest, err := LatestVersion()
	require.NoError(t, err)

	stepwise := openTestDB(t)
	for v := int64(1); v <= latest; v++ {
		report, err := MigrateTo(ctx, stepwise, v)
		require.NoError(t, err)
		assert.Equal(t, []int64{v}, report.Applied)
		assert.Equal(t, v-1, report.From)
	}

	fresh := openTestDB(t)
	_, err = Migrate(ctx, fresh)
	require.NoError(t, err)

	assert.Equal(t, dumpSchema(t, fresh), dumpSchema(t, stepwise))
}

func TestMigrateFromIntermediateVersionKeepsRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := MigrateTo(ctx, db, 1)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sync_queue (id, entry_id, payload, attempts, created_at, updated_at)
		VALUES ('q1', 'e1', '{}', 2, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	report, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.From)

	var status string
	var attempts int
	require.NoError(t, db.QueryRow("SELECT status, attempts FROM sync_queue WHERE id = 'q1'").Scan(&status, &attempts))
	assert.Equal(t, types.SyncPending, status)
	assert.Equal(t, 2, attempts)
}

func TestMigrateResolvesUniquenessConflicts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := MigrateTo(ctx, db, 3)
	require.NoError(t, err)

	bottles := []struct {
		id, token, first, last string
		scans                  int
	}{
		{"b1", "qr_SAME", "2026-01-01T00:00:00Z", "2026-01-03T00:00:00Z", 2},
		{"b2", "qr_SAME", "2026-01-02T00:00:00Z", "2026-01-05T00:00:00Z", 3},
		{"b3", "qr_OTHER", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", 1},
	}
	for _, b := range bottles {
		_, err := db.Exec(`INSERT INTO bottles (id, bottle_token, product_id, product_name,
			first_scanned_at, last_scanned_at, scan_count, created_at, updated_at)
			VALUES (?, ?, 'p', 'P', ?, ?, ?, ?, ?)`, b.id, b.token, b.first, b.last, b.scans, b.first, b.first)
		require.NoError(t, err)
	}
	protocols := []struct{ id, bottle, status string }{
		{"p1", "b1", "active"},
		{"p2", "b1", "active"},
		{"p3", "b2", "active"},
		{"p4", "b3", "completed"},
		{"p5", "b3", "active"},
	}
	for _, p := range protocols {
		_, err := db.Exec(`INSERT INTO protocols (id, bottle_id, session_id, product_id, product_name,
			start_date, status, total_days, current_day, created_at, updated_at)
			VALUES (?, ?, 'anon_x', 'p', 'P', '2026-01-01T00:00:00Z', ?, 30, 0,
			'2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`, p.id, p.bottle, p.status)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO doses (id, protocol_id, bottle_id, timestamp, day_number, created_at, updated_at)
		VALUES ('d1', 'p3', 'b2', '2026-01-02T08:00:00Z', 1, '2026-01-02T08:00:00Z', '2026-01-02T08:00:00Z')`)
	require.NoError(t, err)

	report, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, report.Applied)

	var count, scans int
	var first, last string
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM bottles WHERE bottle_token = 'qr_SAME'").Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(`SELECT scan_count, first_scanned_at, last_scanned_at
		FROM bottles WHERE id = 'b1'`).Scan(&scans, &first, &last))
	assert.Equal(t, 5, scans)
	assert.Equal(t, "2026-01-01T00:00:00Z", first)
	assert.Equal(t, "2026-01-05T00:00:00Z", last)

	status := map[string]string{}
	rows, err := db.Query("SELECT id, bottle_id, status FROM protocols")
	require.NoError(t, err)
	for rows.Next() {
		var id, bottle, st string
		require.NoError(t, rows.Scan(&id, &bottle, &st))
		if id != "p4" && id != "p5" {
			assert.Equal(t, "b1", bottle, "protocol %s follows its merged bottle", id)
		}
		status[id] = st
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, map[string]string{
		"p1": "paused", "p2": "paused", "p3": "active", "p4": "completed", "p5": "active",
	}, status)

	var doseBottle string
	require.NoError(t, db.QueryRow("SELECT bottle_id FROM doses WHERE id = 'd1'").Scan(&doseBottle))
	assert.Equal(t, "b1", doseBottle)

	// The constraints hold from here on.
	_, err = db.Exec(`INSERT INTO bottles (id, bottle_token, product_id, product_name,
		first_scanned_at, last_scanned_at, created_at, updated_at)
		VALUES ('b9', 'qr_SAME', 'p', 'P', 'x', 'x', 'x', 'x')`)
	assert.Error(t, err)
}

func TestMigrateFailureIsMigrationError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := MigrateTo(ctx, db, 3)
	require.NoError(t, err)
	// An index already holding the name step 4 creates makes that step fail.
	_, err = db.Exec(`CREATE INDEX idx_bottles_token ON bottles(product_id)`)
	require.NoError(t, err)

	report, err := Migrate(ctx, db)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMigration))

	var merr *types.MigrationError
	require.True(t, errors.As(err, &merr))
	assert.EqualValues(t, 3, merr.From)
	assert.EqualValues(t, 4, merr.Version)
	assert.Empty(t, report.Applied)

	// The failed step left no trace: the recorded version is unchanged.
	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
}

func TestMigrateToRejectsInvalidTarget(t *testing.T) {
	_, err := MigrateTo(context.Background(), openTestDB(t), 0)
	assert.ErrorIs(t, err, types.ErrMigration)
}
