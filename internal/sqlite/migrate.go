package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/mesh-intelligence/journal/pkg/types"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// versionTable is where goose records applied steps.
const versionTable = "goose_db_version"

// MigrationReport summarizes one migration run.
type MigrationReport struct {
	From    int64   // version found on disk, 0 for a new database
	To      int64   // version after the run
	Applied []int64 // steps applied, in order
}

// newProvider builds a goose provider over the embedded migrations. Each SQL
// step runs in its own transaction together with its goose_db_version row.
func newProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectSQLite3, db, fsys)
}

// LatestVersion returns the newest schema version known to this build.
func LatestVersion() (int64, error) {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return 0, err
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, name := range names {
		v, err := goose.NumericComponent(name)
		if err != nil {
			return 0, err
		}
		latest = max(latest, v)
	}
	return latest, nil
}

// Migrate applies every pending step. Re-running on a current schema is a
// no-op. Failures are returned as *types.MigrationError.
func Migrate(ctx context.Context, db *sql.DB) (MigrationReport, error) {
	return migrate(ctx, db, 0)
}

// MigrateTo applies pending steps up to and including version.
func MigrateTo(ctx context.Context, db *sql.DB, version int64) (MigrationReport, error) {
	if version < 1 {
		return MigrationReport{}, &types.MigrationError{Err: fmt.Errorf("invalid target version %d", version)}
	}
	return migrate(ctx, db, version)
}

func migrate(ctx context.Context, db *sql.DB, target int64) (MigrationReport, error) {
	provider, err := newProvider(db)
	if err != nil {
		return MigrationReport{}, &types.MigrationError{Err: err}
	}

	from, err := schemaVersion(ctx, db, provider)
	if err != nil {
		return MigrationReport{}, &types.MigrationError{Err: err}
	}
	report := MigrationReport{From: from, To: from}

	var results []*goose.MigrationResult
	if target > 0 {
		results, err = provider.UpTo(ctx, target)
	} else {
		results, err = provider.Up(ctx)
	}
	report.addResults(results)
	if err == nil {
		return report, nil
	}

	merr := &types.MigrationError{From: from, Err: err}
	var partial *goose.PartialError
	if errors.As(err, &partial) {
		report.addResults(partial.Applied)
		if partial.Failed != nil && partial.Failed.Source != nil {
			merr.Version = partial.Failed.Source.Version
		}
		merr.Err = partial.Err
	}
	return report, merr
}

func (r *MigrationReport) addResults(results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil || res.Error != nil {
			continue
		}
		r.Applied = append(r.Applied, res.Source.Version)
		r.To = res.Source.Version
	}
}

// SchemaVersion returns the version recorded in the database, 0 when the
// database has never been migrated.
func SchemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return 0, err
	}
	return schemaVersion(ctx, db, provider)
}

func schemaVersion(ctx context.Context, db *sql.DB, provider *goose.Provider) (int64, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		versionTable).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	v, err := provider.GetDBVersion(ctx)
	if errors.Is(err, database.ErrVersionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
