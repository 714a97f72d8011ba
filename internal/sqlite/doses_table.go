package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

var _ types.Table = (*dosesTable)(nil)

// dosesTable implements types.Table for *types.Dose. Deleting a dose clears
// the dose_id of entries that pointed at it.
type dosesTable struct {
	backend *Backend
}

const doseColumns = "id, protocol_id, bottle_id, timestamp, day_number, notes, created_at, updated_at"

func (dt *dosesTable) Create(ctx context.Context, data any) (any, error) {
	in, ok := data.(*types.Dose)
	if !ok {
		return nil, types.ErrInvalidData
	}
	rec := *in
	now := time.Now().UTC()
	rec.ID = newID()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	err := dt.backend.write(ctx, func(tx *writeTx) error {
		if err := requireRef(ctx, tx, types.TableProtocols, "protocol_id", rec.ProtocolID); err != nil {
			return err
		}
		if err := requireRef(ctx, tx, types.TableBottles, "bottle_id", rec.BottleID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO doses ("+doseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.ProtocolID, rec.BottleID, formatTime(rec.Timestamp), rec.DayNumber,
			nullString(rec.Notes), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting dose: %w", err)
		}
		tx.record(types.TableDoses, types.OpCreate, rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (dt *dosesTable) Find(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var rec *types.Dose
	err := dt.backend.read(func(db *sql.DB) error {
		var err error
		rec, err = getDose(ctx, db, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (dt *dosesTable) Query(ctx context.Context, filter map[string]any) ([]any, error) {
	query, args, err := buildQuery(types.TableDoses, "SELECT "+doseColumns+" FROM doses", filter)
	if err != nil {
		return nil, err
	}
	var results []any
	err = dt.backend.read(func(db *sql.DB) error {
		results, err = queryAll(ctx, db, query, args, hydrateDose)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying doses: %w", err)
	}
	return results, nil
}

func (dt *dosesTable) Update(ctx context.Context, id string, mutate func(any) error) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var out *types.Dose
	err := dt.backend.write(ctx, func(tx *writeTx) error {
		rec, err := getDose(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := *rec
		if err := mutate(rec); err != nil {
			return err
		}
		rec.ID = prev.ID
		rec.ProtocolID = prev.ProtocolID
		rec.BottleID = prev.BottleID
		rec.CreatedAt = prev.CreatedAt
		rec.UpdatedAt = stamp(prev.UpdatedAt)
		if err := rec.Validate(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE doses SET timestamp = ?, day_number = ?, notes = ?, updated_at = ? WHERE id = ?",
			formatTime(rec.Timestamp), rec.DayNumber, nullString(rec.Notes), formatTime(rec.UpdatedAt), rec.ID)
		if err != nil {
			return fmt.Errorf("updating dose: %w", err)
		}
		tx.record(types.TableDoses, types.OpUpdate, rec.ID)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (dt *dosesTable) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, types.ErrInvalidID
	}
	deleted := false
	err := dt.backend.write(ctx, func(tx *writeTx) error {
		ok, err := exists(ctx, tx, types.TableDoses, id)
		if err != nil || !ok {
			return err
		}
		entryIDs, err := selectIDs(ctx, tx, "SELECT id FROM entries WHERE dose_id = ? ORDER BY rowid", id)
		if err != nil {
			return fmt.Errorf("selecting dose entries: %w", err)
		}
		if len(entryIDs) > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE entries SET dose_id = NULL, updated_at = ? WHERE dose_id = ?",
				formatTime(time.Now()), id); err != nil {
				return fmt.Errorf("detaching entries: %w", err)
			}
			for _, eid := range entryIDs {
				tx.record(types.TableEntries, types.OpUpdate, eid)
			}
		}
		if err := deleteWhere(ctx, tx, types.TableDoses, "id = ?", id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func getDose(ctx context.Context, q querier, id string) (*types.Dose, error) {
	row := q.QueryRowContext(ctx, "SELECT "+doseColumns+" FROM doses WHERE id = ?", id)
	rec, err := hydrateDose(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting dose %s: %w", id, err)
	}
	return rec, nil
}

func hydrateDose(s scanner) (*types.Dose, error) {
	var d types.Dose
	var notes sql.NullString
	var ts, created, upd string
	if err := s.Scan(&d.ID, &d.ProtocolID, &d.BottleID, &ts, &d.DayNumber, &notes, &created, &upd); err != nil {
		return nil, err
	}
	d.Notes = stringPtr(notes)
	var err error
	if d.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(upd); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}
