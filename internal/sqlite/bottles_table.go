package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

var _ types.Table = (*bottlesTable)(nil)

// bottlesTable implements types.Table for *types.Bottle. Deleting a bottle
// deletes its protocols (with everything they own) and its doses.
type bottlesTable struct {
	backend *Backend
}

const bottleColumns = "id, bottle_token, product_id, product_name, batch_id, first_scanned_at, last_scanned_at, scan_count, created_at, updated_at"

func (bt *bottlesTable) Create(ctx context.Context, data any) (any, error) {
	in, ok := data.(*types.Bottle)
	if !ok {
		return nil, types.ErrInvalidData
	}
	rec := *in
	now := time.Now().UTC()
	rec.ID = newID()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.ScanCount == 0 {
		rec.RecordScan(now)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	err := bt.backend.write(ctx, func(tx *writeTx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM bottles WHERE bottle_token = ?", rec.BottleToken).Scan(&one)
		if err == nil {
			return types.ErrDuplicateBottleToken
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking bottle token: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO bottles ("+bottleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.BottleToken, rec.ProductID, rec.ProductName, nullString(rec.BatchID),
			formatTime(rec.FirstScannedAt), formatTime(rec.LastScannedAt), rec.ScanCount,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
		if isUniqueViolation(err, "bottles.bottle_token") {
			return types.ErrDuplicateBottleToken
		}
		if err != nil {
			return fmt.Errorf("inserting bottle: %w", err)
		}
		tx.record(types.TableBottles, types.OpCreate, rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (bt *bottlesTable) Find(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var rec *types.Bottle
	err := bt.backend.read(func(db *sql.DB) error {
		var err error
		rec, err = getBottle(ctx, db, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (bt *bottlesTable) Query(ctx context.Context, filter map[string]any) ([]any, error) {
	query, args, err := buildQuery(types.TableBottles, "SELECT "+bottleColumns+" FROM bottles", filter)
	if err != nil {
		return nil, err
	}
	var results []any
	err = bt.backend.read(func(db *sql.DB) error {
		results, err = queryAll(ctx, db, query, args, hydrateBottle)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying bottles: %w", err)
	}
	return results, nil
}

func (bt *bottlesTable) Update(ctx context.Context, id string, mutate func(any) error) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var out *types.Bottle
	err := bt.backend.write(ctx, func(tx *writeTx) error {
		rec, err := getBottle(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := *rec
		if err := mutate(rec); err != nil {
			return err
		}
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
		rec.UpdatedAt = stamp(prev.UpdatedAt)
		if err := rec.Validate(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE bottles SET
			bottle_token = ?, product_id = ?, product_name = ?, batch_id = ?,
			first_scanned_at = ?, last_scanned_at = ?, scan_count = ?, updated_at = ?
			WHERE id = ?`,
			rec.BottleToken, rec.ProductID, rec.ProductName, nullString(rec.BatchID),
			formatTime(rec.FirstScannedAt), formatTime(rec.LastScannedAt), rec.ScanCount,
			formatTime(rec.UpdatedAt), rec.ID)
		if isUniqueViolation(err, "bottles.bottle_token") {
			return types.ErrDuplicateBottleToken
		}
		if err != nil {
			return fmt.Errorf("updating bottle: %w", err)
		}
		tx.record(types.TableBottles, types.OpUpdate, rec.ID)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (bt *bottlesTable) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, types.ErrInvalidID
	}
	deleted := false
	err := bt.backend.write(ctx, func(tx *writeTx) error {
		ok, err := exists(ctx, tx, types.TableBottles, id)
		if err != nil || !ok {
			return err
		}
		protocolIDs, err := selectIDs(ctx, tx, "SELECT id FROM protocols WHERE bottle_id = ? ORDER BY rowid", id)
		if err != nil {
			return fmt.Errorf("selecting bottle protocols: %w", err)
		}
		for _, pid := range protocolIDs {
			if err := deleteProtocolTree(ctx, tx, pid); err != nil {
				return err
			}
		}
		if err := deleteWhere(ctx, tx, types.TableDoses, "bottle_id = ?", id); err != nil {
			return err
		}
		if err := deleteWhere(ctx, tx, types.TableBottles, "id = ?", id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func getBottle(ctx context.Context, q querier, id string) (*types.Bottle, error) {
	row := q.QueryRowContext(ctx, "SELECT "+bottleColumns+" FROM bottles WHERE id = ?", id)
	rec, err := hydrateBottle(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting bottle %s: %w", id, err)
	}
	return rec, nil
}

func hydrateBottle(s scanner) (*types.Bottle, error) {
	var b types.Bottle
	var batchID sql.NullString
	var first, last, created, upd string
	if err := s.Scan(&b.ID, &b.BottleToken, &b.ProductID, &b.ProductName, &batchID,
		&first, &last, &b.ScanCount, &created, &upd); err != nil {
		return nil, err
	}
	b.BatchID = stringPtr(batchID)
	var err error
	if b.FirstScannedAt, err = parseTime(first); err != nil {
		return nil, fmt.Errorf("parsing first_scanned_at: %w", err)
	}
	if b.LastScannedAt, err = parseTime(last); err != nil {
		return nil, fmt.Errorf("parsing last_scanned_at: %w", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(upd); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &b, nil
}
