package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

var _ types.Table = (*protocolsTable)(nil)

// protocolsTable implements types.Table for *types.Protocol. A bottle has at
// most one active protocol; a second one is rejected with
// types.ErrActiveProtocolExists.
type protocolsTable struct {
	backend *Backend
}

const protocolColumns = "id, bottle_id, session_id, product_id, product_name, start_date, status, schedule_type, total_days, current_day, created_at, updated_at"

func (pt *protocolsTable) Create(ctx context.Context, data any) (any, error) {
	in, ok := data.(*types.Protocol)
	if !ok {
		return nil, types.ErrInvalidData
	}
	rec := *in
	now := time.Now().UTC()
	rec.ID = newID()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = types.ProtocolActive
	}
	if rec.StartDate.IsZero() {
		rec.StartDate = now
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	err := pt.backend.write(ctx, func(tx *writeTx) error {
		if err := requireRef(ctx, tx, types.TableBottles, "bottle_id", rec.BottleID); err != nil {
			return err
		}
		if err := checkOneActive(ctx, tx, &rec); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO protocols ("+protocolColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.BottleID, rec.SessionID, rec.ProductID, rec.ProductName,
			formatTime(rec.StartDate), rec.Status, nullString(rec.ScheduleType),
			rec.TotalDays, rec.CurrentDay, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
		if isUniqueViolation(err, "protocols.bottle_id") {
			return types.ErrActiveProtocolExists
		}
		if err != nil {
			return fmt.Errorf("inserting protocol: %w", err)
		}
		tx.record(types.TableProtocols, types.OpCreate, rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (pt *protocolsTable) Find(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var rec *types.Protocol
	err := pt.backend.read(func(db *sql.DB) error {
		var err error
		rec, err = getProtocol(ctx, db, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (pt *protocolsTable) Query(ctx context.Context, filter map[string]any) ([]any, error) {
	query, args, err := buildQuery(types.TableProtocols, "SELECT "+protocolColumns+" FROM protocols", filter)
	if err != nil {
		return nil, err
	}
	var results []any
	err = pt.backend.read(func(db *sql.DB) error {
		results, err = queryAll(ctx, db, query, args, hydrateProtocol)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying protocols: %w", err)
	}
	return results, nil
}

func (pt *protocolsTable) Update(ctx context.Context, id string, mutate func(any) error) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var out *types.Protocol
	err := pt.backend.write(ctx, func(tx *writeTx) error {
		rec, err := getProtocol(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := *rec
		if err := mutate(rec); err != nil {
			return err
		}
		rec.ID = prev.ID
		rec.BottleID = prev.BottleID
		rec.CreatedAt = prev.CreatedAt
		rec.UpdatedAt = stamp(prev.UpdatedAt)
		if err := rec.Validate(); err != nil {
			return err
		}
		if err := checkOneActive(ctx, tx, rec); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE protocols SET
			session_id = ?, product_id = ?, product_name = ?, start_date = ?, status = ?,
			schedule_type = ?, total_days = ?, current_day = ?, updated_at = ?
			WHERE id = ?`,
			rec.SessionID, rec.ProductID, rec.ProductName, formatTime(rec.StartDate), rec.Status,
			nullString(rec.ScheduleType), rec.TotalDays, rec.CurrentDay, formatTime(rec.UpdatedAt),
			rec.ID)
		if isUniqueViolation(err, "protocols.bottle_id") {
			return types.ErrActiveProtocolExists
		}
		if err != nil {
			return fmt.Errorf("updating protocol: %w", err)
		}
		tx.record(types.TableProtocols, types.OpUpdate, rec.ID)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (pt *protocolsTable) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, types.ErrInvalidID
	}
	deleted := false
	err := pt.backend.write(ctx, func(tx *writeTx) error {
		ok, err := exists(ctx, tx, types.TableProtocols, id)
		if err != nil || !ok {
			return err
		}
		if err := deleteProtocolTree(ctx, tx, id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// checkOneActive rejects rec if it is active and its bottle already has
// another active protocol.
func checkOneActive(ctx context.Context, q querier, rec *types.Protocol) error {
	if rec.Status != types.ProtocolActive {
		return nil
	}
	var other string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM protocols WHERE bottle_id = ? AND status = ? AND id <> ?",
		rec.BottleID, types.ProtocolActive, rec.ID).Scan(&other)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking active protocols: %w", err)
	}
	return types.ErrActiveProtocolExists
}

// deleteProtocolTree deletes a protocol with its entries, their queue items
// and its doses.
func deleteProtocolTree(ctx context.Context, tx *writeTx, protocolID string) error {
	if err := deleteWhere(ctx, tx, types.TableSyncQueue,
		"entry_id IN (SELECT id FROM entries WHERE protocol_id = ?)", protocolID); err != nil {
		return err
	}
	if err := deleteWhere(ctx, tx, types.TableEntries, "protocol_id = ?", protocolID); err != nil {
		return err
	}
	if err := deleteWhere(ctx, tx, types.TableDoses, "protocol_id = ?", protocolID); err != nil {
		return err
	}
	return deleteWhere(ctx, tx, types.TableProtocols, "id = ?", protocolID)
}

func getProtocol(ctx context.Context, q querier, id string) (*types.Protocol, error) {
	row := q.QueryRowContext(ctx, "SELECT "+protocolColumns+" FROM protocols WHERE id = ?", id)
	rec, err := hydrateProtocol(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting protocol %s: %w", id, err)
	}
	return rec, nil
}

func hydrateProtocol(s scanner) (*types.Protocol, error) {
	var p types.Protocol
	var schedule sql.NullString
	var start, created, upd string
	if err := s.Scan(&p.ID, &p.BottleID, &p.SessionID, &p.ProductID, &p.ProductName,
		&start, &p.Status, &schedule, &p.TotalDays, &p.CurrentDay, &created, &upd); err != nil {
		return nil, err
	}
	p.ScheduleType = stringPtr(schedule)
	var err error
	if p.StartDate, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("parsing start_date: %w", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(upd); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}
