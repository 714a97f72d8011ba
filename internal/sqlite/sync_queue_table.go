package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

var _ types.Table = (*syncQueueTable)(nil)

// syncQueueTable implements types.Table for *types.SyncItem, the outbox of
// anonymized payloads.
type syncQueueTable struct {
	backend *Backend
}

const syncItemColumns = "id, entry_id, payload, attempts, last_error, status, last_attempt_at, created_at, updated_at"

func (st *syncQueueTable) Create(ctx context.Context, data any) (any, error) {
	in, ok := data.(*types.SyncItem)
	if !ok {
		return nil, types.ErrInvalidData
	}
	rec := *in
	now := time.Now().UTC()
	rec.ID = newID()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = types.SyncPending
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	err := st.backend.write(ctx, func(tx *writeTx) error {
		if err := requireRef(ctx, tx, types.TableEntries, "entry_id", rec.EntryID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sync_queue ("+syncItemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.EntryID, string(rec.Payload), rec.Attempts, nullString(rec.LastError),
			rec.Status, nullTime(rec.LastAttemptAt), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting sync item: %w", err)
		}
		tx.record(types.TableSyncQueue, types.OpCreate, rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (st *syncQueueTable) Find(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var rec *types.SyncItem
	err := st.backend.read(func(db *sql.DB) error {
		var err error
		rec, err = getSyncItem(ctx, db, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query returns items oldest first, the order the queue drains in.
func (st *syncQueueTable) Query(ctx context.Context, filter map[string]any) ([]any, error) {
	query, args, err := buildQuery(types.TableSyncQueue, "SELECT "+syncItemColumns+" FROM sync_queue", filter)
	if err != nil {
		return nil, err
	}
	var results []any
	err = st.backend.read(func(db *sql.DB) error {
		results, err = queryAll(ctx, db, query, args, hydrateSyncItem)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying sync queue: %w", err)
	}
	return results, nil
}

func (st *syncQueueTable) Update(ctx context.Context, id string, mutate func(any) error) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var out *types.SyncItem
	err := st.backend.write(ctx, func(tx *writeTx) error {
		rec, err := getSyncItem(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := *rec
		if err := mutate(rec); err != nil {
			return err
		}
		rec.ID = prev.ID
		rec.EntryID = prev.EntryID
		rec.CreatedAt = prev.CreatedAt
		rec.UpdatedAt = stamp(prev.UpdatedAt)
		if err := rec.Validate(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sync_queue SET
			payload = ?, attempts = ?, last_error = ?, status = ?, last_attempt_at = ?, updated_at = ?
			WHERE id = ?`,
			string(rec.Payload), rec.Attempts, nullString(rec.LastError), rec.Status,
			nullTime(rec.LastAttemptAt), formatTime(rec.UpdatedAt), rec.ID)
		if err != nil {
			return fmt.Errorf("updating sync item: %w", err)
		}
		tx.record(types.TableSyncQueue, types.OpUpdate, rec.ID)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (st *syncQueueTable) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, types.ErrInvalidID
	}
	deleted := false
	err := st.backend.write(ctx, func(tx *writeTx) error {
		ok, err := exists(ctx, tx, types.TableSyncQueue, id)
		if err != nil || !ok {
			return err
		}
		if err := deleteWhere(ctx, tx, types.TableSyncQueue, "id = ?", id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func getSyncItem(ctx context.Context, q querier, id string) (*types.SyncItem, error) {
	row := q.QueryRowContext(ctx, "SELECT "+syncItemColumns+" FROM sync_queue WHERE id = ?", id)
	rec, err := hydrateSyncItem(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting sync item %s: %w", id, err)
	}
	return rec, nil
}

func hydrateSyncItem(s scanner) (*types.SyncItem, error) {
	var it types.SyncItem
	var payload, created, upd string
	var lastError, lastAttempt sql.NullString
	if err := s.Scan(&it.ID, &it.EntryID, &payload, &it.Attempts, &lastError, &it.Status,
		&lastAttempt, &created, &upd); err != nil {
		return nil, err
	}
	it.Payload = json.RawMessage(payload)
	it.LastError = stringPtr(lastError)
	var err error
	if it.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return nil, fmt.Errorf("parsing last_attempt_at: %w", err)
	}
	if it.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if it.UpdatedAt, err = parseTime(upd); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &it, nil
}
