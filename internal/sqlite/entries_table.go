package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

var _ types.Table = (*entriesTable)(nil)

// entriesTable implements types.Table for *types.Entry. Tags are stored as a
// JSON array; post-dose metrics as three nullable columns.
type entriesTable struct {
	backend *Backend
}

const entryColumns = "id, protocol_id, dose_id, day_number, timestamp, content, energy, clarity, mood, " +
	"anxiety, creativity, tags, is_dose_day, dose_timestamp, contribution_status, " +
	"pre_dose_state, post_dose_energy, post_dose_clarity, post_dose_mood, setting, intention, sleep_quality, " +
	"created_at, updated_at"

func (et *entriesTable) Create(ctx context.Context, data any) (any, error) {
	in, ok := data.(*types.Entry)
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
	if rec.ContributionStatus == "" {
		rec.ContributionStatus = types.ContributionPending
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	tags, err := marshalTags(rec.Tags)
	if err != nil {
		return nil, err
	}

	err = et.backend.write(ctx, func(tx *writeTx) error {
		if err := requireRef(ctx, tx, types.TableProtocols, "protocol_id", rec.ProtocolID); err != nil {
			return err
		}
		if rec.DoseID != nil {
			if err := requireRef(ctx, tx, types.TableDoses, "dose_id", *rec.DoseID); err != nil {
				return err
			}
		}
		pdEnergy, pdClarity, pdMood := postDoseArgs(rec.PostDoseMetrics)
		_, err := tx.ExecContext(ctx,
			"INSERT INTO entries ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.ProtocolID, nullString(rec.DoseID), rec.DayNumber, formatTime(rec.Timestamp),
			rec.Content, rec.Energy, rec.Clarity, rec.Mood, nullInt(rec.Anxiety), nullInt(rec.Creativity),
			tags, boolToInt(rec.IsDoseDay), nullTime(rec.DoseTimestamp), rec.ContributionStatus,
			nullString(rec.PreDoseState), pdEnergy, pdClarity, pdMood,
			nullString(rec.Setting), nullString(rec.Intention), nullInt(rec.SleepQuality),
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}
		tx.record(types.TableEntries, types.OpCreate, rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (et *entriesTable) Find(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var rec *types.Entry
	err := et.backend.read(func(db *sql.DB) error {
		var err error
		rec, err = getEntry(ctx, db, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (et *entriesTable) Query(ctx context.Context, filter map[string]any) ([]any, error) {
	query, args, err := buildQuery(types.TableEntries, "SELECT "+entryColumns+" FROM entries", filter)
	if err != nil {
		return nil, err
	}
	var results []any
	err = et.backend.read(func(db *sql.DB) error {
		results, err = queryAll(ctx, db, query, args, hydrateEntry)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	return results, nil
}

func (et *entriesTable) Update(ctx context.Context, id string, mutate func(any) error) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	var out *types.Entry
	err := et.backend.write(ctx, func(tx *writeTx) error {
		rec, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := *rec
		if err := mutate(rec); err != nil {
			return err
		}
		rec.ID = prev.ID
		rec.ProtocolID = prev.ProtocolID
		rec.CreatedAt = prev.CreatedAt
		rec.UpdatedAt = stamp(prev.UpdatedAt)
		if err := rec.Validate(); err != nil {
			return err
		}
		tags, err := marshalTags(rec.Tags)
		if err != nil {
			return err
		}
		pdEnergy, pdClarity, pdMood := postDoseArgs(rec.PostDoseMetrics)
		_, err = tx.ExecContext(ctx, `UPDATE entries SET
			dose_id = ?, day_number = ?, timestamp = ?, content = ?, energy = ?, clarity = ?, mood = ?,
			anxiety = ?, creativity = ?, tags = ?, is_dose_day = ?, dose_timestamp = ?,
			contribution_status = ?, pre_dose_state = ?, post_dose_energy = ?, post_dose_clarity = ?,
			post_dose_mood = ?, setting = ?, intention = ?, sleep_quality = ?, updated_at = ?
			WHERE id = ?`,
			nullString(rec.DoseID), rec.DayNumber, formatTime(rec.Timestamp), rec.Content,
			rec.Energy, rec.Clarity, rec.Mood, nullInt(rec.Anxiety), nullInt(rec.Creativity),
			tags, boolToInt(rec.IsDoseDay), nullTime(rec.DoseTimestamp), rec.ContributionStatus,
			nullString(rec.PreDoseState), pdEnergy, pdClarity, pdMood,
			nullString(rec.Setting), nullString(rec.Intention), nullInt(rec.SleepQuality),
			formatTime(rec.UpdatedAt), rec.ID)
		if err != nil {
			return fmt.Errorf("updating entry: %w", err)
		}
		tx.record(types.TableEntries, types.OpUpdate, rec.ID)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (et *entriesTable) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, types.ErrInvalidID
	}
	deleted := false
	err := et.backend.write(ctx, func(tx *writeTx) error {
		ok, err := exists(ctx, tx, types.TableEntries, id)
		if err != nil || !ok {
			return err
		}
		if err := deleteWhere(ctx, tx, types.TableSyncQueue, "entry_id = ?", id); err != nil {
			return err
		}
		if err := deleteWhere(ctx, tx, types.TableEntries, "id = ?", id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func getEntry(ctx context.Context, q querier, id string) (*types.Entry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	rec, err := hydrateEntry(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry %s: %w", id, err)
	}
	return rec, nil
}

func hydrateEntry(s scanner) (*types.Entry, error) {
	var e types.Entry
	var doseID, doseTS, preDose, setting, intention sql.NullString
	var anxiety, creativity, pdEnergy, pdClarity, pdMood, sleep sql.NullInt64
	var ts, tags, created, upd string
	var isDoseDay int
	if err := s.Scan(&e.ID, &e.ProtocolID, &doseID, &e.DayNumber, &ts, &e.Content,
		&e.Energy, &e.Clarity, &e.Mood, &anxiety, &creativity, &tags, &isDoseDay, &doseTS,
		&e.ContributionStatus, &preDose, &pdEnergy, &pdClarity, &pdMood, &setting, &intention,
		&sleep, &created, &upd); err != nil {
		return nil, err
	}
	e.DoseID = stringPtr(doseID)
	e.Anxiety = intPtr(anxiety)
	e.Creativity = intPtr(creativity)
	e.IsDoseDay = isDoseDay != 0
	e.PreDoseState = stringPtr(preDose)
	e.Setting = stringPtr(setting)
	e.Intention = stringPtr(intention)
	e.SleepQuality = intPtr(sleep)
	if pdEnergy.Valid && pdClarity.Valid && pdMood.Valid {
		e.PostDoseMetrics = &types.PostDoseMetrics{
			Energy:  int(pdEnergy.Int64),
			Clarity: int(pdClarity.Int64),
			Mood:    int(pdMood.Int64),
		}
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("parsing tags: %w", err)
	}

	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	if e.DoseTimestamp, err = parseNullTime(doseTS); err != nil {
		return nil, fmt.Errorf("parsing dose_timestamp: %w", err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(upd); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshaling tags: %w", err)
	}
	return string(b), nil
}

func postDoseArgs(pd *types.PostDoseMetrics) (any, any, any) {
	if pd == nil {
		return nil, nil, nil
	}
	return pd.Energy, pd.Clarity, pd.Mood
}
