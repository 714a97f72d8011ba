// Package privacy classifies every entity field as local-only or syncable
// and builds the only payloads allowed to leave the device.
//
// The policy is explicit: a field missing from it is local-only, and
// reading such a field for sync fails with *types.ClassificationError.
// Fields of a nested object inherit the classification of the object.
package privacy

import (
	"sort"
	"strings"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// Classification says whether a field may cross the device boundary.
type Classification int

const (
	// LocalOnly is the zero value so that anything unclassified stays local.
	LocalOnly Classification = iota
	Syncable
)

func (c Classification) String() string {
	switch c {
	case Syncable:
		return "syncable"
	default:
		return "local-only"
	}
}

// Policy maps table name to JSON field name to classification.
type Policy map[string]map[string]Classification

// DefaultPolicy returns the classification of every field of every entity.
func DefaultPolicy() Policy {
	return Policy{
		types.TableBottles: {
			"id":               LocalOnly,
			"bottle_token":     LocalOnly,
			"product_id":       LocalOnly,
			"product_name":     LocalOnly,
			"batch_id":         LocalOnly,
			"first_scanned_at": LocalOnly,
			"last_scanned_at":  LocalOnly,
			"scan_count":       LocalOnly,
			"created_at":       LocalOnly,
			"updated_at":       LocalOnly,
		},
		types.TableProtocols: {
			"id":            LocalOnly,
			"bottle_id":     LocalOnly,
			"session_id":    Syncable,
			"product_id":    Syncable,
			"product_name":  Syncable,
			"start_date":    LocalOnly,
			"status":        LocalOnly,
			"schedule_type": LocalOnly,
			"total_days":    LocalOnly,
			"current_day":   LocalOnly,
			"created_at":    LocalOnly,
			"updated_at":    LocalOnly,
		},
		types.TableEntries: {
			"id":                  LocalOnly,
			"protocol_id":         LocalOnly,
			"dose_id":             LocalOnly,
			"day_number":          Syncable,
			"timestamp":           LocalOnly,
			"content":             LocalOnly,
			"energy":              Syncable,
			"clarity":             Syncable,
			"mood":                Syncable,
			"anxiety":             Syncable,
			"creativity":          Syncable,
			"tags":                LocalOnly,
			"is_dose_day":         LocalOnly,
			"dose_timestamp":      Syncable,
			"contribution_status": LocalOnly,
			"pre_dose_state":      LocalOnly,
			"post_dose_metrics":   LocalOnly,
			"setting":             LocalOnly,
			"intention":           LocalOnly,
			"sleep_quality":       LocalOnly,
			"created_at":          LocalOnly,
			"updated_at":          LocalOnly,
		},
		types.TableDoses: {
			"id":          LocalOnly,
			"protocol_id": LocalOnly,
			"bottle_id":   LocalOnly,
			"timestamp":   LocalOnly,
			"day_number":  LocalOnly,
			"notes":       LocalOnly,
			"created_at":  LocalOnly,
			"updated_at":  LocalOnly,
		},
		types.TableSyncQueue: {
			"id":              LocalOnly,
			"entry_id":        LocalOnly,
			"payload":         Syncable,
			"attempts":        LocalOnly,
			"last_error":      LocalOnly,
			"status":          LocalOnly,
			"last_attempt_at": LocalOnly,
			"created_at":      LocalOnly,
			"updated_at":      LocalOnly,
		},
	}
}

// Classify returns the classification of table.field, LocalOnly if unknown.
// A nested field such as "post_dose_metrics.energy" that is not listed
// itself takes the classification of its nearest listed parent.
func (p Policy) Classify(table, field string) Classification {
	c, _ := p.lookup(table, field)
	return c
}

// Classified reports whether table.field is listed, directly or through a
// parent field.
func (p Policy) Classified(table, field string) bool {
	_, ok := p.lookup(table, field)
	return ok
}

func (p Policy) lookup(table, field string) (Classification, bool) {
	fields := p[table]
	for {
		if c, ok := fields[field]; ok {
			return c, true
		}
		i := strings.LastIndexByte(field, '.')
		if i < 0 {
			return LocalOnly, false
		}
		field = field[:i]
	}
}

// Require returns a *types.ClassificationError unless table.field is
// explicitly syncable.
func (p Policy) Require(table, field string) error {
	if p.Classify(table, field) != Syncable {
		return &types.ClassificationError{Table: table, Field: field}
	}
	return nil
}

// SyncableFields lists the syncable fields of table in sorted order.
func (p Policy) SyncableFields(table string) []string {
	var out []string
	for field, c := range p[table] {
		if c == Syncable {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}
