package privacy

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// entityTypes maps each table to the record type stored in it.
var entityTypes = map[string]reflect.Type{
	types.TableBottles:   reflect.TypeOf(types.Bottle{}),
	types.TableProtocols: reflect.TypeOf(types.Protocol{}),
	types.TableEntries:   reflect.TypeOf(types.Entry{}),
	types.TableDoses:     reflect.TypeOf(types.Dose{}),
	types.TableSyncQueue: reflect.TypeOf(types.SyncItem{}),
}

// jsonFields lists the JSON names of t's fields. Fields of nested structs
// are listed as dotted paths after their parent.
func jsonFields(t reflect.Type) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		out = append(out, name)

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			for _, nested := range jsonFields(ft) {
				out = append(out, name+"."+nested)
			}
		}
	}
	return out
}

func TestPolicyCoversEveryField(t *testing.T) {
	policy := DefaultPolicy()
	for _, table := range types.StandardTableNames {
		typ, ok := entityTypes[table]
		require.True(t, ok, "no record type for table %s", table)
		fields := jsonFields(typ)
		require.NotEmpty(t, fields)
		top := 0
		for _, field := range fields {
			assert.True(t, policy.Classified(table, field), "%s.%s is not classified", table, field)
			if !strings.Contains(field, ".") {
				top++
			}
		}
		assert.Len(t, policy[table], top, "%s policy lists fields the record does not have", table)
	}
}

func TestNestedFieldsInheritParent(t *testing.T) {
	policy := DefaultPolicy()
	fields := jsonFields(reflect.TypeOf(types.Entry{}))
	for _, field := range []string{"post_dose_metrics.energy", "post_dose_metrics.clarity", "post_dose_metrics.mood"} {
		assert.Contains(t, fields, field)
		assert.Equal(t, LocalOnly, policy.Classify(types.TableEntries, field), field)
		assert.Error(t, policy.Require(types.TableEntries, field))
	}

	policy[types.TableEntries]["post_dose_metrics.mood"] = Syncable
	assert.Equal(t, Syncable, policy.Classify(types.TableEntries, "post_dose_metrics.mood"), "a listed child overrides its parent")
	assert.Equal(t, LocalOnly, policy.Classify(types.TableEntries, "post_dose_metrics.energy"))
	assert.False(t, policy.Classified(types.TableEntries, "mystery.energy"))
}

func TestPolicyClassifications(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name  string
		table string
		field string
		want  Classification
	}{
		{"entry content", types.TableEntries, "content", LocalOnly},
		{"entry tags", types.TableEntries, "tags", LocalOnly},
		{"entry pre-dose state", types.TableEntries, "pre_dose_state", LocalOnly},
		{"entry setting", types.TableEntries, "setting", LocalOnly},
		{"entry intention", types.TableEntries, "intention", LocalOnly},
		{"entry energy", types.TableEntries, "energy", Syncable},
		{"entry clarity", types.TableEntries, "clarity", Syncable},
		{"entry mood", types.TableEntries, "mood", Syncable},
		{"entry anxiety", types.TableEntries, "anxiety", Syncable},
		{"entry creativity", types.TableEntries, "creativity", Syncable},
		{"entry dose timestamp", types.TableEntries, "dose_timestamp", Syncable},
		{"bottle token", types.TableBottles, "bottle_token", LocalOnly},
		{"bottle batch", types.TableBottles, "batch_id", LocalOnly},
		{"dose notes", types.TableDoses, "notes", LocalOnly},
		{"protocol session", types.TableProtocols, "session_id", Syncable},
		{"protocol product", types.TableProtocols, "product_id", Syncable},
		{"protocol bottle", types.TableProtocols, "bottle_id", LocalOnly},
		{"unknown table", "settings", "pin", LocalOnly},
		{"unknown field", types.TableEntries, "mystery", LocalOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Classify(tt.table, tt.field))
		})
	}
}

func TestRequire(t *testing.T) {
	policy := DefaultPolicy()

	assert.NoError(t, policy.Require(types.TableEntries, "energy"))

	err := policy.Require(types.TableEntries, "content")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrClassification))
	var ce *types.ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, types.TableEntries, ce.Table)
	assert.Equal(t, "content", ce.Field)

	assert.Error(t, policy.Require(types.TableEntries, "not_a_field"))
}

func TestSyncableFields(t *testing.T) {
	policy := DefaultPolicy()
	assert.Equal(t,
		[]string{"anxiety", "clarity", "creativity", "day_number", "dose_timestamp", "energy", "mood"},
		policy.SyncableFields(types.TableEntries))
	assert.Empty(t, policy.SyncableFields(types.TableDoses))
	assert.Empty(t, policy.SyncableFields(types.TableBottles))
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "local-only", LocalOnly.String())
	assert.Equal(t, "syncable", Syncable.String())
}
