package types

import "context"

// Store defines backend-agnostic access to the journal tables.
// Callers attach to a backend, access tables by name, and detach when done.
type Store interface {
	// GetTable returns the Table for the given name.
	// Returns ErrTableNotFound if the name is not a standard table.
	GetTable(name string) (Table, error)

	// Attach opens the backend described by config, creating DataDir if
	// needed and migrating the schema to the current version. A failed
	// migration returns a *MigrationError; any other failure wraps
	// ErrStoreOpen. Returns ErrAlreadyAttached if already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent.
	// After Detach, operations on tables return ErrStoreDetached.
	Detach() error

	// Subscribe returns a channel that receives a Change after every
	// committed write to the named table, and a function that cancels the
	// subscription and closes the channel.
	Subscribe(table string) (<-chan Change, func(), error)
}

// Table provides uniform record operations for a single entity type.
// Records are passed and returned as pointers to the entity structs of this
// package; callers type-assert the results.
type Table interface {
	// Create assigns an ID and timestamps, persists the record in a single
	// transaction, and returns the stored record.
	Create(ctx context.Context, data any) (any, error)

	// Find returns the record with the given ID, or ErrNotFound.
	Find(ctx context.Context, id string) (any, error)

	// Query returns records matching the filter in insertion order.
	// An empty filter returns every record in the table.
	Query(ctx context.Context, filter map[string]any) ([]any, error)

	// Update loads the record, applies mutate to it, bumps UpdatedAt and
	// persists the whole record in one transaction. Returns ErrNotFound if
	// the ID is absent. If mutate returns an error nothing is written and
	// that error is returned.
	Update(ctx context.Context, id string, mutate func(record any) error) (any, error)

	// Delete removes the record and everything it owns. Returns false
	// without error if no record has that ID.
	Delete(ctx context.Context, id string) (bool, error)
}

// Change operations reported to subscribers.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change describes one committed write.
type Change struct {
	Table string
	Op    string
	ID    string
}
