// Package sqlite implements the SQLite storage backend for the journal.
//
// The database lives in DataDir/journal.db and runs in WAL mode so reads
// proceed while a write is in progress. Writes are serialized by the backend
// and each one runs in a single transaction, cascades included. The schema
// is migrated to the latest version on Attach; the file is never recreated.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// DBFileName is the database file created inside DataDir.
const DBFileName = "journal.db"

// busyTimeoutMillis bounds how long a connection waits on a locked database.
const busyTimeoutMillis = 5000

// Backend implements types.Store on SQLite.
type Backend struct {
	mu       sync.RWMutex // guards attached, db and tables
	writeMu  sync.Mutex   // serializes write transactions
	attached bool
	config   types.Config
	db       *sql.DB
	tables   map[string]types.Table
	notifier *notifier
	log      *logging.Logger
	report   MigrationReport
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for migration and notification events.
func WithLogger(l *logging.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		tables: make(map[string]types.Table),
		log:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.notifier = newNotifier(b.log)
	return b
}

// GetTable returns the Table for the given name.
// Returns ErrStoreDetached if the backend is not attached and
// ErrTableNotFound if the name is not recognized.
func (b *Backend) GetTable(name string) (types.Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	table, ok := b.tables[name]
	if !ok {
		return nil, types.ErrTableNotFound
	}
	return table, nil
}

// Attach opens DataDir/journal.db, creating the directory if needed, and
// migrates the schema. A failed migration returns *types.MigrationError;
// failing to open the database returns an error wrapping types.ErrStoreOpen.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("%w: creating data dir: %w", types.ErrStoreOpen, err)
	}

	db, err := openDB(filepath.Join(dataDir, DBFileName))
	if err != nil {
		return err
	}

	report, err := Migrate(context.Background(), db)
	if err != nil {
		db.Close()
		return err
	}
	if len(report.Applied) > 0 {
		b.log.Info("schema migrated", "from", report.From, "to", report.To, "steps", len(report.Applied))
	}

	b.db = db
	b.config = config
	b.report = report
	b.attached = true

	b.tables[types.TableBottles] = &bottlesTable{backend: b}
	b.tables[types.TableProtocols] = &protocolsTable{backend: b}
	b.tables[types.TableEntries] = &entriesTable{backend: b}
	b.tables[types.TableDoses] = &dosesTable{backend: b}
	b.tables[types.TableSyncQueue] = &syncQueueTable{backend: b}

	return nil
}

// Detach closes the database and every subscription channel.
// After Detach, all operations return ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	b.notifier.closeAll()
	b.attached = false
	b.tables = make(map[string]types.Table)

	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe returns a channel receiving a Change after every committed write
// to the named table, and a function that ends the subscription.
func (b *Backend) Subscribe(table string) (<-chan types.Change, func(), error) {
	if !isStandardTable(table) {
		return nil, nil, types.ErrTableNotFound
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, nil, types.ErrStoreDetached
	}
	ch, cancel := b.notifier.subscribe(table)
	return ch, cancel, nil
}

// MigrationReport returns the result of the migration run by Attach.
func (b *Backend) MigrationReport() MigrationReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.report
}

// openDB opens the database file with WAL journaling and a busy timeout.
func openDB(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": {
			"journal_mode(WAL)",
			fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis),
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreOpen, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrStoreOpen, err)
	}
	return db, nil
}

// read runs fn with the database while holding the lifecycle read lock.
func (b *Backend) read(fn func(db *sql.DB) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrStoreDetached
	}
	return fn(b.db)
}

// writeTx is a write transaction that collects the changes it commits.
type writeTx struct {
	*sql.Tx
	changes []types.Change
}

func (w *writeTx) record(table, op, id string) {
	w.changes = append(w.changes, types.Change{Table: table, Op: op, ID: id})
}

// write runs fn in a single transaction and publishes its changes after
// commit. Writers are serialized; readers are not blocked.
func (b *Backend) write(ctx context.Context, fn func(tx *writeTx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrStoreDetached
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	w := &writeTx{Tx: tx}
	if err := fn(w); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	b.notifier.publish(w.changes)
	return nil
}

// newID generates a new UUID v7 for record IDs.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func isStandardTable(name string) bool {
	for _, t := range types.StandardTableNames {
		if t == name {
			return true
		}
	}
	return false
}
