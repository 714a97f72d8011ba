package types

import (
	"errors"
	"fmt"
)

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
	ErrTableNotFound   = errors.New("table not found")
	ErrStoreOpen       = errors.New("cannot open store")
)

// Record operation errors.
var (
	ErrNotFound             = errors.New("record not found")
	ErrInvalidID            = errors.New("invalid record ID")
	ErrInvalidData          = errors.New("invalid record data")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrActiveProtocolExists = errors.New("bottle already has an active protocol")
	ErrDuplicateBottleToken = errors.New("bottle token already registered")
	ErrLocked               = errors.New("journal is locked")
)

// Kind sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrMigration      = errors.New("schema migration failed")
	ErrSyncDelivery   = errors.New("sync delivery failed")
	ErrClassification = errors.New("field is not classified syncable")
)

// ValidationError reports malformed input: a bad token, an out-of-range
// metric or an empty required field. Nothing is written when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a *ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MigrationError is fatal to Attach. Hosts should offer a reset path rather
// than operate on a partially migrated schema.
type MigrationError struct {
	From    int64 // schema version found on disk
	Version int64 // step that failed; 0 when the failure preceded any step
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("schema migration from version %d failed: %v", e.From, e.Err)
	}
	return fmt.Sprintf("schema migration from version %d failed at step %d: %v", e.From, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }

// SyncDeliveryError reports a failed delivery to the remote endpoint.
// Status is the HTTP status when one was received, zero otherwise.
type SyncDeliveryError struct {
	Status int
	Err    error
}

func (e *SyncDeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sync delivery failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("sync delivery failed: %v", e.Err)
}

func (e *SyncDeliveryError) Unwrap() error { return e.Err }

func (e *SyncDeliveryError) Is(target error) bool { return target == ErrSyncDelivery }

// ClassificationError aborts a sync operation that tried to read a field not
// explicitly classified as syncable.
type ClassificationError struct {
	Table string
	Field string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s.%s is not classified syncable", e.Table, e.Field)
}

func (e *ClassificationError) Is(target error) bool { return target == ErrClassification }
