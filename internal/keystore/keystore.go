// Package keystore provides protected key-value storage for device secrets:
// the device id, the anonymization salt and the PIN hash.
//
// Two implementations exist. The file store keeps a JSON document with mode
// 0600 and replaces it atomically on every write. The memory store keeps
// nothing across restarts and is meant for tests and ephemeral sessions.
// Open selects one from configuration.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// Well-known keys.
const (
	KeyDeviceID = "device_id"
	KeySalt     = "salt"
	KeyPINHash  = "pin_hash"
)

// FileName is the file created by the file store inside its directory.
const FileName = "keystore.json"

// ErrKeyNotFound is returned by Get when the key has never been set.
var ErrKeyNotFound = errors.New("key not found")

// Keystore stores secrets by key.
type Keystore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Open returns the keystore named by kind. The file store lives in dir.
func Open(kind, dir string) (Keystore, error) {
	switch kind {
	case "", types.KeystoreFile:
		return NewFileStore(filepath.Join(dir, FileName))
	case types.KeystoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrKeystoreUnknown, kind)
	}
}
