// Package anon derives the anonymous identities that may leave the device.
//
// A session id is a one-way digest of a bottle token with two device
// secrets, the device id and the salt. Both secrets are generated once, on
// first use, and kept in the keystore. Without them the token cannot be
// recovered from a session id, and two devices scanning the same bottle
// produce unrelated session ids.
package anon

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/journal/internal/keystore"
	"github.com/mesh-intelligence/journal/pkg/types"
)

const (
	saltBytes         = 32
	deviceEntropy     = 16
	sessionDigestHex  = 32
	deviceIDPrefix    = "dev_"
	deviceIDDigestHex = 32
)

// Anonymizer derives session ids using secrets held in a keystore.
type Anonymizer struct {
	ks keystore.Keystore

	mu       sync.Mutex
	deviceID string
	salt     string
}

// New returns an Anonymizer over ks. No secret is generated until needed.
func New(ks keystore.Keystore) *Anonymizer {
	return &Anonymizer{ks: ks}
}

// DeviceID returns the device id, generating and persisting it on first use.
func (a *Anonymizer) DeviceID(ctx context.Context) (string, error) {
	deviceID, _, err := a.secrets(ctx)
	return deviceID, err
}

// DeriveSessionID returns the session id for bottleToken on this device.
// The same token always yields the same id on the same device.
func (a *Anonymizer) DeriveSessionID(ctx context.Context, bottleToken string) (string, error) {
	if strings.TrimSpace(bottleToken) == "" {
		return "", types.Invalid("bottle_token", "must not be empty")
	}
	deviceID, salt, err := a.secrets(ctx)
	if err != nil {
		return "", err
	}
	return SessionID(bottleToken, deviceID, salt), nil
}

// SessionID computes anon_ followed by the first 32 hex characters of
// SHA-256(token ":" deviceID ":" salt).
func SessionID(bottleToken, deviceID, salt string) string {
	sum := sha256.Sum256([]byte(bottleToken + ":" + deviceID + ":" + salt))
	return types.SessionIDPrefix + hex.EncodeToString(sum[:])[:sessionDigestHex]
}

// secrets loads both secrets, generating whichever is missing. The result
// is cached; a secret is never regenerated once stored.
func (a *Anonymizer) secrets(ctx context.Context) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deviceID != "" && a.salt != "" {
		return a.deviceID, a.salt, nil
	}

	deviceID, err := loadOrCreate(ctx, a.ks, keystore.KeyDeviceID, newDeviceID)
	if err != nil {
		return "", "", err
	}
	salt, err := loadOrCreate(ctx, a.ks, keystore.KeySalt, newSalt)
	if err != nil {
		return "", "", err
	}
	a.deviceID, a.salt = deviceID, salt
	return deviceID, salt, nil
}

func loadOrCreate(ctx context.Context, ks keystore.Keystore, key string, generate func() (string, error)) (string, error) {
	v, err := ks.Get(ctx, key)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, keystore.ErrKeyNotFound) {
		return "", fmt.Errorf("loading %s: %w", key, err)
	}
	v, err = generate()
	if err != nil {
		return "", fmt.Errorf("generating %s: %w", key, err)
	}
	if err := ks.Set(ctx, key, v); err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}
	return v, nil
}

// newDeviceID hashes a UUID v7, which carries the wall clock and random
// bits, together with extra random bytes.
func newDeviceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	extra := make([]byte, deviceEntropy)
	if _, err := rand.Read(extra); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(id[:])
	h.Write(extra)
	return deviceIDPrefix + hex.EncodeToString(h.Sum(nil))[:deviceIDDigestHex], nil
}

func newSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
