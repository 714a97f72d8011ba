// Package appstate holds the process-wide application state: the active
// protocol and whether the journal is unlocked. One State is created at
// startup and passed by reference to whatever needs it.
package appstate

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/mesh-intelligence/journal/internal/keystore"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// PIN errors.
var (
	ErrPINNotSet  = errors.New("no PIN set")
	ErrWrongPIN   = errors.New("wrong PIN")
	ErrInvalidPIN = errors.New("PIN must be 4 to 12 digits")
)

// argon2id parameters for PIN hashing.
type hashParams struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
	saltLen int
}

var pinParams = hashParams{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32, saltLen: 16}

const hashScheme = "argon2id"

// Snapshot is the observable part of State.
type Snapshot struct {
	ActiveProtocol string
	Unlocked       bool
	PINSet         bool
}

// State is safe for concurrent use. Every mutation notifies subscribers.
type State struct {
	ks keystore.Keystore

	mu             sync.Mutex
	activeProtocol string
	unlocked       bool
	pinSet         bool
	subs           map[int]chan Snapshot
	nextSub        int
}

// Load reads the PIN hash from ks. Without a PIN the state starts unlocked.
func Load(ctx context.Context, ks keystore.Keystore) (*State, error) {
	_, err := ks.Get(ctx, keystore.KeyPINHash)
	switch {
	case err == nil:
		return &State{ks: ks, pinSet: true, subs: make(map[int]chan Snapshot)}, nil
	case errors.Is(err, keystore.ErrKeyNotFound):
		return &State{ks: ks, unlocked: true, subs: make(map[int]chan Snapshot)}, nil
	default:
		return nil, fmt.Errorf("loading PIN hash: %w", err)
	}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{ActiveProtocol: s.activeProtocol, Unlocked: s.unlocked, PINSet: s.pinSet}
}

func (s *State) ActiveProtocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeProtocol
}

// SetActiveProtocol records the protocol the user is working in. An empty
// id clears it.
func (s *State) SetActiveProtocol(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeProtocol == id {
		return
	}
	s.activeProtocol = id
	s.publishLocked()
}

func (s *State) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

// RequireUnlocked returns types.ErrLocked while the journal is locked.
func (s *State) RequireUnlocked() error {
	if !s.IsUnlocked() {
		return types.ErrLocked
	}
	return nil
}

// Unlock compares pin with the stored hash in constant time.
func (s *State) Unlock(ctx context.Context, pin string) error {
	stored, err := s.ks.Get(ctx, keystore.KeyPINHash)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return ErrPINNotSet
	}
	if err != nil {
		return fmt.Errorf("loading PIN hash: %w", err)
	}
	ok, err := verifyPIN(pin, stored)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPIN
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		s.unlocked = true
		s.publishLocked()
	}
	return nil
}

// Lock locks the journal. It fails with ErrPINNotSet when there is no PIN
// to unlock it again.
func (s *State) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pinSet {
		return ErrPINNotSet
	}
	if s.unlocked {
		s.unlocked = false
		s.publishLocked()
	}
	return nil
}

// SetPIN stores a new PIN hash. Changing an existing PIN requires the
// journal to be unlocked.
func (s *State) SetPIN(ctx context.Context, pin string) error {
	if err := ValidatePIN(pin); err != nil {
		return err
	}
	if err := s.RequireUnlocked(); err != nil {
		return err
	}
	encoded, err := hashPIN(pin)
	if err != nil {
		return err
	}
	if err := s.ks.Set(ctx, keystore.KeyPINHash, encoded); err != nil {
		return fmt.Errorf("storing PIN hash: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinSet = true
	s.publishLocked()
	return nil
}

// ValidatePIN accepts 4 to 12 ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 12 {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

// Changes returns a channel receiving a Snapshot after every change and a
// function that ends the subscription. A slow reader sees the latest
// snapshot, not every intermediate one.
func (s *State) Changes() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *State) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// hashPIN encodes pin as "argon2id$<salt>$<key>" in unpadded base64.
func hashPIN(pin string) (string, error) {
	salt := make([]byte, pinParams.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating PIN salt: %w", err)
	}
	key := argon2.IDKey([]byte(pin), salt, pinParams.time, pinParams.memory, pinParams.threads, pinParams.keyLen)
	enc := base64.RawStdEncoding
	return hashScheme + "$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

func verifyPIN(pin, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != hashScheme {
		return false, errors.New("stored PIN hash is malformed")
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return false, errors.New("stored PIN hash is malformed")
	}
	want, err := enc.DecodeString(parts[2])
	if err != nil {
		return false, errors.New("stored PIN hash is malformed")
	}
	got := argon2.IDKey([]byte(pin), salt, pinParams.time, pinParams.memory, pinParams.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
