package appstate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journal/internal/keystore"
	"github.com/mesh-intelligence/journal/pkg/types"
)

func init() {
	// Keep hashing cheap in tests.
	pinParams.memory = 1024
	pinParams.threads = 1
}

func load(t *testing.T, ks keystore.Keystore) *State {
	t.Helper()
	s, err := Load(context.Background(), ks)
	require.NoError(t, err)
	return s
}

func TestStateWithoutPIN(t *testing.T) {
	s := load(t, keystore.NewMemoryStore())
	assert.True(t, s.IsUnlocked())
	assert.NoError(t, s.RequireUnlocked())
	assert.ErrorIs(t, s.Lock(), ErrPINNotSet)
	assert.ErrorIs(t, s.Unlock(context.Background(), "1234"), ErrPINNotSet)
}

func TestPINLifecycle(t *testing.T) {
	ctx := context.Background()
	ks := keystore.NewMemoryStore()
	s := load(t, ks)

	require.NoError(t, s.SetPIN(ctx, "4821"))
	stored, err := ks.Get(ctx, keystore.KeyPINHash)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "argon2id$"))
	assert.NotContains(t, stored, "4821")

	require.NoError(t, s.Lock())
	assert.False(t, s.IsUnlocked())
	assert.ErrorIs(t, s.RequireUnlocked(), types.ErrLocked)
	assert.ErrorIs(t, s.SetPIN(ctx, "9999"), types.ErrLocked)

	assert.ErrorIs(t, s.Unlock(ctx, "0000"), ErrWrongPIN)
	assert.False(t, s.IsUnlocked())

	require.NoError(t, s.Unlock(ctx, "4821"))
	assert.True(t, s.IsUnlocked())

	// A restarted process starts locked.
	restarted := load(t, ks)
	assert.False(t, restarted.IsUnlocked())
	require.NoError(t, restarted.Unlock(ctx, "4821"))
}

func TestHashesAreSalted(t *testing.T) {
	a, err := hashPIN("1234")
	require.NoError(t, err)
	b, err := hashPIN("1234")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	ok, err := verifyPIN("1234", a)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = verifyPIN("1234", "bcrypt$x$y")
	assert.Error(t, err)
}

func TestValidatePIN(t *testing.T) {
	for _, pin := range []string{"1234", "000000", "123456789012"} {
		assert.NoError(t, ValidatePIN(pin), pin)
	}
	for _, pin := range []string{"", "123", "1234567890123", "12a4", "١٢٣٤"} {
		assert.ErrorIs(t, ValidatePIN(pin), ErrInvalidPIN, pin)
	}
}

func TestChanges(t *testing.T) {
	ctx := context.Background()
	s := load(t, keystore.NewMemoryStore())
	ch, cancel := s.Changes()
	defer cancel()

	s.SetActiveProtocol("p-1")
	snap := <-ch
	assert.Equal(t, "p-1", snap.ActiveProtocol)

	s.SetActiveProtocol("p-1")
	select {
	case extra := <-ch:
		t.Fatalf("unexpected snapshot %+v for an unchanged protocol", extra)
	default:
	}

	require.NoError(t, s.SetPIN(ctx, "1234"))
	require.NoError(t, s.Lock())
	snap = <-ch
	assert.False(t, snap.Unlocked, "slow readers see the latest snapshot")
	assert.True(t, snap.PINSet)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	s.SetActiveProtocol("p-2")
}
