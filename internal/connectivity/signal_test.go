package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalTransitions(t *testing.T) {
	s := NewSignal(false)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Set(false)
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v without a transition", v)
	default:
	}

	s.Set(true)
	require.True(t, s.Online())
	assert.True(t, <-ch)

	s.Set(false)
	assert.False(t, <-ch)
}

func TestSignalLatestStateWins(t *testing.T) {
	s := NewSignal(true)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Set(false)
	s.Set(true)
	s.Set(false)

	assert.False(t, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra notification %v", v)
	default:
	}
}

func TestSignalCancel(t *testing.T) {
	s := NewSignal(false)
	ch, cancel := s.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Transitions after cancel must not panic on the closed channel.
	s.Set(true)
	assert.True(t, s.Online())
}
