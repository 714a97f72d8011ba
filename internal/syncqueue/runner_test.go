package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journal/internal/connectivity"
	"github.com/mesh-intelligence/journal/pkg/types"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

// startRunner runs r until the test ends and returns the Run error channel.
func startRunner(t *testing.T, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errc <- r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Error("runner did not stop")
		}
	})
	return cancel, errc
}

func pendingCount(t *testing.T, p *Processor) int {
	stats, err := p.Stats(context.Background())
	require.NoError(t, err)
	return stats.Pending
}

func TestRunnerEnqueuesAndDelivers(t *testing.T) {
	store := setupStore(t)
	protocol := seedProtocol(t, store)
	remote := &fakeRemote{}
	p := NewProcessor(store, remote, types.SyncConfig{})
	r := NewRunner(p, store, connectivity.NewSignal(true), nil)
	startRunner(t, r)

	entry := addEntry(t, store, protocol.ID, 1)

	require.Eventually(t, func() bool {
		return findEntry(t, store, entry.ID).ContributionStatus == types.ContributionSynced
	}, waitFor, tick)
	assert.Len(t, remote.calls(), 1)
	assert.Zero(t, pendingCount(t, p))
}

func TestRunnerBackfillsPendingEntries(t *testing.T) {
	store := setupStore(t)
	protocol := seedProtocol(t, store)
	first := addEntry(t, store, protocol.ID, 1)
	second := addEntry(t, store, protocol.ID, 2)

	remote := &fakeRemote{}
	p := NewProcessor(store, remote, types.SyncConfig{})
	startRunner(t, NewRunner(p, store, connectivity.NewSignal(true), nil))

	require.Eventually(t, func() bool {
		return findEntry(t, store, first.ID).ContributionStatus == types.ContributionSynced &&
			findEntry(t, store, second.ID).ContributionStatus == types.ContributionSynced
	}, waitFor, tick)
}

func TestRunnerWaitsForConnectivity(t *testing.T) {
	store := setupStore(t)
	protocol := seedProtocol(t, store)
	remote := &fakeRemote{}
	signal := connectivity.NewSignal(false)
	p := NewProcessor(store, remote, types.SyncConfig{})
	r := NewRunner(p, store, signal, nil)
	startRunner(t, r)

	addEntry(t, store, protocol.ID, 1)
	require.Eventually(t, func() bool { return pendingCount(t, p) == 1 }, waitFor, tick)

	r.Trigger()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, remote.calls(), "no delivery while offline")

	signal.Set(true)
	require.Eventually(t, func() bool { return pendingCount(t, p) == 0 }, waitFor, tick)
	assert.Len(t, remote.calls(), 1)
}

func TestRunnerCancelsDrainWhenOffline(t *testing.T) {
	store := setupStore(t)
	protocol := seedProtocol(t, store)
	remote := &fakeRemote{block: true, started: make(chan string, 8)}
	signal := connectivity.NewSignal(true)
	p := NewProcessor(store, remote, types.SyncConfig{})
	r := NewRunner(p, store, signal, nil)
	startRunner(t, r)

	addEntry(t, store, protocol.ID, 1)
	select {
	case <-remote.started:
	case <-time.After(waitFor):
		t.Fatal("delivery never started")
	}
	signal.Set(false)

	deadline := time.After(waitFor)
	for cancelled := false; !cancelled; {
		select {
		case report := <-r.Drained():
			cancelled = report.Cancelled
		case <-deadline:
			t.Fatal("drain was not cancelled")
		}
	}
	dead, err := p.DeadItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dead)

	items, err := table(t, store, types.TableSyncQueue).Query(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Zero(t, items[0].(*types.SyncItem).Attempts)
}

func TestRunnerRetriesWithBackoff(t *testing.T) {
	store := setupStore(t)
	protocol := seedProtocol(t, store)
	remote := &fakeRemote{failures: -1}
	p := NewProcessor(store, remote, types.SyncConfig{
		MaxAttempts: 3,
		BackoffMin:  5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	})
	startRunner(t, NewRunner(p, store, connectivity.NewSignal(true), nil))

	entry := addEntry(t, store, protocol.ID, 1)
	require.Eventually(t, func() bool {
		return findEntry(t, store, entry.ID).ContributionStatus == types.ContributionError
	}, waitFor, tick)
	assert.Len(t, remote.calls(), 3)
}

func TestRunnerStopsWhenStoreDetaches(t *testing.T) {
	store := setupStore(t)
	p := NewProcessor(store, &fakeRemote{}, types.SyncConfig{})
	_, errc := startRunner(t, NewRunner(p, store, connectivity.NewSignal(false), nil))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Detach())
	select {
	case err := <-errc:
		// Detaching before Run subscribes is reported as such.
		if err != nil {
			assert.ErrorIs(t, err, types.ErrStoreDetached)
		}
	case <-time.After(waitFor):
		t.Fatal("runner kept running after detach")
	}
}

func TestRunnerPicksUpReloadedBackoff(t *testing.T) {
	store := setupStore(t)
	protocol := seedProtocol(t, store)
	remote := &fakeRemote{failures: -1}
	signal := connectivity.NewSignal(false)
	p := NewProcessor(store, remote, types.SyncConfig{
		MaxAttempts: 3,
		BackoffMin:  time.Hour,
		BackoffMax:  time.Hour,
	})
	startRunner(t, NewRunner(p, store, signal, nil))

	entry := addEntry(t, store, protocol.ID, 1)
	require.Eventually(t, func() bool { return pendingCount(t, p) == 1 }, waitFor, tick)

	require.NoError(t, p.SetConfig(types.SyncConfig{
		MaxAttempts: 3,
		BackoffMin:  5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	}))
	signal.Set(true)

	require.Eventually(t, func() bool {
		return findEntry(t, store, entry.ID).ContributionStatus == types.ContributionError
	}, waitFor, tick)
	assert.Len(t, remote.calls(), 3)
}

func TestRefreshBackoff(t *testing.T) {
	cfg := types.SyncConfig{BackoffMin: 10 * time.Millisecond, BackoffMax: time.Second}
	bo := newBackoff(cfg)
	first := bo.NextBackOff()
	assert.Greater(t, first, time.Duration(0))

	assert.Same(t, bo, refreshBackoff(bo, cfg), "unchanged bounds keep the schedule")

	cfg.BackoffMax = 2 * time.Second
	fresh := refreshBackoff(bo, cfg)
	assert.NotSame(t, bo, fresh)
	assert.Equal(t, 2*time.Second, fresh.MaxInterval)
	assert.Equal(t, 10*time.Millisecond, fresh.InitialInterval)
}
