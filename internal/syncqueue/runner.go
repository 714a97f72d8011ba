package syncqueue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/journal/internal/connectivity"
	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// Runner keeps the queue moving in the background. It enqueues new entries
// as they are committed, drains on reconnect and on Trigger, cancels an
// in-flight drain when connectivity drops, and schedules follow-up drains
// with exponential backoff while items remain pending.
type Runner struct {
	proc    *Processor
	store   types.Store
	conn    connectivity.Observer
	log     *logging.Logger
	trigger chan struct{}
	drained chan DrainReport
}

// NewRunner returns a Runner. Drain results are published on Drained.
func NewRunner(proc *Processor, store types.Store, conn connectivity.Observer, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NewNop()
	}
	return &Runner{
		proc:    proc,
		store:   store,
		conn:    conn,
		log:     log.With("component", "sync-runner"),
		trigger: make(chan struct{}, 1),
		drained: make(chan DrainReport, 16),
	}
}

// Trigger requests a drain. Requests made while one is pending coalesce.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Drained receives the report of every finished drain. Reports are dropped
// when nobody reads them.
func (r *Runner) Drained() <-chan DrainReport {
	return r.drained
}

// Run blocks until ctx ends or the store detaches. Entries still pending
// contribution when Run starts are enqueued first.
func (r *Runner) Run(ctx context.Context) error {
	changes, unsubscribe, err := r.store.Subscribe(types.TableEntries)
	if err != nil {
		return err
	}
	defer unsubscribe()
	if err := r.backfill(ctx); err != nil {
		return err
	}
	online, stopWatching := r.conn.Subscribe()
	defer stopWatching()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.enqueueLoop(gctx, changes)
	})
	g.Go(func() error {
		return r.drainLoop(gctx, online)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errSubscriptionClosed) {
		return err
	}
	return nil
}

// errSubscriptionClosed stops the drain loop once the store detaches.
var errSubscriptionClosed = errors.New("entry subscription closed")

// backfill enqueues entries written while no runner was watching.
func (r *Runner) backfill(ctx context.Context) error {
	entries, err := r.store.GetTable(types.TableEntries)
	if err != nil {
		return err
	}
	recs, err := entries.Query(ctx, map[string]any{"contribution_status": types.ContributionPending})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		r.enqueue(ctx, rec.(*types.Entry).ID)
	}
	return nil
}

func (r *Runner) enqueue(ctx context.Context, entryID string) {
	_, err := r.proc.Enqueue(ctx, entryID)
	switch {
	case err == nil:
		r.Trigger()
	case errors.Is(err, types.ErrClassification):
		r.log.Error("entry not enqueued", "entry_id", entryID, "error", err)
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNotFound):
		r.log.Debug("entry not enqueued", "entry_id", entryID, "error", err)
	default:
		r.log.Warn("entry not enqueued", "entry_id", entryID, "error", err)
	}
}

// enqueueLoop turns committed entry creations into queue items.
func (r *Runner) enqueueLoop(ctx context.Context, changes <-chan types.Change) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return errSubscriptionClosed
			}
			if c.Op != types.OpCreate {
				continue
			}
			r.enqueue(ctx, c.ID)
		}
	}
}

// drainLoop owns the single in-flight drain and its retry timer.
func (r *Runner) drainLoop(ctx context.Context, online <-chan bool) error {
	bo := newBackoff(r.proc.Config())

	var (
		cancelDrain context.CancelFunc
		done        chan DrainReport
		retry       *time.Timer
		retryC      <-chan time.Time
		rerun       bool // a request arrived while a drain was running
	)
	isOnline := r.conn.Online()

	start := func() {
		if !isOnline {
			return
		}
		if cancelDrain != nil {
			rerun = true
			return
		}
		if retry != nil {
			retry.Stop()
			retryC = nil
		}
		dctx, cancel := context.WithCancel(ctx)
		cancelDrain = cancel
		done = make(chan DrainReport, 1)
		go func(out chan<- DrainReport) {
			report, err := r.proc.Drain(dctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("drain failed", "error", err)
			}
			out <- report
		}(done)
	}
	stop := func() {
		if cancelDrain != nil {
			cancelDrain()
		}
		if retry != nil {
			retry.Stop()
			retryC = nil
		}
	}

	start()
	for {
		select {
		case <-ctx.Done():
			stop()
			if done != nil {
				<-done
			}
			return nil

		case up, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			isOnline = up
			if up {
				bo = newBackoff(r.proc.Config())
				start()
			} else {
				r.log.Info("connectivity lost, cancelling drain")
				rerun = false
				stop()
			}

		case <-r.trigger:
			start()

		case <-retryC:
			retryC = nil
			start()

		case report := <-done:
			cancelDrain()
			cancelDrain = nil
			done = nil
			select {
			case r.drained <- report:
			default:
			}
			if rerun && isOnline {
				rerun = false
				start()
				continue
			}
			if report.Remaining == 0 || !isOnline {
				bo = newBackoff(r.proc.Config())
				continue
			}
			bo = refreshBackoff(bo, r.proc.Config())
			wait := bo.NextBackOff()
			if wait < 0 {
				wait = bo.MaxInterval
			}
			r.log.Debug("scheduling follow-up drain", "remaining", report.Remaining, "wait", wait)
			retry = time.NewTimer(wait)
			retryC = retry.C
		}
	}
}

// newBackoff returns a fresh retry schedule bounded by cfg.
func newBackoff(cfg types.SyncConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.GetBackoffMin()
	bo.MaxInterval = cfg.GetBackoffMax()
	return bo
}

// refreshBackoff keeps bo while its bounds match cfg and starts over from
// cfg once SetConfig has changed them.
func refreshBackoff(bo *backoff.ExponentialBackOff, cfg types.SyncConfig) *backoff.ExponentialBackOff {
	if bo.InitialInterval == cfg.GetBackoffMin() && bo.MaxInterval == cfg.GetBackoffMax() {
		return bo
	}
	return newBackoff(cfg)
}
