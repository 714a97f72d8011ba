// Package syncqueue moves anonymized entry payloads from the local outbox to
// the remote endpoint.
//
// Items are delivered oldest first in bounded batches. A delivered item is
// deleted; a failed one keeps its place with one more attempt recorded until
// the attempt cap marks it dead. Delivery is at-least-once and every request
// carries the item id as its idempotency key.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/internal/privacy"
	"github.com/mesh-intelligence/journal/pkg/types"
)

const tracerName = "github.com/mesh-intelligence/journal/internal/syncqueue"

// Processor errors.
var (
	ErrDrainInProgress = errors.New("drain already in progress")
	ErrNotDead         = errors.New("sync item is not dead")
)

// Remote delivers one serialized payload. key identifies the payload across
// redeliveries.
type Remote interface {
	Deliver(ctx context.Context, key string, payload []byte) error
}

// DrainReport summarizes one Drain call.
type DrainReport struct {
	Delivered int  `json:"delivered"`
	Failed    int  `json:"failed"`    // failures that left the item pending
	Dead      int  `json:"dead"`      // items that reached the attempt cap
	Deferred  int  `json:"deferred"`  // items left untouched because the drain was cancelled
	Remaining int  `json:"remaining"` // pending items after the drain
	Cancelled bool `json:"cancelled"` // the context ended before the snapshot was processed
}

// Stats counts queue items by state.
type Stats struct {
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPolicy replaces the default field classification policy.
func WithPolicy(policy privacy.Policy) Option {
	return func(p *Processor) { p.policy = policy }
}

// WithClock overrides time.Now for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor enqueues and drains sync items. It holds no store lock while a
// request is in flight: items are read, delivered, then written back.
type Processor struct {
	store  types.Store
	remote Remote
	policy privacy.Policy
	log    *logging.Logger
	tracer trace.Tracer
	now    func() time.Time

	cfgMu sync.RWMutex
	cfg   types.SyncConfig

	draining atomic.Bool
}

// NewProcessor returns a Processor over store delivering to remote.
func NewProcessor(store types.Store, remote Remote, cfg types.SyncConfig, opts ...Option) *Processor {
	p := &Processor{
		store:  store,
		remote: remote,
		policy: privacy.DefaultPolicy(),
		log:    logging.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the current sync policy.
func (p *Processor) Config() types.SyncConfig {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

// SetConfig replaces the sync policy. A drain in progress keeps the policy
// it started with.
func (p *Processor) SetConfig(cfg types.SyncConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
	return nil
}

// Enqueue builds the anonymized payload for the entry and appends it to the
// queue. An entry that already has a queue item returns that item. A field
// that is not classified syncable fails the enqueue with
// *types.ClassificationError and nothing is written.
func (p *Processor) Enqueue(ctx context.Context, entryID string) (*types.SyncItem, error) {
	entry, err := p.entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	protocol, err := p.protocol(ctx, entry.ProtocolID)
	if err != nil {
		return nil, err
	}

	queue, err := p.store.GetTable(types.TableSyncQueue)
	if err != nil {
		return nil, err
	}
	existing, err := queue.Query(ctx, map[string]any{"entry_id": entryID, "limit": 1})
	if err != nil {
		return nil, fmt.Errorf("looking up queued item: %w", err)
	}
	if len(existing) > 0 {
		return existing[0].(*types.SyncItem), nil
	}

	payload, err := privacy.BuildEntryPayload(p.policy, protocol, entry)
	if err != nil {
		return nil, err
	}
	raw, err := payload.Encode(p.policy)
	if err != nil {
		return nil, err
	}
	created, err := queue.Create(ctx, &types.SyncItem{
		EntryID: entryID,
		Payload: raw,
		Status:  types.SyncPending,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing entry: %w", err)
	}
	item := created.(*types.SyncItem)
	p.log.Debug("entry enqueued", "item_id", item.ID, "entry_id", entryID)
	return item, nil
}

// outcome is the result of delivering one item.
type outcome struct {
	item *types.SyncItem
	err  error
}

// Drain delivers the pending items present when it starts, oldest first,
// in batches of the configured size. Only one drain runs at a time; a
// concurrent call returns ErrDrainInProgress.
//
// Each request has its own timeout and a timeout counts as a failure. When
// ctx ends the batch in flight is left pending with no attempt consumed and
// Drain returns the context error with a report of what was done.
func (p *Processor) Drain(ctx context.Context) (DrainReport, error) {
	if !p.draining.CompareAndSwap(false, true) {
		return DrainReport{}, ErrDrainInProgress
	}
	defer p.draining.Store(false)

	cfg := p.Config()
	ctx, span := p.tracer.Start(ctx, "syncqueue.Drain")
	defer span.End()

	var report DrainReport
	items, err := p.pending(ctx, cfg.GetMaxAttempts(), &report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing pending items")
		return report, err
	}
	span.SetAttributes(attribute.Int("sync.pending", len(items)))

	batchSize := cfg.GetBatchSize()
	for start := 0; start < len(items); start += batchSize {
		if ctx.Err() != nil {
			report.Cancelled = true
			report.Deferred += len(items) - start
			break
		}
		end := min(start+batchSize, len(items))
		batch := items[start:end]
		outcomes := p.deliverBatch(ctx, batch, cfg.GetRequestTimeout())

		// Settle with a context that survives cancellation so the
		// bookkeeping of a cancelled batch still lands.
		settleCtx := context.WithoutCancel(ctx)
		if ctx.Err() != nil {
			report.Cancelled = true
			report.Deferred += len(items) - start
			p.deferBatch(settleCtx, batch, ctx.Err())
			break
		}
		for _, o := range outcomes {
			if err := p.settle(settleCtx, o, cfg.GetMaxAttempts(), &report); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "settling delivery")
				return report, err
			}
		}
	}

	stats, err := p.Stats(context.WithoutCancel(ctx))
	if err == nil {
		report.Remaining = stats.Pending
	}
	span.SetAttributes(
		attribute.Int("sync.delivered", report.Delivered),
		attribute.Int("sync.failed", report.Failed),
		attribute.Int("sync.dead", report.Dead),
		attribute.Bool("sync.cancelled", report.Cancelled),
	)
	p.log.Info("drain finished",
		"delivered", report.Delivered, "failed", report.Failed, "dead", report.Dead,
		"deferred", report.Deferred, "remaining", report.Remaining, "cancelled", report.Cancelled)

	if report.Cancelled {
		span.SetStatus(codes.Error, "cancelled")
		return report, ctx.Err()
	}
	return report, nil
}

// deliverBatch sends every member of batch concurrently and waits for all.
func (p *Processor) deliverBatch(ctx context.Context, batch []*types.SyncItem, timeout time.Duration) []outcome {
	outcomes := make([]outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(len(batch))
	for i, item := range batch {
		g.Go(func() error {
			outcomes[i] = outcome{item: item, err: p.deliver(ctx, item, timeout)}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Processor) deliver(ctx context.Context, item *types.SyncItem, timeout time.Duration) error {
	ctx, span := p.tracer.Start(ctx, "syncqueue.Deliver",
		trace.WithAttributes(
			attribute.String("sync.item_id", item.ID),
			attribute.Int("sync.attempts", item.Attempts),
		))
	defer span.End()

	// Stored payloads are checked again so a policy change takes effect on
	// items queued before it.
	if err := privacy.VerifyPayload(p.policy, item.Payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payload rejected")
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.remote.Deliver(reqCtx, item.ID, item.Payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return err
	}
	return nil
}

// settle writes the outcome of one delivery back to the store.
func (p *Processor) settle(ctx context.Context, o outcome, maxAttempts int, report *DrainReport) error {
	queue, err := p.store.GetTable(types.TableSyncQueue)
	if err != nil {
		return err
	}

	if o.err == nil {
		if _, err := queue.Delete(ctx, o.item.ID); err != nil {
			return fmt.Errorf("removing delivered item: %w", err)
		}
		report.Delivered++
		return p.setContribution(ctx, o.item.EntryID, types.ContributionSynced)
	}

	var classErr *types.ClassificationError
	rejected := errors.As(o.err, &classErr)
	var dead bool
	_, err = queue.Update(ctx, o.item.ID, func(rec any) error {
		item := rec.(*types.SyncItem)
		item.RecordFailure(o.err, p.now().UTC(), maxAttempts)
		if rejected {
			// The payload can never be sent as stored.
			item.Status = types.SyncDead
		}
		dead = item.Status == types.SyncDead
		return nil
	})
	if errors.Is(err, types.ErrNotFound) {
		// The entry was deleted while the request was in flight.
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording failed delivery: %w", err)
	}
	if !dead {
		report.Failed++
		p.log.Warn("delivery failed", "item_id", o.item.ID, "attempt", o.item.Attempts+1, "error", o.err)
		return nil
	}
	report.Dead++
	p.log.Error("sync item dead", "item_id", o.item.ID, "error", o.err)
	return p.setContribution(ctx, o.item.EntryID, types.ContributionError)
}

// deferBatch records the cancellation on every member of an interrupted
// batch without consuming an attempt.
func (p *Processor) deferBatch(ctx context.Context, batch []*types.SyncItem, cause error) {
	queue, err := p.store.GetTable(types.TableSyncQueue)
	if err != nil {
		return
	}
	msg := fmt.Sprintf("drain cancelled: %v", cause)
	for _, item := range batch {
		_, err := queue.Update(ctx, item.ID, func(rec any) error {
			rec.(*types.SyncItem).LastError = &msg
			return nil
		})
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			p.log.Warn("recording cancelled delivery", "item_id", item.ID, "error", err)
		}
	}
}

func (p *Processor) setContribution(ctx context.Context, entryID, status string) error {
	entries, err := p.store.GetTable(types.TableEntries)
	if err != nil {
		return err
	}
	_, err = entries.Update(ctx, entryID, func(rec any) error {
		rec.(*types.Entry).ContributionStatus = status
		return nil
	})
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("updating contribution status: %w", err)
	}
	return nil
}

// pending returns the items eligible for delivery in insertion order.
// Pending items already at maxAttempts, left behind when the cap was
// lowered, are marked dead here and counted in report.
func (p *Processor) pending(ctx context.Context, maxAttempts int, report *DrainReport) ([]*types.SyncItem, error) {
	items, err := p.items(ctx, types.SyncPending)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, item := range items {
		if item.Eligible(maxAttempts) {
			out = append(out, item)
			continue
		}
		if err := p.retire(ctx, item, maxAttempts); err != nil {
			return nil, err
		}
		report.Dead++
	}
	return out, nil
}

// retire marks an over-cap pending item dead.
func (p *Processor) retire(ctx context.Context, item *types.SyncItem, maxAttempts int) error {
	queue, err := p.store.GetTable(types.TableSyncQueue)
	if err != nil {
		return err
	}
	_, err = queue.Update(ctx, item.ID, func(rec any) error {
		rec.(*types.SyncItem).Status = types.SyncDead
		return nil
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("retiring item over attempt cap: %w", err)
	}
	p.log.Error("sync item dead", "item_id", item.ID, "attempts", item.Attempts, "max_attempts", maxAttempts)
	return p.setContribution(ctx, item.EntryID, types.ContributionError)
}

func (p *Processor) items(ctx context.Context, status string) ([]*types.SyncItem, error) {
	queue, err := p.store.GetTable(types.TableSyncQueue)
	if err != nil {
		return nil, err
	}
	recs, err := queue.Query(ctx, map[string]any{"status": status})
	if err != nil {
		return nil, fmt.Errorf("listing %s items: %w", status, err)
	}
	items := make([]*types.SyncItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.(*types.SyncItem))
	}
	return items, nil
}

// Stats counts pending and dead items.
func (p *Processor) Stats(ctx context.Context) (Stats, error) {
	pending, err := p.items(ctx, types.SyncPending)
	if err != nil {
		return Stats{}, err
	}
	dead, err := p.items(ctx, types.SyncDead)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pending: len(pending), Dead: len(dead)}, nil
}

// DeadItems returns the items that reached the attempt cap, for diagnostics.
func (p *Processor) DeadItems(ctx context.Context) ([]*types.SyncItem, error) {
	return p.items(ctx, types.SyncDead)
}

// Retry resets a dead item so the next drain delivers it again, and marks
// its entry pending. Returns ErrNotDead for an item that is still pending.
func (p *Processor) Retry(ctx context.Context, id string) (*types.SyncItem, error) {
	queue, err := p.store.GetTable(types.TableSyncQueue)
	if err != nil {
		return nil, err
	}
	rec, err := queue.Update(ctx, id, func(rec any) error {
		item := rec.(*types.SyncItem)
		if item.Status != types.SyncDead {
			return ErrNotDead
		}
		item.Revive()
		return nil
	})
	if err != nil {
		return nil, err
	}
	item := rec.(*types.SyncItem)
	if err := p.setContribution(ctx, item.EntryID, types.ContributionPending); err != nil {
		return nil, err
	}
	p.log.Info("dead item revived", "item_id", id)
	return item, nil
}

func (p *Processor) entry(ctx context.Context, id string) (*types.Entry, error) {
	entries, err := p.store.GetTable(types.TableEntries)
	if err != nil {
		return nil, err
	}
	rec, err := entries.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}
	return rec.(*types.Entry), nil
}

func (p *Processor) protocol(ctx context.Context, id string) (*types.Protocol, error) {
	protocols, err := p.store.GetTable(types.TableProtocols)
	if err != nil {
		return nil, err
	}
	rec, err := protocols.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading protocol: %w", err)
	}
	return rec.(*types.Protocol), nil
}
