// Package journal implements the user-facing journaling operations on top of
// the entity store: scanning bottles, running protocols, logging entries and
// doses.
//
// Every write checks the lock state first and validates its input before
// touching the store, so a rejected operation leaves nothing behind.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/journal/internal/anon"
	"github.com/mesh-intelligence/journal/internal/appstate"
	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// Product describes what was printed on a scanned bottle.
type Product struct {
	ID      string
	Name    string
	BatchID *string
}

// EntryInput is what the user records in one journal entry.
type EntryInput struct {
	Content      string
	Energy       int
	Clarity      int
	Mood         int
	Anxiety      *int
	Creativity   *int
	Tags         []string
	DoseID       *string
	PreDoseState *string
	PostDose     *types.PostDoseMetrics
	Setting      *string
	Intention    *string
	SleepQuality *int
	// Timestamp defaults to now.
	Timestamp time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAllowedHosts sets the hosts accepted in scanned links.
func WithAllowedHosts(hosts []string) Option {
	return func(s *Service) { s.hosts = hosts }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs journaling use cases. A nil state means the journal has no
// lock.
type Service struct {
	store types.Store
	anon  *anon.Anonymizer
	state *appstate.State
	hosts []string
	log   *logging.Logger
	now   func() time.Time
}

// NewService returns a Service over an attached store.
func NewService(store types.Store, anonymizer *anon.Anonymizer, state *appstate.State, opts ...Option) *Service {
	s := &Service{
		store: store,
		anon:  anonymizer,
		state: state,
		hosts: types.DefaultAllowedHosts,
		log:   logging.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) unlocked() error {
	if s.state == nil {
		return nil
	}
	return s.state.RequireUnlocked()
}

func (s *Service) table(name string) (types.Table, error) {
	return s.store.GetTable(name)
}

// ScanBottle validates a scanned QR string and records the scan. A token
// seen before bumps the existing bottle's scan count.
func (s *Service) ScanBottle(ctx context.Context, raw string, product Product) (*types.Bottle, error) {
	token, err := anon.ParseBottleToken(raw, s.hosts)
	if err != nil {
		return nil, err
	}
	if err := s.unlocked(); err != nil {
		return nil, err
	}
	bottles, err := s.table(types.TableBottles)
	if err != nil {
		return nil, err
	}

	found, err := bottles.Query(ctx, map[string]any{"bottle_token": token, "limit": 1})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if len(found) > 0 {
		id := found[0].(*types.Bottle).ID
		rec, err := bottles.Update(ctx, id, func(rec any) error {
			rec.(*types.Bottle).RecordScan(now)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("recording scan: %w", err)
		}
		s.log.Info("bottle rescanned", "bottle_id", id)
		return rec.(*types.Bottle), nil
	}

	bottle := &types.Bottle{
		BottleToken: token,
		ProductID:   strings.TrimSpace(product.ID),
		ProductName: strings.TrimSpace(product.Name),
		BatchID:     product.BatchID,
	}
	bottle.RecordScan(now)
	if err := bottle.Validate(); err != nil {
		return nil, err
	}
	rec, err := bottles.Create(ctx, bottle)
	if err != nil {
		return nil, err
	}
	created := rec.(*types.Bottle)
	s.log.Info("bottle scanned", "bottle_id", created.ID)
	return created, nil
}

// Bottles lists every scanned bottle.
func (s *Service) Bottles(ctx context.Context) ([]*types.Bottle, error) {
	return list[types.Bottle](ctx, s.store, types.TableBottles, nil)
}

// StartProtocol begins a protocol for a bottle. The session id is derived
// from the bottle token on this device; the token itself is not copied.
func (s *Service) StartProtocol(ctx context.Context, bottleID string, totalDays int, scheduleType *string) (*types.Protocol, error) {
	if totalDays < 1 {
		return nil, types.Invalid("total_days", "must be at least 1, got %d", totalDays)
	}
	if err := s.unlocked(); err != nil {
		return nil, err
	}
	bottles, err := s.table(types.TableBottles)
	if err != nil {
		return nil, err
	}
	rec, err := bottles.Find(ctx, bottleID)
	if err != nil {
		return nil, err
	}
	bottle := rec.(*types.Bottle)

	sessionID, err := s.anon.DeriveSessionID(ctx, bottle.BottleToken)
	if err != nil {
		return nil, fmt.Errorf("deriving session id: %w", err)
	}
	protocols, err := s.table(types.TableProtocols)
	if err != nil {
		return nil, err
	}
	rec, err = protocols.Create(ctx, &types.Protocol{
		BottleID:     bottle.ID,
		SessionID:    sessionID,
		ProductID:    bottle.ProductID,
		ProductName:  bottle.ProductName,
		StartDate:    s.now().UTC(),
		Status:       types.ProtocolActive,
		ScheduleType: scheduleType,
		TotalDays:    totalDays,
	})
	if err != nil {
		return nil, err
	}
	protocol := rec.(*types.Protocol)
	if s.state != nil {
		s.state.SetActiveProtocol(protocol.ID)
	}
	s.log.Info("protocol started", "protocol_id", protocol.ID, "total_days", totalDays)
	return protocol, nil
}

// Protocols lists protocols, optionally only those in status.
func (s *Service) Protocols(ctx context.Context, status string) ([]*types.Protocol, error) {
	var filter map[string]any
	if status != "" {
		filter = map[string]any{"status": status}
	}
	return list[types.Protocol](ctx, s.store, types.TableProtocols, filter)
}

// Protocol returns one protocol.
func (s *Service) Protocol(ctx context.Context, id string) (*types.Protocol, error) {
	return find[types.Protocol](ctx, s.store, types.TableProtocols, id)
}

// AdvanceDay moves an active protocol forward one day.
func (s *Service) AdvanceDay(ctx context.Context, protocolID string) (*types.Protocol, error) {
	return s.transition(ctx, protocolID, (*types.Protocol).AdvanceDay)
}

// PauseProtocol suspends an active protocol.
func (s *Service) PauseProtocol(ctx context.Context, protocolID string) (*types.Protocol, error) {
	return s.transition(ctx, protocolID, (*types.Protocol).Pause)
}

// ResumeProtocol reactivates a paused protocol. It fails with
// types.ErrActiveProtocolExists if the bottle has another active protocol.
func (s *Service) ResumeProtocol(ctx context.Context, protocolID string) (*types.Protocol, error) {
	return s.transition(ctx, protocolID, (*types.Protocol).Resume)
}

func (s *Service) transition(ctx context.Context, protocolID string, step func(*types.Protocol) error) (*types.Protocol, error) {
	if err := s.unlocked(); err != nil {
		return nil, err
	}
	protocols, err := s.table(types.TableProtocols)
	if err != nil {
		return nil, err
	}
	rec, err := protocols.Update(ctx, protocolID, func(rec any) error {
		return step(rec.(*types.Protocol))
	})
	if err != nil {
		return nil, err
	}
	p := rec.(*types.Protocol)
	s.log.Info("protocol updated", "protocol_id", p.ID, "status", p.Status, "current_day", p.CurrentDay)
	return p, nil
}

// DeleteProtocol removes a protocol with its entries, doses and queued
// contributions. Returns false if it did not exist.
func (s *Service) DeleteProtocol(ctx context.Context, protocolID string) (bool, error) {
	if err := s.unlocked(); err != nil {
		return false, err
	}
	protocols, err := s.table(types.TableProtocols)
	if err != nil {
		return false, err
	}
	ok, err := protocols.Delete(ctx, protocolID)
	if err != nil {
		return false, err
	}
	if ok && s.state != nil && s.state.ActiveProtocol() == protocolID {
		s.state.SetActiveProtocol("")
	}
	return ok, nil
}

// LogEntry records a journal entry on the protocol's current day. If the
// entry references a dose, or a dose was logged for that day, it is marked
// as a dose day with the dose time.
func (s *Service) LogEntry(ctx context.Context, protocolID string, in EntryInput) (*types.Entry, error) {
	entry := &types.Entry{
		ProtocolID:      protocolID,
		Timestamp:       in.Timestamp,
		Content:         in.Content,
		Energy:          in.Energy,
		Clarity:         in.Clarity,
		Mood:            in.Mood,
		Anxiety:         in.Anxiety,
		Creativity:      in.Creativity,
		Tags:            cleanTags(in.Tags),
		DoseID:          in.DoseID,
		PreDoseState:    in.PreDoseState,
		PostDoseMetrics: in.PostDose,
		Setting:         in.Setting,
		Intention:       in.Intention,
		SleepQuality:    in.SleepQuality,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := s.unlocked(); err != nil {
		return nil, err
	}

	protocol, err := s.Protocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	entry.DayNumber = protocol.CurrentDay

	dose, err := s.doseFor(ctx, protocol, in.DoseID)
	if err != nil {
		return nil, err
	}
	if dose != nil {
		entry.DoseID = &dose.ID
		entry.IsDoseDay = true
		ts := dose.Timestamp
		entry.DoseTimestamp = &ts
	}

	entries, err := s.table(types.TableEntries)
	if err != nil {
		return nil, err
	}
	rec, err := entries.Create(ctx, entry)
	if err != nil {
		return nil, err
	}
	created := rec.(*types.Entry)
	s.log.Info("entry logged", "entry_id", created.ID, "protocol_id", protocolID, "day", created.DayNumber)
	return created, nil
}

// doseFor resolves the dose an entry belongs to: the referenced one, or the
// latest dose logged on the protocol's current day.
func (s *Service) doseFor(ctx context.Context, protocol *types.Protocol, doseID *string) (*types.Dose, error) {
	if doseID != nil {
		dose, err := find[types.Dose](ctx, s.store, types.TableDoses, *doseID)
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.Invalid("dose_id", "references a missing dose")
		}
		if err != nil {
			return nil, err
		}
		if dose.ProtocolID != protocol.ID {
			return nil, types.Invalid("dose_id", "belongs to another protocol")
		}
		return dose, nil
	}
	doses, err := s.Doses(ctx, protocol.ID)
	if err != nil {
		return nil, err
	}
	var latest *types.Dose
	for _, d := range doses {
		if d.DayNumber == protocol.CurrentDay {
			latest = d
		}
	}
	return latest, nil
}

// Entries lists a protocol's entries in the order they were written.
func (s *Service) Entries(ctx context.Context, protocolID string) ([]*types.Entry, error) {
	return list[types.Entry](ctx, s.store, types.TableEntries, map[string]any{"protocol_id": protocolID})
}

// DeleteEntry removes an entry and its queued contribution.
func (s *Service) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	if err := s.unlocked(); err != nil {
		return false, err
	}
	entries, err := s.table(types.TableEntries)
	if err != nil {
		return false, err
	}
	return entries.Delete(ctx, entryID)
}

// LogDose records a dose on the protocol's current day.
func (s *Service) LogDose(ctx context.Context, protocolID string, notes *string) (*types.Dose, error) {
	if err := s.unlocked(); err != nil {
		return nil, err
	}
	protocol, err := s.Protocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	if protocol.Status == types.ProtocolCompleted {
		return nil, types.ErrInvalidTransition
	}
	doses, err := s.table(types.TableDoses)
	if err != nil {
		return nil, err
	}
	rec, err := doses.Create(ctx, &types.Dose{
		ProtocolID: protocol.ID,
		BottleID:   protocol.BottleID,
		Timestamp:  s.now().UTC(),
		DayNumber:  protocol.CurrentDay,
		Notes:      notes,
	})
	if err != nil {
		return nil, err
	}
	dose := rec.(*types.Dose)
	s.log.Info("dose logged", "dose_id", dose.ID, "protocol_id", protocol.ID, "day", dose.DayNumber)
	return dose, nil
}

// Doses lists a protocol's doses in the order they were logged.
func (s *Service) Doses(ctx context.Context, protocolID string) ([]*types.Dose, error) {
	return list[types.Dose](ctx, s.store, types.TableDoses, map[string]any{"protocol_id": protocolID})
}

func find[T any](ctx context.Context, store types.Store, table, id string) (*T, error) {
	tbl, err := store.GetTable(table)
	if err != nil {
		return nil, err
	}
	rec, err := tbl.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.(*T), nil
}

func list[T any](ctx context.Context, store types.Store, table string, filter map[string]any) ([]*T, error) {
	tbl, err := store.GetTable(table)
	if err != nil {
		return nil, err
	}
	recs, err := tbl.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.(*T))
	}
	return out, nil
}

func cleanTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
