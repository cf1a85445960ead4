package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/logsentinel/logsentinel/internal/types"
)

// Store keeps events, rules and alerts in memory. It backs the engine when
// no database path is configured. Safe for concurrent use; callers receive
// copies, never the stored values.
type Store struct {
	mu        sync.RWMutex
	events    []*types.Event // ordered by ID
	nextEvent int64
	rules     map[string]*types.RuleRecord // by name
	nextRule  int64
	alerts    map[string]*types.Alert
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		rules:  make(map[string]*types.RuleRecord),
		alerts: make(map[string]*types.Alert),
		now:    time.Now,
	}
}

// Events returns the event repository view of s.
func (s *Store) Events() *EventRepository { return &EventRepository{s: s} }

// Rules returns the rule repository view of s.
func (s *Store) Rules() *RuleRepository { return &RuleRepository{s: s} }

// Alerts returns the alert repository view of s.
func (s *Store) Alerts() *AlertRepository { return &AlertRepository{s: s} }

// EventRepository stores normalized events.
type EventRepository struct{ s *Store }

// Add stores a copy of ev and returns it with its assigned ID.
func (r *EventRepository) Add(_ context.Context, ev *types.Event) (*types.Event, error) {
	if ev == nil {
		return nil, fmt.Errorf("add event: nil event")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	cp := *ev
	cp.ID = s.nextEvent
	s.events = append(s.events, &cp)
	out := cp
	return &out, nil
}

// GetByDateRange returns events with start <= Timestamp <= end, newest first.
func (r *EventRepository) GetByDateRange(_ context.Context, start, end time.Time) ([]*types.Event, error) {
	s := r.s
	s.mu.RLock()
	var out []*types.Event
	for _, ev := range s.events {
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// GetByID returns the event with id or types.ErrNotFound.
func (r *EventRepository) GetByID(_ context.Context, id int64) (*types.Event, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].ID >= id })
	if i == len(s.events) || s.events[i].ID != id {
		return nil, fmt.Errorf("event %d: %w", id, types.ErrNotFound)
	}
	cp := *s.events[i]
	return &cp, nil
}

// Count returns the number of stored events.
func (r *EventRepository) Count(context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.events)), nil
}

// RuleRepository stores rule records keyed by unique name.
type RuleRepository struct{ s *Store }

// Upsert inserts rec or replaces the body, description, severity and
// enabled flag of the rule with the same name. Trigger statistics survive.
func (r *RuleRepository) Upsert(_ context.Context, rec *types.RuleRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("upsert rule: name required")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.rules[rec.Name]; ok {
		cur.Description = rec.Description
		cur.Severity = rec.Severity
		cur.Body = rec.Body
		cur.Enabled = rec.Enabled
		cur.UpdatedAt = &now
		rec.ID, rec.CreatedAt = cur.ID, cur.CreatedAt
		return nil
	}
	s.nextRule++
	cp := *rec
	cp.ID = s.nextRule
	cp.CreatedAt = now
	s.rules[rec.Name] = &cp
	rec.ID, rec.CreatedAt = cp.ID, cp.CreatedAt
	return nil
}

// GetEnabled returns enabled rules ordered by name.
func (r *RuleRepository) GetEnabled(ctx context.Context) ([]*types.RuleRecord, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Enabled {
			out = append(out, rec)
		}
	}
	return out, nil
}

// List returns all rules ordered by name.
func (r *RuleRepository) List(context.Context) ([]*types.RuleRecord, error) {
	s := r.s
	s.mu.RLock()
	out := make([]*types.RuleRecord, 0, len(s.rules))
	for _, rec := range s.rules {
		cp := *rec
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetByName returns the named rule or types.ErrNotFound.
func (r *RuleRepository) GetByName(_ context.Context, name string) (*types.RuleRecord, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rules[name]
	if !ok {
		return nil, fmt.Errorf("rule %q: %w", name, types.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// Update replaces the stored rule with the same name.
func (r *RuleRepository) Update(_ context.Context, rec *types.RuleRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rec.Name]; !ok {
		return fmt.Errorf("rule %q: %w", rec.Name, types.ErrNotFound)
	}
	cp := *rec
	now := s.now()
	cp.UpdatedAt = &now
	s.rules[rec.Name] = &cp
	return nil
}

// AlertRepository stores raised alerts.
type AlertRepository struct{ s *Store }

// Add stores a copy of a. The ID must be set and unique.
func (r *AlertRepository) Add(_ context.Context, a *types.Alert) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("add alert: id required")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.alerts[a.ID]; dup {
		return fmt.Errorf("add alert: duplicate id %s", a.ID)
	}
	cp := *a
	cp.EventIDs = append([]int64(nil), a.EventIDs...)
	s.alerts[a.ID] = &cp
	return nil
}

// Get returns the alert with id or types.ErrNotFound.
func (r *AlertRepository) Get(_ context.Context, id string) (*types.Alert, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, types.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// Recent returns alerts raised at or after since, newest first.
func (r *AlertRepository) Recent(_ context.Context, since time.Time) ([]*types.Alert, error) {
	s := r.s
	s.mu.RLock()
	var out []*types.Alert
	for _, a := range s.alerts {
		if a.Timestamp.Before(since) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Acknowledge marks the alert as acknowledged by whom at the given time.
func (r *AlertRepository) Acknowledge(_ context.Context, id, by string, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, types.ErrNotFound)
	}
	a.Acknowledged = true
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = by
	return nil
}
