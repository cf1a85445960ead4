// Package engine evaluates persisted events against the compiled rule set
// and raises alerts through an AlertSink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/metrics"
	"github.com/logsentinel/logsentinel/internal/rules"
	"github.com/logsentinel/logsentinel/internal/types"
)

// EventReader is the part of the event repository the engine queries.
// GetByDateRange returns events with start <= Timestamp <= end, newest first.
type EventReader interface {
	GetByDateRange(ctx context.Context, start, end time.Time) ([]*types.Event, error)
}

// RuleRepository stores rule records and their trigger statistics.
type RuleRepository interface {
	GetEnabled(ctx context.Context) ([]*types.RuleRecord, error)
	GetByName(ctx context.Context, name string) (*types.RuleRecord, error)
	Update(ctx context.Context, r *types.RuleRecord) error
}

// AlertSink persists alerts.
type AlertSink interface {
	CreateAlert(ctx context.Context, rule *types.RuleRecord, events []*types.Event, title, description string) (*types.Alert, error)
}

// Engine holds the active rule set. Reload swaps it atomically, so an
// evaluation always sees one consistent set.
type Engine struct {
	events  EventReader
	rules   RuleRepository
	alerts  AlertSink
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	set     atomic.Pointer[[]*rules.Compiled]
	statsMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock sets the clock used for threshold windows and trigger stamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New returns an engine with an empty rule set; call Reload to load rules.
func New(events EventReader, rules RuleRepository, alerts AlertSink, opts ...Option) *Engine {
	e := &Engine{events: events, rules: rules, alerts: alerts, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Reload compiles every enabled rule and publishes the new set. Rules that
// fail to parse or compile are skipped with a warning.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	recs, err := e.rules.GetEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("load enabled rules: %w", err)
	}
	set := make([]*rules.Compiled, 0, len(recs))
	for _, rec := range recs {
		d, err := rules.Parse([]byte(rec.Body))
		if err != nil {
			e.log.Warn("skipping rule", zap.String("rule", rec.Name), zap.Error(err))
			continue
		}
		if rec.Name != "" {
			d.Name = rec.Name
		}
		c, err := rules.Compile(d)
		if err != nil {
			e.log.Warn("skipping rule", zap.String("rule", rec.Name), zap.Error(err))
			continue
		}
		for _, w := range c.Warnings {
			e.log.Warn(w, zap.String("rule", rec.Name))
		}
		set = append(set, c)
		e.log.Debug("rule loaded", zap.String("rule", c.Name()), zap.Stringer("kind", c.Kind), zap.String("severity", rec.Severity))
	}
	e.set.Store(&set)
	e.metrics.SetRules(len(set))
	e.log.Info("rules loaded", zap.Int("count", len(set)), zap.Int("enabled", len(recs)))
	return len(set), nil
}

// Rules returns the active rule set. The slice must not be modified.
func (e *Engine) Rules() []*rules.Compiled {
	if p := e.set.Load(); p != nil {
		return *p
	}
	return nil
}

// Evaluate runs every rule against ev, which must already be persisted so
// that threshold windows include it. It reports whether any rule fired.
// A failing rule does not stop the others; all failures are joined.
func (e *Engine) Evaluate(ctx context.Context, ev *types.Event) (bool, error) {
	var errs []error
	fired := false
	for _, r := range e.Rules() {
		ok, err := e.evaluateRule(ctx, r, ev)
		if err != nil {
			e.log.Error("rule evaluation failed", zap.String("rule", r.Name()), zap.Int64("event_id", ev.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("rule %s: %w", r.Name(), err))
		}
		if ok {
			fired = true
		}
	}
	return fired, errors.Join(errs...)
}

func (e *Engine) evaluateRule(ctx context.Context, r *rules.Compiled, ev *types.Event) (bool, error) {
	if !r.Match(ev) {
		return false, nil
	}
	t := r.Threshold
	if t == nil {
		return true, e.trigger(ctx, r, []*types.Event{ev})
	}

	now := e.now()
	window, err := e.events.GetByDateRange(ctx, now.Add(-t.Timeframe), now)
	if err != nil {
		return false, fmt.Errorf("threshold window: %w", err)
	}
	var matching []*types.Event
	for _, w := range window {
		if r.Match(w) {
			matching = append(matching, w)
		}
	}

	if t.GroupBy == "" {
		if len(matching) < t.Count {
			return false, nil
		}
		return true, e.trigger(ctx, r, matching)
	}

	var order []string
	groups := make(map[string][]*types.Event)
	for _, m := range matching {
		k := t.Key(m)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}
	fired := false
	var errs []error
	for _, k := range order {
		if len(groups[k]) < t.Count {
			continue
		}
		fired = true
		if err := e.trigger(ctx, r, groups[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return fired, errors.Join(errs...)
}

func (e *Engine) trigger(ctx context.Context, r *rules.Compiled, events []*types.Event) error {
	if !r.Alerts() {
		return nil
	}
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	rec, err := e.rules.GetByName(ctx, r.Name())
	if errors.Is(err, types.ErrNotFound) {
		e.log.Warn("rule record not found, no alert raised", zap.String("rule", r.Name()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup rule: %w", err)
	}

	title, description := render(r, events)
	alert, err := e.alerts.CreateAlert(ctx, rec, events, title, description)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	e.metrics.Alert(rec.Name, rec.Severity)

	now := e.now()
	rec.LastTriggeredAt = &now
	rec.TriggerCount++
	if err := e.rules.Update(ctx, rec); err != nil {
		return fmt.Errorf("update rule stats: %w", err)
	}
	e.log.Info("alert raised",
		zap.String("rule", rec.Name),
		zap.String("alert_id", alert.ID),
		zap.String("title", title),
		zap.Int("events", len(events)))
	return nil
}

// render builds the alert title and description. Placeholders {user},
// {host}, {count} and {process} are filled from the first event.
func render(r *rules.Compiled, events []*types.Event) (string, string) {
	d := r.Definition
	title := "Alert: " + d.Name
	description := d.Description
	if r.Kind == rules.KindDetection {
		host := ""
		if len(events) > 0 {
			host = events[0].Host
		}
		description = fmt.Sprintf("Rule '%s' triggered by event from %s", d.Name, host)
	}
	if a := d.Action; a != nil {
		if a.Title != "" {
			title = a.Title
		}
		if a.Description != "" {
			description = a.Description
		}
	}
	if len(events) == 0 {
		return title, description
	}
	first := events[0]
	rep := strings.NewReplacer(
		"{user}", first.User,
		"{host}", first.Host,
		"{count}", strconv.Itoa(len(events)),
		"{process}", first.Process,
	)
	return rep.Replace(title), rep.Replace(description)
}

// EvaluateRange returns the stored events in [start, end] that match at
// least one active rule, newest first. No alerts are raised.
func (e *Engine) EvaluateRange(ctx context.Context, start, end time.Time) ([]*types.Event, error) {
	events, err := e.events.GetByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load range: %w", err)
	}
	set := e.Rules()
	var out []*types.Event
	for _, ev := range events {
		for _, r := range set {
			if r.Match(ev) {
				out = append(out, ev)
				break
			}
		}
	}
	return out, nil
}
