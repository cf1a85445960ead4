// Package alert persists alerts raised by the engine and fans them out to
// subscribers such as the log and the Alertmanager notifier.
package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/types"
)

// Repository stores alerts.
type Repository interface {
	Add(ctx context.Context, a *types.Alert) error
	Get(ctx context.Context, id string) (*types.Alert, error)
	Recent(ctx context.Context, since time.Time) ([]*types.Alert, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) error
}

// Subscriber is called once for every persisted alert.
type Subscriber func(types.Alert)

// Service implements the engine's AlertSink.
type Service struct {
	Alerts Repository
	Logger *zap.Logger
	Now    func() time.Time

	mu   sync.RWMutex
	subs []Subscriber
}

// NewService returns a service over repo.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Alerts: repo, Logger: logger, Now: time.Now}
}

// Subscribe registers fn for every alert created from now on.
func (s *Service) Subscribe(fn Subscriber) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// CreateAlert builds an alert for rule over events, persists it and
// notifies subscribers. Subscribers run only after a successful write.
func (s *Service) CreateAlert(ctx context.Context, rule *types.RuleRecord, events []*types.Event, title, description string) (*types.Alert, error) {
	if rule == nil {
		return nil, fmt.Errorf("create alert: nil rule")
	}
	a := &types.Alert{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Timestamp:   s.now(),
		Title:       title,
		Description: description,
		EventIDs:    make([]int64, 0, len(events)),
		Metadata:    Summarize(events),
	}
	for _, ev := range events {
		a.EventIDs = append(a.EventIDs, ev.ID)
	}
	if err := s.Alerts.Add(ctx, a); err != nil {
		return nil, fmt.Errorf("persist alert for rule %s: %w", rule.Name, err)
	}

	s.mu.RLock()
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.RUnlock()
	for _, fn := range subs {
		s.notify(fn, *a)
	}
	return a, nil
}

func (s *Service) notify(fn Subscriber, a types.Alert) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("alert subscriber panicked", zap.String("alert_id", a.ID), zap.Any("panic", r))
		}
	}()
	fn(a)
}

// Recent returns alerts raised at or after since, newest first.
func (s *Service) Recent(ctx context.Context, since time.Time) ([]*types.Alert, error) {
	return s.Alerts.Recent(ctx, since)
}

// Acknowledge marks the alert id as handled by the named analyst.
func (s *Service) Acknowledge(ctx context.Context, id, by string) error {
	if err := s.Alerts.Acknowledge(ctx, id, by, s.now()); err != nil {
		return fmt.Errorf("acknowledge %s: %w", id, err)
	}
	s.Logger.Info("alert acknowledged", zap.String("alert_id", id), zap.String("by", by))
	return nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Summarize computes alert metadata over events. Host and user lists are
// distinct, sorted and skip empty values.
func Summarize(events []*types.Event) types.AlertMetadata {
	md := types.AlertMetadata{EventCount: len(events), AffectedHosts: []string{}, AffectedUsers: []string{}}
	hosts := make(map[string]struct{})
	users := make(map[string]struct{})
	for i, ev := range events {
		if i == 0 || ev.Timestamp.Before(md.FirstEventTime) {
			md.FirstEventTime = ev.Timestamp
		}
		if i == 0 || ev.Timestamp.After(md.LastEventTime) {
			md.LastEventTime = ev.Timestamp
		}
		if ev.Host != "" {
			hosts[ev.Host] = struct{}{}
		}
		if ev.User != "" {
			users[ev.User] = struct{}{}
		}
	}
	for h := range hosts {
		md.AffectedHosts = append(md.AffectedHosts, h)
	}
	for u := range users {
		md.AffectedUsers = append(md.AffectedUsers, u)
	}
	sort.Strings(md.AffectedHosts)
	sort.Strings(md.AffectedUsers)
	return md
}

// LogSubscriber writes every alert to logger at warn level.
func LogSubscriber(logger *zap.Logger) Subscriber {
	return func(a types.Alert) {
		logger.Warn("ALERT",
			zap.String("alert_id", a.ID),
			zap.String("rule", a.RuleName),
			zap.String("severity", a.Severity),
			zap.String("title", a.Title),
			zap.String("description", a.Description),
			zap.Int("events", a.Metadata.EventCount),
			zap.Strings("hosts", a.Metadata.AffectedHosts),
			zap.Strings("users", a.Metadata.AffectedUsers))
	}
}
