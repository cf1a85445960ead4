package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/logsentinel/logsentinel/internal/types"
)

// Store exposes the event, rule and alert repositories of one DB.
// Timestamps are stored in UTC with microsecond precision.
type Store struct {
	db  *DB
	now func() time.Time
}

// NewStore returns repositories backed by db.
func NewStore(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Events returns the event repository.
func (s *Store) Events() *EventRepository { return &EventRepository{db: s.db} }

// Rules returns the rule repository.
func (s *Store) Rules() *RuleRepository { return &RuleRepository{db: s.db, now: s.now} }

// Alerts returns the alert repository.
func (s *Store) Alerts() *AlertRepository { return &AlertRepository{db: s.db} }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// EventRepository stores normalized events in the events table.
type EventRepository struct{ db *DB }

const eventColumns = `id, timestamp, host, user_name, code, provider, level, process,
	parent_process, action, object, message, details, raw, ingested_at, source`

// Add inserts ev and returns a copy carrying the assigned ID.
func (r *EventRepository) Add(ctx context.Context, ev *types.Event) (*types.Event, error) {
	if ev == nil {
		return nil, fmt.Errorf("add event: nil event")
	}
	var code any
	if ev.Code != nil {
		code = *ev.Code
	}
	ingested := ev.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	out := *ev
	err := r.db.sql.QueryRowContext(ctx, `
		INSERT INTO events (timestamp, host, user_name, code, provider, level, process,
			parent_process, action, object, message, details, raw, ingested_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		ev.Timestamp.UTC(), ev.Host, ev.User, code, ev.Provider, ev.Level.String(), ev.Process,
		ev.ParentProcess, ev.Action, ev.Object, ev.Message, ev.DetailsJSON(), ev.Raw, ingested.UTC(), ev.Source,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	out.IngestedAt = ingested
	return &out, nil
}

// GetByDateRange returns events with start <= timestamp <= end, newest first.
func (r *EventRepository) GetByDateRange(ctx context.Context, start, end time.Time) ([]*types.Event, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC, id DESC`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetByID returns the event with id or types.ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*types.Event, error) {
	row := r.db.sql.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, types.ErrNotFound)
	}
	return ev, err
}

// Count returns the number of stored events.
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.sql.QueryRowContext(ctx, `SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*types.Event, error) {
	var (
		ev      types.Event
		code    sql.NullInt64
		level   string
		details string
	)
	err := s.Scan(&ev.ID, &ev.Timestamp, &ev.Host, &ev.User, &code, &ev.Provider, &level, &ev.Process,
		&ev.ParentProcess, &ev.Action, &ev.Object, &ev.Message, &details, &ev.Raw, &ev.IngestedAt, &ev.Source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if code.Valid {
		ev.Code = types.Code(int(code.Int64))
	}
	ev.Level = types.ParseLevel(level)
	if details != "" && details != "{}" {
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("event %d details: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// RuleRepository stores rule records in the rules table.
type RuleRepository struct {
	db  *DB
	now func() time.Time
}

const ruleColumns = `id, name, description, severity, body, enabled, created_at, updated_at, last_triggered_at, trigger_count`

// Upsert inserts rec or replaces the body, description, severity and
// enabled flag of the rule with the same name. Trigger statistics survive.
func (r *RuleRepository) Upsert(ctx context.Context, rec *types.RuleRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("upsert rule: name required")
	}
	now := r.now().UTC()
	err := r.db.sql.QueryRowContext(ctx, `
		INSERT INTO rules (name, description, severity, body, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			severity = excluded.severity,
			body = excluded.body,
			enabled = excluded.enabled,
			updated_at = excluded.created_at
		RETURNING id, created_at`,
		rec.Name, rec.Description, rec.Severity, rec.Body, rec.Enabled, now,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule %q: %w", rec.Name, err)
	}
	return nil
}

// GetEnabled returns enabled rules ordered by name.
func (r *RuleRepository) GetEnabled(ctx context.Context) ([]*types.RuleRecord, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled ORDER BY name`)
}

// List returns all rules ordered by name.
func (r *RuleRepository) List(ctx context.Context) ([]*types.RuleRecord, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY name`)
}

func (r *RuleRepository) query(ctx context.Context, q string, args ...any) ([]*types.RuleRecord, error) {
	rows, err := r.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	var out []*types.RuleRecord
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetByName returns the named rule or types.ErrNotFound.
func (r *RuleRepository) GetByName(ctx context.Context, name string) (*types.RuleRecord, error) {
	rec, err := scanRule(r.db.sql.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %q: %w", name, types.ErrNotFound)
	}
	return rec, err
}

// Update writes every mutable column of the rule with the same name.
func (r *RuleRepository) Update(ctx context.Context, rec *types.RuleRecord) error {
	res, err := r.db.sql.ExecContext(ctx, `
		UPDATE rules SET description = ?, severity = ?, body = ?, enabled = ?,
			updated_at = ?, last_triggered_at = ?, trigger_count = ?
		WHERE name = ?`,
		rec.Description, rec.Severity, rec.Body, rec.Enabled,
		r.now().UTC(), nullTime(rec.LastTriggeredAt), rec.TriggerCount, rec.Name)
	if err != nil {
		return fmt.Errorf("update rule %q: %w", rec.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %q: %w", rec.Name, types.ErrNotFound)
	}
	return nil
}

func scanRule(s scanner) (*types.RuleRecord, error) {
	var (
		rec       types.RuleRecord
		updated   sql.NullTime
		triggered sql.NullTime
	)
	err := s.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.Severity, &rec.Body, &rec.Enabled,
		&rec.CreatedAt, &updated, &triggered, &rec.TriggerCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	rec.UpdatedAt = timePtr(updated)
	rec.LastTriggeredAt = timePtr(triggered)
	return &rec, nil
}

// AlertRepository stores alerts in the alerts table. Event IDs and
// metadata are kept as JSON.
type AlertRepository struct{ db *DB }

const alertColumns = `id, rule_id, rule_name, severity, timestamp, title, description,
	event_ids, metadata, acknowledged, acknowledged_at, acknowledged_by`

// Add inserts a. The ID must be set and unique.
func (r *AlertRepository) Add(ctx context.Context, a *types.Alert) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("add alert: id required")
	}
	ids, err := json.Marshal(a.EventIDs)
	if err != nil {
		return fmt.Errorf("encode event ids: %w", err)
	}
	md, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.db.sql.ExecContext(ctx, `
		INSERT INTO alerts (id, rule_id, rule_name, severity, timestamp, title, description,
			event_ids, metadata, acknowledged, acknowledged_at, acknowledged_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RuleID, a.RuleName, a.Severity, a.Timestamp.UTC(), a.Title, a.Description,
		string(ids), string(md), a.Acknowledged, nullTime(a.AcknowledgedAt), a.AcknowledgedBy)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the alert with id or types.ErrNotFound.
func (r *AlertRepository) Get(ctx context.Context, id string) (*types.Alert, error) {
	a, err := scanAlert(r.db.sql.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, types.ErrNotFound)
	}
	return a, err
}

// Recent returns alerts raised at or after since, newest first.
func (r *AlertRepository) Recent(ctx context.Context, since time.Time) ([]*types.Alert, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE timestamp >= ? ORDER BY timestamp DESC, id`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()
	var out []*types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Acknowledge marks the alert as acknowledged by whom at the given time.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	res, err := r.db.sql.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_at = ?, acknowledged_by = ? WHERE id = ?`,
		at.UTC(), by, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func scanAlert(s scanner) (*types.Alert, error) {
	var (
		a     types.Alert
		ids   string
		md    string
		ackAt sql.NullTime
	)
	err := s.Scan(&a.ID, &a.RuleID, &a.RuleName, &a.Severity, &a.Timestamp, &a.Title, &a.Description,
		&ids, &md, &a.Acknowledged, &ackAt, &a.AcknowledgedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &a.EventIDs); err != nil {
		return nil, fmt.Errorf("alert %s event ids: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(md), &a.Metadata); err != nil {
		return nil, fmt.Errorf("alert %s metadata: %w", a.ID, err)
	}
	a.AcknowledgedAt = timePtr(ackAt)
	return &a, nil
}
