package types

import "time"

// RuleRecord is a stored detection rule. Body holds the declarative YAML.
type RuleRecord struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Severity        string     `json:"severity"`
	Body            string     `json:"body"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int64      `json:"trigger_count"`
}

// Alert is a persisted trigger of a rule.
type Alert struct {
	ID             string        `json:"id"`
	RuleID         int64         `json:"rule_id"`
	RuleName       string        `json:"rule_name"`
	Severity       string        `json:"severity"`
	Timestamp      time.Time     `json:"timestamp"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	EventIDs       []int64       `json:"event_ids"`
	Metadata       AlertMetadata `json:"metadata"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
}

// AlertMetadata summarizes the events behind an alert.
type AlertMetadata struct {
	EventCount     int       `json:"event_count"`
	FirstEventTime time.Time `json:"first_event_time"`
	LastEventTime  time.Time `json:"last_event_time"`
	AffectedHosts  []string  `json:"affected_hosts"`
	AffectedUsers  []string  `json:"affected_users"`
}
