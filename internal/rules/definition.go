// Package rules parses declarative YAML detection rules and compiles them
// into predicates over types.Event.
//
// Two shapes are accepted. A selection rule filters on event attributes and
// may add a regex condition and a sliding-window threshold:
//
//	name: brute-force-logon
//	selection: {process: sshd}
//	condition: {count: 5, timeframe: 60, group_by: user}
//	action: {title: "Brute force: {user} x{count}"}
//
// A detection-map rule matches a log source plus exact detail values:
//
//	name: whoami-exec
//	log_source: {provider: sysmon, event_id: 1}
//	detection: {Image: 'C:\Windows\System32\whoami.exe'}
package rules

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultSeverity applies when a rule leaves severity unset.
const DefaultSeverity = "Medium"

// Definition is the parsed form of a rule body. Unknown fields are ignored.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
	Enabled     *bool  `yaml:"enabled"`

	Selection *Selection `yaml:"selection"`
	Condition *Condition `yaml:"condition"`
	Action    *Action    `yaml:"action"`

	LogSource *LogSource     `yaml:"log_source"`
	Detection map[string]any `yaml:"detection"`

	detectionShape bool
	selectionShape bool
}

// Selection filters on event attributes. Empty fields are not checked.
type Selection struct {
	EventID  *int   `yaml:"event_id"`
	Level    string `yaml:"level"`
	Provider string `yaml:"provider"`
	Process  string `yaml:"process"`
	User     string `yaml:"user"`
	Host     string `yaml:"host"`
}

// Condition refines a selection. Timeframe is in seconds.
type Condition struct {
	Always    bool   `yaml:"always"`
	Pattern   string `yaml:"pattern"`
	Field     string `yaml:"field"`
	Count     int    `yaml:"count"`
	Timeframe int    `yaml:"timeframe"`
	GroupBy   string `yaml:"group_by"`
}

// Action controls the alert raised on a match.
type Action struct {
	Alert       *bool  `yaml:"alert"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// LogSource restricts a detection-map rule to one provider and event code.
type LogSource struct {
	Provider string `yaml:"provider"`
	EventID  any    `yaml:"event_id"`
}

// IsEnabled reports the enabled flag, true when unset.
func (d *Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Parse decodes a YAML rule body.
func Parse(body []byte) (*Definition, error) {
	var top map[string]any
	if err := yaml.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("parse rule: %w", err)
	}
	if len(top) == 0 {
		return nil, errors.New("parse rule: empty body")
	}
	var d Definition
	if err := yaml.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("parse rule: %w", err)
	}
	_, hasSource := top["log_source"]
	_, hasDetection := top["detection"]
	_, hasSelection := top["selection"]
	_, hasCondition := top["condition"]
	d.detectionShape = hasSource || hasDetection
	d.selectionShape = hasSelection || hasCondition
	if d.Severity == "" {
		d.Severity = DefaultSeverity
	}
	return &d, nil
}
