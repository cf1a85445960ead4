package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/logsentinel/logsentinel/internal/types"
)

// Kind tells which rule shape a Compiled rule came from.
type Kind int

const (
	KindSelection Kind = iota
	KindDetection
)

func (k Kind) String() string {
	if k == KindDetection {
		return "detection"
	}
	return "selection"
}

// Group-by keys accepted by a threshold.
const (
	GroupByUser    = "user"
	GroupByHost    = "host"
	GroupByProcess = "process"
)

// Threshold turns a rule into a sliding-window count over stored events.
type Threshold struct {
	Count     int
	Timeframe time.Duration
	GroupBy   string // empty, or one of the GroupBy constants
}

// Key returns the group an event belongs to.
func (t *Threshold) Key(ev *types.Event) string {
	switch t.GroupBy {
	case GroupByHost:
		return ev.Host
	case GroupByProcess:
		return ev.Process
	default:
		return ev.User
	}
}

// Compiled is an immutable, ready-to-evaluate rule.
type Compiled struct {
	Definition *Definition
	Kind       Kind
	Threshold  *Threshold // nil for immediate rules
	Warnings   []string

	match func(*types.Event) bool
}

// Name returns the rule name.
func (c *Compiled) Name() string { return c.Definition.Name }

// Match reports whether ev satisfies the rule's predicate.
func (c *Compiled) Match(ev *types.Event) bool { return c.match(ev) }

// Alerts reports whether a match raises an alert.
func (c *Compiled) Alerts() bool {
	a := c.Definition.Action
	return a == nil || a.Alert == nil || *a.Alert
}

// Compile builds the predicate for d. Detection-map keys take precedence
// when a body mixes both shapes.
func Compile(d *Definition) (*Compiled, error) {
	if d == nil {
		return nil, fmt.Errorf("compile rule: nil definition")
	}
	c := &Compiled{Definition: d}
	if d.detectionShape || d.LogSource != nil || d.Detection != nil {
		c.Kind = KindDetection
		if d.selectionShape || d.Selection != nil || d.Condition != nil {
			c.Warnings = append(c.Warnings, "rule mixes selection and detection keys; selection and condition are ignored")
		}
		m, err := compileDetection(d)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", d.Name, err)
		}
		c.match = m
		return c, nil
	}

	c.Kind = KindSelection
	m, err := compileSelection(d.Selection, d.Condition)
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", d.Name, err)
	}
	c.match = m
	if cond := d.Condition; cond != nil && cond.Count > 0 && cond.Timeframe > 0 {
		c.Threshold = &Threshold{
			Count:     cond.Count,
			Timeframe: time.Duration(cond.Timeframe) * time.Second,
			GroupBy:   normalizeGroupBy(cond.GroupBy),
		}
		if g := strings.ToLower(strings.TrimSpace(cond.GroupBy)); g != "" && g != c.Threshold.GroupBy {
			c.Warnings = append(c.Warnings, fmt.Sprintf("unknown group_by %q, grouping by user", cond.GroupBy))
		}
	}
	return c, nil
}

func normalizeGroupBy(s string) string {
	switch g := strings.ToLower(strings.TrimSpace(s)); g {
	case "":
		return ""
	case GroupByHost, GroupByProcess:
		return g
	default:
		return GroupByUser
	}
}

func containsFold(s, lowerSub string) bool {
	return strings.Contains(strings.ToLower(s), lowerSub)
}

func compileSelection(sel *Selection, cond *Condition) (func(*types.Event) bool, error) {
	var checks []func(*types.Event) bool
	if sel != nil {
		if sel.EventID != nil {
			want := *sel.EventID
			checks = append(checks, func(ev *types.Event) bool {
				got, ok := ev.CodeValue()
				return ok && got == want
			})
		}
		if sel.Level != "" {
			want := sel.Level
			checks = append(checks, func(ev *types.Event) bool {
				return strings.EqualFold(ev.Level.String(), want) || (types.IsLevelName(want) && ev.Level == types.ParseLevel(want))
			})
		}
		for _, f := range []struct {
			want string
			get  func(*types.Event) string
		}{
			{sel.Provider, func(ev *types.Event) string { return ev.Provider }},
			{sel.Process, func(ev *types.Event) string { return ev.Process }},
			{sel.User, func(ev *types.Event) string { return ev.User }},
			{sel.Host, func(ev *types.Event) string { return ev.Host }},
		} {
			if f.want == "" {
				continue
			}
			want, get := strings.ToLower(f.want), f.get
			checks = append(checks, func(ev *types.Event) bool { return containsFold(get(ev), want) })
		}
	}

	var pattern *regexp.Regexp
	var field func(*types.Event) string
	always := cond != nil && cond.Always
	if cond != nil && !always && cond.Pattern != "" {
		re, err := regexp.Compile("(?i)" + cond.Pattern)
		if err != nil {
			return nil, fmt.Errorf("condition pattern: %w", err)
		}
		pattern = re
		field, err = patternField(cond.Field)
		if err != nil {
			return nil, err
		}
	}

	return func(ev *types.Event) bool {
		for _, check := range checks {
			if !check(ev) {
				return false
			}
		}
		if pattern != nil {
			return pattern.MatchString(field(ev))
		}
		return true
	}, nil
}

func patternField(name string) (func(*types.Event) string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "details_json", "details":
		return (*types.Event).DetailsJSON, nil
	case "action":
		return func(ev *types.Event) string { return ev.Action }, nil
	case "process":
		return func(ev *types.Event) string { return ev.Process }, nil
	case "message":
		return func(ev *types.Event) string { return ev.Message }, nil
	default:
		return nil, fmt.Errorf("condition field %q: want details_json, action, process or message", name)
	}
}

type detectionPair struct{ key, value string }

func compileDetection(d *Definition) (func(*types.Event) bool, error) {
	var provider string
	var code *int
	if ls := d.LogSource; ls != nil {
		provider = strings.ToLower(strings.TrimSpace(ls.Provider))
		if ls.EventID != nil {
			s := strings.TrimSpace(fmt.Sprint(ls.EventID))
			if n, err := strconv.Atoi(s); err == nil {
				code = &n
			} else if s != "" {
				return nil, fmt.Errorf("log_source event_id %q is not a number", s)
			}
		}
	}

	pairs := make([]detectionPair, 0, len(d.Detection))
	for k, v := range d.Detection {
		if k == "" || v == nil {
			continue
		}
		val := fmt.Sprint(v)
		if val == "" {
			continue
		}
		pairs = append(pairs, detectionPair{key: k, value: val})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	return func(ev *types.Event) bool {
		if provider != "" && !containsFold(ev.Provider, provider) {
			return false
		}
		if code != nil {
			if got, ok := ev.CodeValue(); !ok || got != *code {
				return false
			}
		}
		for _, p := range pairs {
			actual, ok := ev.Details[p.key]
			if !ok || actual == nil {
				return false
			}
			if !strings.EqualFold(fmt.Sprint(actual), p.value) {
				return false
			}
		}
		return true
	}, nil
}
