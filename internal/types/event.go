package types

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a lookup has no result.
var ErrNotFound = errors.New("not found")

// Source tags identify which adapter produced an Event.
const (
	SourceFile    = "file"
	SourceChannel = "channel"
)

// Event is the canonical record after normalization.
// All adapters produce Events so persistence and rule evaluation are source-agnostic.
// Timestamp is asserted by the origin; IngestedAt by the pipeline.
type Event struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Host          string         `json:"host"`
	User          string         `json:"user"`
	Code          *int           `json:"code,omitempty"`
	Provider      string         `json:"provider"`
	Level         Level          `json:"level"`
	Process       string         `json:"process"`
	ParentProcess string         `json:"parent_process,omitempty"`
	Action        string         `json:"action,omitempty"`
	Object        string         `json:"object,omitempty"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	Raw           string         `json:"raw,omitempty"`
	IngestedAt    time.Time      `json:"ingested_at"`
	Source        string         `json:"source"`
}

// CodeValue returns the numeric event code and whether one is set.
func (e *Event) CodeValue() (int, bool) {
	if e.Code == nil {
		return 0, false
	}
	return *e.Code, true
}

// DetailsJSON returns Details serialized as a JSON object ("{}" when empty).
func (e *Event) DetailsJSON() string {
	if len(e.Details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Code is a helper for building an optional event code.
func Code(n int) *int { return &n }

// RawRecord is one structured record read from a live log channel,
// before normalization.
type RawRecord struct {
	Channel   string
	Sequence  uint64
	Timestamp time.Time
	Provider  string
	Code      *int
	// Level uses the ordinal scale of LevelFromOrdinal; 0 means unset.
	Level   int
	Host    string
	User    string
	Process string
	Message string
	Fields  map[string]string
	Payload string
}
