// Package normalize maps raw source payloads onto types.Event.
// Functions here never fail: input that does not fit a known shape
// still yields an Event carrying the raw text.
package normalize

import (
	"os"
	"os/user"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/logsentinel/logsentinel/internal/types"
)

const (
	lineLayout   = "2006-01-02 15:04:05"
	lineProvider = "LogFile"
)

// timestamp, [level], host, user, process, message
var lineRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2})\s+\[(\w+)\]\s+(\S+)\s+(\S+)\s+(\S+)\s+(.+)$`)

// Line parses one text log line of the form
//
//	YYYY-MM-DD HH:MM:SS [LEVEL] host user process message
//
// Lines that do not match become an Info event whose message is the whole
// line, stamped with now and attributed to the local host and user.
func Line(line string, now time.Time, source string) *types.Event {
	line = strings.TrimRight(line, "\r\n")
	if ev, ok := parseLine(line); ok {
		ev.Source = source
		return ev
	}
	return &types.Event{
		Timestamp: now,
		Host:      localHost(),
		User:      localUser(),
		Provider:  lineProvider,
		Level:     types.LevelInfo,
		Process:   "unknown",
		Message:   line,
		Details:   map[string]any{"raw_line": line},
		Raw:       line,
		Source:    source,
	}
}

func parseLine(line string) (*types.Event, bool) {
	m := lineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}
	// collapse runs of whitespace between date and time
	ts, err := time.ParseInLocation(lineLayout, strings.Join(strings.Fields(m[1]), " "), time.Local)
	if err != nil {
		return nil, false
	}
	return &types.Event{
		Timestamp: ts,
		Level:     types.ParseLevel(m[2]),
		Host:      m[3],
		User:      m[4],
		Process:   m[5],
		Provider:  lineProvider,
		Message:   m[6],
		Details:   map[string]any{"raw_line": line},
		Raw:       line,
	}, true
}

var (
	localHost = sync.OnceValue(func() string {
		h, err := os.Hostname()
		if err != nil || h == "" {
			return "unknown"
		}
		return h
	})
	localUser = sync.OnceValue(func() string {
		u, err := user.Current()
		if err != nil || u.Username == "" {
			return "unknown"
		}
		return u.Username
	})
)
