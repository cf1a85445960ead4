package types

import "strings"

// Level represents event severity.
type Level int

const (
	LevelInfo Level = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelVerbose:
		return "VERBOSE"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	*l = ParseLevel(string(b))
	return nil
}

// ParseLevel returns Level from a string (case-insensitive). Unknown values are Info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VERBOSE", "DEBUG", "TRACE":
		return LevelVerbose
	case "WARN", "WARNING":
		return LevelWarning
	case "ERROR", "ERR":
		return LevelError
	case "CRITICAL", "CRIT", "FATAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// IsLevelName reports whether s is a level name or alias known to ParseLevel.
func IsLevelName(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO", "INFORMATION", "VERBOSE", "DEBUG", "TRACE", "WARN", "WARNING", "ERROR", "ERR", "CRITICAL", "CRIT", "FATAL":
		return true
	}
	return false
}

// LevelFromOrdinal maps the structured-log ordinal scale
// (1=Critical, 2=Error, 3=Warning, 4=Info, 5=Verbose) to a Level.
func LevelFromOrdinal(n int) Level {
	switch n {
	case 1:
		return LevelCritical
	case 2:
		return LevelError
	case 3:
		return LevelWarning
	case 5:
		return LevelVerbose
	default:
		return LevelInfo
	}
}
