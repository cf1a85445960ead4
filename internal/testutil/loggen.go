package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LineLayout is the timestamp layout of generated text log lines.
const LineLayout = "2006-01-02 15:04:05"

// WriteLogLines writes lines to a file (one per line), replacing its content. Creates parent dirs.
func WriteLogLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeLines(f, lines)
}

// AppendLogLines appends lines to a file, creating it if needed.
func AppendLogLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeLines(f, lines)
}

func writeLines(f *os.File, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}

// SecurityLine formats one line in the "ts [LEVEL] host user process message" layout.
func SecurityLine(ts time.Time, level, host, user, process, message string) string {
	return fmt.Sprintf("%s [%s] %s %s %s %s", ts.Format(LineLayout), level, host, user, process, message)
}

// FailedLogons returns n failed-logon lines for user on host, one second apart starting at start.
func FailedLogons(start time.Time, host, user string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = SecurityLine(start.Add(time.Duration(i)*time.Second), "WARNING", host, user, "sshd", "Failed password for "+user)
	}
	return out
}

// SysmonEventXML renders a Sysmon-style <Event> document with the given EventData fields.
func SysmonEventXML(eventID int, computer string, data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event"><System>`)
	b.WriteString(`<Provider Name="Microsoft-Windows-Sysmon"/>`)
	fmt.Fprintf(&b, "<EventID>%d</EventID><Level>4</Level><Computer>%s</Computer></System><EventData>", eventID, computer)
	for _, k := range keys {
		fmt.Fprintf(&b, `<Data Name="%s">%s</Data>`, k, data[k])
	}
	b.WriteString("</EventData></Event>")
	return b.String()
}
