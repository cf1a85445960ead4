package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsentinel/logsentinel/internal/types"
)

func TestLine_Parsed(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := Line("2024-01-15 14:30:45 [INFO] HOST1 alice svchost.exe Application started", now, "file:incoming")

	assert.Equal(t, "HOST1", ev.Host)
	assert.Equal(t, "alice", ev.User)
	assert.Equal(t, "svchost.exe", ev.Process)
	assert.Equal(t, types.LevelInfo, ev.Level)
	assert.Equal(t, "Application started", ev.Message)
	assert.Equal(t, "LogFile", ev.Provider)
	assert.Equal(t, "file:incoming", ev.Source)

	want := time.Date(2024, 1, 15, 14, 30, 45, 0, time.Local)
	assert.True(t, ev.Timestamp.Equal(want), "timestamp = %v", ev.Timestamp)
}

func TestLine_Levels(t *testing.T) {
	now := time.Now()
	tests := []struct {
		line   string
		expect types.Level
	}{
		{"2024-01-15 14:30:45 [ERROR] h u p boom", types.LevelError},
		{"2024-01-15 14:30:45 [warn] h u p careful", types.LevelWarning},
		{"2024-01-15 14:30:45 [Critical] h u p down", types.LevelCritical},
		{"2024-01-15  14:30:45 [DEBUG] h u p spaced", types.LevelVerbose},
	}
	for _, tt := range tests {
		ev := Line(tt.line, now, "test")
		assert.Equal(t, tt.expect, ev.Level, tt.line)
		assert.Equal(t, "p", ev.Process, tt.line)
	}
}

func TestLine_Malformed(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, line := range []string{
		"just some text",
		"2024-01-15 [INFO] missing time",
		"2024-13-45 14:30:45 [INFO] h u p bad date",
		"2024-01-15 14:30:45 [INFO] h u p",
	} {
		ev := Line(line, now, "test")
		require.NotNil(t, ev, line)
		assert.Equal(t, line, ev.Message)
		assert.Equal(t, "unknown", ev.Process)
		assert.Equal(t, types.LevelInfo, ev.Level)
		assert.Equal(t, now, ev.Timestamp)
		assert.NotEmpty(t, ev.Host)
		assert.NotEmpty(t, ev.User)
	}
}

const sysmonProcessCreate = `<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Sysmon" Guid="{5770385f-c22a-43e0-bf4c-06f5698ffbd9}"/>
    <EventID>1</EventID>
    <Level>4</Level>
    <TimeCreated SystemTime="2024-01-15T14:30:45.123Z"/>
    <Computer>WS01</Computer>
  </System>
  <EventData>
    <Data Name="Image">C:\Windows\System32\cmd.exe</Data>
    <Data Name="ParentImage">C:\Windows\explorer.exe</Data>
    <Data Name="User">CORP\bob</Data>
    <Data Name="CommandLine">cmd.exe /c whoami</Data>
  </EventData>
</Event>`

func TestRecord_SysmonXML(t *testing.T) {
	now := time.Now()
	ev := Record(types.RawRecord{Channel: "SYSLOG_IDENTIFIER=sysmon", Payload: sysmonProcessCreate}, now)

	assert.Equal(t, "Microsoft-Windows-Sysmon", ev.Provider)
	code, ok := ev.CodeValue()
	require.True(t, ok)
	assert.Equal(t, 1, code)
	assert.Equal(t, types.LevelInfo, ev.Level)
	assert.Equal(t, "WS01", ev.Host)
	assert.Equal(t, "Process Create", ev.Action)
	assert.Equal(t, `C:\Windows\System32\cmd.exe`, ev.Object)
	assert.Equal(t, `C:\Windows\System32\cmd.exe`, ev.Process)
	assert.Equal(t, `C:\Windows\explorer.exe`, ev.ParentProcess)
	assert.Equal(t, `CORP\bob`, ev.User)
	assert.Equal(t, "Process Create", ev.Message)
	assert.Equal(t, "cmd.exe /c whoami", ev.Details["CommandLine"])
	assert.Equal(t, "SYSLOG_IDENTIFIER=sysmon", ev.Details["channel"])
	assert.Equal(t, types.SourceChannel, ev.Source)
	assert.True(t, ev.Timestamp.Equal(time.Date(2024, 1, 15, 14, 30, 45, 123000000, time.UTC)))
}

func TestRecord_Structured(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := Record(types.RawRecord{
		Channel:  "sshd.service",
		Provider: "sshd",
		Code:     types.Code(4625),
		Level:    2,
		Host:     "srv1",
		Message:  "Failed password for alice",
		Fields:   map[string]string{"_PID": "812"},
	}, now)

	assert.Equal(t, "sshd", ev.Provider)
	assert.Equal(t, types.LevelError, ev.Level)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, "SYSTEM", ev.User)
	assert.Equal(t, "812", ev.Details["_PID"])
	assert.Equal(t, 4625, ev.Details["event_id"])
	assert.Empty(t, ev.Action)
}

func TestRecord_Defaults(t *testing.T) {
	ev := Record(types.RawRecord{Payload: "<Event><broken"}, time.Now())
	assert.Equal(t, "Unknown", ev.Provider)
	assert.Equal(t, types.LevelInfo, ev.Level)
	assert.NotEmpty(t, ev.Host)
	_, ok := ev.CodeValue()
	assert.False(t, ok)
}

func TestSysmonAction(t *testing.T) {
	assert.Equal(t, "Network Connection", SysmonAction(3))
	assert.Equal(t, "DNS Query", SysmonAction(22))
	assert.Equal(t, "Sysmon Event 255", SysmonAction(255))
}

func TestSysmonObject(t *testing.T) {
	data := map[string]string{
		"DestinationIp":   "10.0.0.1",
		"DestinationPort": "443",
		"TargetFilename":  "/tmp/x",
		"QueryName":       "example.org",
	}
	assert.Equal(t, "10.0.0.1:443", sysmonObject(3, data))
	assert.Equal(t, "/tmp/x", sysmonObject(23, data))
	assert.Equal(t, "example.org", sysmonObject(22, data))
	assert.Equal(t, "/tmp/x", sysmonObject(99, data))
}
