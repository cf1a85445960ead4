package testutil

import "time"

// RuleDataset pairs rule bodies with log lines and the alerts they must raise.
type RuleDataset struct {
	Name       string            // test name
	Rules      map[string]string // file name -> YAML body
	Lines      []string          // raw log lines
	WantAlerts int               // alerts expected after all lines are processed
	WantTitle  string            // title of the first alert, if any
}

// BruteForceRule alerts when one user fails to log on count times within a minute.
const BruteForceRule = `name: brute-force-logon
description: Repeated failed logons for {user}
severity: High
enabled: true
selection:
  process: sshd
condition:
  count: 5
  timeframe: 60
  group_by: user
action:
  alert: true
  title: "Brute force: {user} x{count}"
  description: "{count} failed logons for {user} on {host}"
`

// StartupRule alerts on every application start line.
const StartupRule = `name: app-start
description: Application started
severity: Low
enabled: true
selection:
  level: INFO
condition:
  pattern: "started"
  field: message
`

// Datasets returns text-log scenarios for end-to-end rule tests. Timestamps are relative to now.
func Datasets(now time.Time) []RuleDataset {
	start := now.Add(-30 * time.Second)
	return []RuleDataset{
		{
			Name:       "BruteForce",
			Rules:      map[string]string{"brute.yaml": BruteForceRule},
			Lines:      FailedLogons(start, "HOST1", "alice", 5),
			WantAlerts: 1,
			WantTitle:  "Brute force: alice x5",
		},
		{
			Name:       "BelowThreshold",
			Rules:      map[string]string{"brute.yaml": BruteForceRule},
			Lines:      FailedLogons(start, "HOST1", "bob", 4),
			WantAlerts: 0,
		},
		{
			Name:  "Startup",
			Rules: map[string]string{"start.yaml": StartupRule},
			Lines: []string{
				SecurityLine(start, "INFO", "HOST1", "alice", "svchost.exe", "Application started"),
				SecurityLine(start, "INFO", "HOST1", "alice", "svchost.exe", "Heartbeat"),
			},
			WantAlerts: 1,
			WantTitle:  "Alert: app-start",
		},
	}
}
