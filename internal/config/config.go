package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when a value is left unset.
const (
	DefaultQueueCapacity  = 10000
	DefaultEnqueueTimeout = 5 * time.Second
	DefaultRetryBase      = 2 * time.Second
	DefaultRetryAttempts  = 5
	DefaultDedupLimit     = 10000
	DefaultFilePattern    = "*.log"
)

// Config is the root configuration for logsentinel.
type Config struct {
	DuckDBPath      string       `yaml:"duckdb_path"`      // optional; events, rules and alerts in DuckDB. Empty keeps everything in memory.
	RulesDir        string       `yaml:"rules_dir"`        // optional; *.yaml rule bodies seeded into the rule repository at start
	AlertmanagerURL string       `yaml:"alertmanager_url"` // optional; forward alerts to Alertmanager
	MetricsAddr     string       `yaml:"metrics_addr"`     // optional; e.g. ":9108"
	Log             LogSpec      `yaml:"log"`
	Pipeline        PipelineSpec `yaml:"pipeline"`
	Retry           RetrySpec    `yaml:"retry"`
	Sources         []SourceSpec `yaml:"sources"`
}

// LogSpec configures the process logger.
type LogSpec struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// PipelineSpec configures the bounded ingestion queue.
type PipelineSpec struct {
	QueueCapacity  int           `yaml:"queue_capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
}

// RetrySpec configures backoff for live-channel subscriptions.
type RetrySpec struct {
	Base        time.Duration `yaml:"base"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SourceSpec describes one source adapter.
type SourceSpec struct {
	ID           string   `yaml:"id"`
	Type         string   `yaml:"type"`          // "file" or "journal"
	Dir          string   `yaml:"dir"`           // for type=file
	Pattern      string   `yaml:"pattern"`       // for type=file; glob, default *.log
	ReadExisting bool     `yaml:"read_existing"` // for type=file; import files already present at start
	Channels     []string `yaml:"channels"`      // for type=journal; unit names or raw journal matches
	DedupLimit   int      `yaml:"dedup_limit"`   // for type=journal
}

// Load reads config from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.QueueCapacity <= 0 {
		c.Pipeline.QueueCapacity = DefaultQueueCapacity
	}
	if c.Pipeline.EnqueueTimeout <= 0 {
		c.Pipeline.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if c.Retry.Base <= 0 {
		c.Retry.Base = DefaultRetryBase
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Type == "file" && s.Pattern == "" {
			s.Pattern = DefaultFilePattern
		}
		if s.Type == "journal" && s.DedupLimit <= 0 {
			s.DedupLimit = DefaultDedupLimit
		}
	}
}
