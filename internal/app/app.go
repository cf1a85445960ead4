// Package app wires storage, rules, the engine, the ingestion pipeline and
// the configured sources into one runnable process.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/alert"
	"github.com/logsentinel/logsentinel/internal/alertmanager"
	"github.com/logsentinel/logsentinel/internal/config"
	"github.com/logsentinel/logsentinel/internal/duckdb"
	"github.com/logsentinel/logsentinel/internal/engine"
	"github.com/logsentinel/logsentinel/internal/metrics"
	"github.com/logsentinel/logsentinel/internal/pipeline"
	"github.com/logsentinel/logsentinel/internal/retry"
	"github.com/logsentinel/logsentinel/internal/rules"
	"github.com/logsentinel/logsentinel/internal/source"
	"github.com/logsentinel/logsentinel/internal/store"
	"github.com/logsentinel/logsentinel/internal/types"
)

// Source types accepted in configuration.
const (
	SourceTypeFile    = "file"
	SourceTypeJournal = "journal"
)

type eventRepository interface {
	pipeline.EventStore
	engine.EventReader
	Count(ctx context.Context) (int64, error)
}

type ruleRepository interface {
	engine.RuleRepository
	Upsert(ctx context.Context, r *types.RuleRecord) error
}

type statsSource interface {
	source.Source
	Stats() source.Stats
}

// App is an assembled LogSentinel process.
type App struct {
	cfg *config.Config
	log *zap.Logger

	Metrics  *metrics.Metrics
	Events   eventRepository
	Rules    ruleRepository
	Alerts   *alert.Service
	Engine   *engine.Engine
	Queue    *pipeline.Queue
	Consumer *pipeline.Consumer
	Sources  []statsSource

	notifier *alertmanager.Notifier
	db       *duckdb.DB
	raised   atomic.Uint64
}

// New builds the process described by cfg. Rules found in cfg.RulesDir are
// seeded into the rule repository before the engine loads them; rule files
// that fail to parse are logged and skipped.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, log: logger, Metrics: metrics.New()}

	var alerts alert.Repository
	if cfg.DuckDBPath != "" {
		db, err := duckdb.Open(cfg.DuckDBPath)
		if err != nil {
			return nil, err
		}
		a.db = db
		st := duckdb.NewStore(db)
		a.Events, a.Rules, alerts = st.Events(), st.Rules(), st.Alerts()
		logger.Info("using duckdb storage", zap.String("path", cfg.DuckDBPath))
	} else {
		st := store.New()
		a.Events, a.Rules, alerts = st.Events(), st.Rules(), st.Alerts()
		logger.Info("using in-memory storage")
	}

	if err := a.seedRules(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Alerts = alert.NewService(alerts, logger.Named("alert"))
	a.Alerts.Subscribe(alert.LogSubscriber(logger.Named("alert")))
	a.Alerts.Subscribe(func(types.Alert) { a.raised.Add(1) })
	if cfg.AlertmanagerURL != "" {
		a.notifier = alertmanager.NewNotifier(alertmanager.NewClient(cfg.AlertmanagerURL), 0, a.retryPolicy(), logger.Named("alertmanager"))
		a.Alerts.Subscribe(a.notifier.Notify)
	}

	a.Engine = engine.New(a.Events, a.Rules, a.Alerts,
		engine.WithLogger(logger.Named("engine")),
		engine.WithMetrics(a.Metrics))
	if _, err := a.Engine.Reload(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Queue = pipeline.NewQueue(cfg.Pipeline.QueueCapacity, cfg.Pipeline.EnqueueTimeout, a.Metrics)
	a.Consumer = &pipeline.Consumer{
		Queue:     a.Queue,
		Events:    a.Events,
		Evaluator: a.Engine,
		Metrics:   a.Metrics,
		Logger:    logger.Named("consumer"),
	}
	if err := a.Metrics.RegisterGauge("queue_depth", "Events waiting in the ingestion queue", func() float64 {
		return float64(a.Queue.Len())
	}); err != nil {
		a.Close()
		return nil, fmt.Errorf("register queue gauge: %w", err)
	}

	for _, spec := range cfg.Sources {
		src, err := a.buildSource(spec)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.Metrics.RegisterSource(src.ID(), func() (uint64, uint64, uint64) {
			s := src.Stats()
			return s.Read, s.Dropped, s.Errors
		}); err != nil {
			a.Close()
			return nil, fmt.Errorf("register source %s metrics: %w", src.ID(), err)
		}
		a.Sources = append(a.Sources, src)
	}
	return a, nil
}

func (a *App) seedRules(ctx context.Context) error {
	if a.cfg.RulesDir == "" {
		return nil
	}
	recs, err := rules.LoadDir(a.cfg.RulesDir)
	if err != nil {
		a.log.Warn("rule files skipped", zap.String("dir", a.cfg.RulesDir), zap.Error(err))
	}
	for _, rec := range recs {
		if err := a.Rules.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("seed rule %s: %w", rec.Name, err)
		}
	}
	a.log.Info("rules seeded", zap.String("dir", a.cfg.RulesDir), zap.Int("count", len(recs)))
	return nil
}

func (a *App) retryPolicy() retry.Policy {
	return retry.Policy{Base: a.cfg.Retry.Base, MaxAttempts: a.cfg.Retry.MaxAttempts}
}

func (a *App) buildSource(spec config.SourceSpec) (statsSource, error) {
	logger := a.log.Named("source")
	switch spec.Type {
	case SourceTypeFile:
		if spec.Dir == "" {
			return nil, fmt.Errorf("source %q: dir required", spec.ID)
		}
		if spec.Pattern != "" {
			if _, err := filepath.Match(spec.Pattern, ""); err != nil {
				return nil, fmt.Errorf("source %q: pattern %q: %w", spec.ID, spec.Pattern, err)
			}
		}
		return &source.FileSource{
			Dir:          spec.Dir,
			Pattern:      spec.Pattern,
			ReadExisting: spec.ReadExisting,
			SourceID:     spec.ID,
			Logger:       logger,
		}, nil
	case SourceTypeJournal:
		if len(spec.Channels) == 0 {
			return nil, fmt.Errorf("source %q: channels required", spec.ID)
		}
		cs := &source.ChannelSource{
			Channels:   spec.Channels,
			Backend:    source.NewJournalBackend(),
			Retry:      a.retryPolicy(),
			DedupLimit: spec.DedupLimit,
			SourceID:   spec.ID,
			Logger:     logger,
		}
		if !cs.HasSufficientPermissions() {
			a.log.Warn("insufficient permissions to read the journal; add the user to systemd-journal or adm",
				zap.String("source", cs.ID()))
		}
		return cs, nil
	default:
		return nil, fmt.Errorf("source %q: unknown type %q", spec.ID, spec.Type)
	}
}

// Close releases storage.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// SourceSummary reports one adapter at shutdown.
type SourceSummary struct {
	ID    string
	Stats source.Stats
}

// Summary reports what a run did.
type Summary struct {
	EventsRead    uint64
	EventsDropped uint64
	Processed     uint64
	Failed        uint64
	Stored        int64
	Alerts        uint64
	Sources       []SourceSummary
}

// Summary collects counters from the queue, consumer, sources and storage.
func (a *App) Summary(ctx context.Context) Summary {
	s := Summary{
		EventsDropped: a.Queue.Dropped(),
		Processed:     a.Consumer.Processed(),
		Failed:        a.Consumer.Failed(),
		Alerts:        a.raised.Load(),
	}
	for _, src := range a.Sources {
		st := src.Stats()
		s.EventsRead += st.Read
		s.Sources = append(s.Sources, SourceSummary{ID: src.ID(), Stats: st})
	}
	if n, err := a.Events.Count(ctx); err == nil {
		s.Stored = n
	} else {
		a.log.Warn("count stored events", zap.Error(err))
	}
	return s
}
