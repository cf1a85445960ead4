// Package metrics exposes pipeline counters in Prometheus format.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logsentinel"

// Metrics holds the collectors of one pipeline on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	EventsEnqueued  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	EventsPersisted prometheus.Counter
	PersistErrors   prometheus.Counter
	EvaluateErrors  prometheus.Counter
	AlertsRaised    *prometheus.CounterVec
	RulesLoaded     prometheus.Gauge
	EvalDuration    prometheus.Histogram
}

// New creates and registers the pipeline collectors plus Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		EventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enqueued_total",
			Help:      "Events accepted by the ingestion queue",
		}, []string{"source"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the ingestion queue stayed full",
		}, []string{"source"}),
		EventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_persisted_total",
			Help:      "Events written to the event repository",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Events that could not be persisted",
		}),
		EvaluateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluate_errors_total",
			Help:      "Events whose rule evaluation reported an error",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts created by the rule engine",
		}, []string{"rule", "severity"}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_loaded",
			Help:      "Compiled rules in the active rule set",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluate_duration_seconds",
			Help:      "Time spent evaluating one event against the rule set",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	reg.MustRegister(
		m.EventsEnqueued, m.EventsDropped, m.EventsPersisted, m.PersistErrors,
		m.EvaluateErrors, m.AlertsRaised, m.RulesLoaded, m.EvalDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Enqueued counts an event accepted from source.
func (m *Metrics) Enqueued(source string) {
	if m != nil {
		m.EventsEnqueued.WithLabelValues(source).Inc()
	}
}

// Dropped counts an event from source dropped on a full queue.
func (m *Metrics) Dropped(source string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(source).Inc()
	}
}

// Persisted counts a stored event, or a failed store when err is non-nil.
func (m *Metrics) Persisted(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistErrors.Inc()
		return
	}
	m.EventsPersisted.Inc()
}

// Evaluated records one evaluation and its outcome.
func (m *Metrics) Evaluated(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.EvalDuration.Observe(d.Seconds())
	if err != nil {
		m.EvaluateErrors.Inc()
	}
}

// Alert counts an alert raised by rule.
func (m *Metrics) Alert(rule, severity string) {
	if m != nil {
		m.AlertsRaised.WithLabelValues(rule, severity).Inc()
	}
}

// SetRules records the size of the active rule set.
func (m *Metrics) SetRules(n int) {
	if m != nil {
		m.RulesLoaded.Set(float64(n))
	}
}

// RegisterGauge exposes a value computed at scrape time, such as queue depth.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve listens on addr and serves /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// SourceCounters reports cumulative adapter counters at scrape time.
type SourceCounters func() (read, dropped, errs uint64)

// RegisterSource exposes the counters of one source adapter.
func (m *Metrics) RegisterSource(id string, fn SourceCounters) error {
	if m == nil {
		return nil
	}
	labels := prometheus.Labels{"source": id}
	pick := func(i int) func() float64 {
		return func() float64 {
			r, d, e := fn()
			return float64([3]uint64{r, d, e}[i])
		}
	}
	for i, name := range []string{"source_records_read_total", "source_records_dropped_total", "source_errors_total"} {
		err := m.Registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        "Source adapter counter " + name,
			ConstLabels: labels,
		}, pick(i)))
		if err != nil {
			return err
		}
	}
	return nil
}
