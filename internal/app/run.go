package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/source"
)

// Run serves the consumer, every source and the optional metrics endpoint
// and Alertmanager notifier under one supervisor until ctx is cancelled.
// Crashed services are restarted with backoff; a source that has finished
// or has nothing to read is not.
func (a *App) Run(ctx context.Context) error {
	sup := suture.New("logsentinel", suture.Spec{
		EventHook: zapEventHook(a.log.Named("supervisor")),
		Timeout:   10 * time.Second,
	})
	sup.Add(&service{name: "consumer", run: a.Consumer.Run})
	for _, src := range a.Sources {
		sup.Add(&sourceService{src: src, sink: a.Queue, log: a.log})
	}
	if a.notifier != nil {
		sup.Add(&service{name: "alertmanager-notifier", run: a.notifier.Run})
	}
	if addr := a.cfg.MetricsAddr; addr != "" {
		sup.Add(&service{name: "metrics", run: func(ctx context.Context) error {
			a.log.Info("serving metrics", zap.String("addr", addr))
			return a.Metrics.Serve(ctx, addr)
		}})
	}

	a.log.Info("logsentinel started",
		zap.Int("sources", len(a.Sources)),
		zap.Int("rules", len(a.Engine.Rules())))
	err := sup.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if report, rerr := sup.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, u := range report {
			a.log.Warn("service did not stop in time", zap.String("service", u.Name))
		}
	}
	return err
}

type service struct {
	name string
	run  func(ctx context.Context) error
}

func (s *service) Serve(ctx context.Context) error { return s.run(ctx) }
func (s *service) String() string                  { return s.name }

type sourceService struct {
	src  source.Source
	sink source.Sink
	log  *zap.Logger
}

func (s *sourceService) String() string { return "source:" + s.src.ID() }

func (s *sourceService) Serve(ctx context.Context) error {
	err := s.src.Stream(ctx, s.sink)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil:
		s.log.Info("source finished", zap.String("source", s.src.ID()))
		return suture.ErrDoNotRestart
	case errors.Is(err, source.ErrUnavailable):
		s.log.Warn("source unavailable", zap.String("source", s.src.ID()), zap.Error(err))
		return suture.ErrDoNotRestart
	default:
		return fmt.Errorf("source %s: %w", s.src.ID(), err)
	}
}

func zapEventHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := []zap.Field{zap.Any("details", e.Map())}
		switch e.(type) {
		case suture.EventServicePanic, suture.EventServiceTerminate:
			log.Error(e.String(), fields...)
		case suture.EventBackoff, suture.EventStopTimeout:
			log.Warn(e.String(), fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}

// WriteSummary prints s in the plain layout used at shutdown.
func WriteSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n--- Summary ---")
	fmt.Fprintf(w, "Events read: %d, dropped: %d, processed: %d, failed: %d, stored: %d\n",
		s.EventsRead, s.EventsDropped, s.Processed, s.Failed, s.Stored)
	fmt.Fprintf(w, "Alerts raised: %d\n", s.Alerts)
	for _, src := range s.Sources {
		fmt.Fprintf(w, "  %s %s read=%d dropped=%d errors=%d", src.ID, src.Stats.Status, src.Stats.Read, src.Stats.Dropped, src.Stats.Errors)
		if src.Stats.LastError != "" {
			fmt.Fprintf(w, " last_error=%q", src.Stats.LastError)
		}
		fmt.Fprintln(w)
	}
}
