package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/metrics"
	"github.com/logsentinel/logsentinel/internal/types"
)

// EventStore persists events and assigns their ids.
type EventStore interface {
	Add(ctx context.Context, ev *types.Event) (*types.Event, error)
}

// Evaluator runs the rule set against one persisted event.
type Evaluator interface {
	Evaluate(ctx context.Context, ev *types.Event) (bool, error)
}

// Consumer drains a Queue: each event is persisted, then evaluated.
// Failures are logged and counted; the loop never stops on them.
type Consumer struct {
	Queue     *Queue
	Events    EventStore
	Evaluator Evaluator
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	processed atomic.Uint64
	matched   atomic.Uint64
	failed    atomic.Uint64
}

// Run consumes until ctx is done. An event already taken from the queue
// is processed to completion even if ctx ends meanwhile.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.Queue.Events():
			c.process(work, ev, log)
		}
	}
}

func (c *Consumer) process(ctx context.Context, ev *types.Event, log *zap.Logger) {
	stored, err := c.Events.Add(ctx, ev)
	c.Metrics.Persisted(err)
	if err != nil {
		c.failed.Add(1)
		log.Error("persist event failed", zap.String("source", ev.Source), zap.Error(err))
		return
	}
	defer c.processed.Add(1)
	if c.Evaluator == nil {
		return
	}
	start := time.Now()
	ok, err := c.Evaluator.Evaluate(ctx, stored)
	c.Metrics.Evaluated(time.Since(start), err)
	if err != nil {
		c.failed.Add(1)
		log.Error("evaluate event failed", zap.Int64("event_id", stored.ID), zap.Error(err))
	}
	if ok {
		c.matched.Add(1)
	}
}

// Processed returns the number of events persisted and run through the evaluator.
func (c *Consumer) Processed() uint64 { return c.processed.Load() }

// Matched returns the number of events that triggered at least one rule.
func (c *Consumer) Matched() uint64 { return c.matched.Load() }

// Failed returns the number of persist or evaluate failures.
func (c *Consumer) Failed() uint64 { return c.failed.Load() }
