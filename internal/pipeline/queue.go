// Package pipeline moves normalized events from source adapters to storage
// and rule evaluation through a bounded queue.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/logsentinel/logsentinel/internal/metrics"
	"github.com/logsentinel/logsentinel/internal/types"
)

// Queue defaults.
const (
	DefaultCapacity = 10000
	DefaultTimeout  = 5 * time.Second
)

// Queue is a bounded multi-producer, single-consumer event queue.
// Offer blocks for at most Timeout when the queue is full and then drops
// the offered event.
type Queue struct {
	ch       chan *types.Event
	timeout  time.Duration
	metrics  *metrics.Metrics
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewQueue returns a queue holding up to capacity events. Zero values select the defaults.
func NewQueue(capacity int, timeout time.Duration, m *metrics.Metrics) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Queue{ch: make(chan *types.Event, capacity), timeout: timeout, metrics: m}
}

// Offer stamps ev with its ingestion time and enqueues it. It returns false
// when the queue stayed full for the whole timeout or ctx ended first; the
// event is then counted as dropped.
func (q *Queue) Offer(ctx context.Context, ev *types.Event) bool {
	ev.IngestedAt = time.Now()
	select {
	case q.ch <- ev:
		q.accepted(ev)
		return true
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case q.ch <- ev:
		q.accepted(ev)
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	q.dropped.Add(1)
	q.metrics.Dropped(ev.Source)
	return false
}

func (q *Queue) accepted(ev *types.Event) {
	q.enqueued.Add(1)
	q.metrics.Enqueued(ev.Source)
}

// Events is the receive side, read by the Consumer.
func (q *Queue) Events() <-chan *types.Event { return q.ch }

// Dropped returns the number of events dropped so far.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Enqueued returns the number of events accepted so far.
func (q *Queue) Enqueued() uint64 { return q.enqueued.Load() }

// Len returns the number of events waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
