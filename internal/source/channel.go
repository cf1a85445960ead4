package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/normalize"
	"github.com/logsentinel/logsentinel/internal/retry"
	"github.com/logsentinel/logsentinel/internal/types"
)

// ChannelBackend opens live system-log channels.
type ChannelBackend interface {
	// Available reports whether channel exists. A channel that exists but
	// cannot be read by this process counts as available.
	Available(channel string) bool
	// Subscribe starts reading new records from channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Probe performs a read with no side effects to test access rights.
	Probe() error
}

// Subscription yields records from one channel in arrival order.
type Subscription interface {
	// Next blocks until a record is available or ctx is done.
	Next(ctx context.Context) (types.RawRecord, error)
	Close() error
}

// ChannelSource reads several live channels concurrently, one goroutine
// per channel. Subscribing and reading are retried with exponential
// backoff on permission and transient failures; a channel that keeps
// failing is abandoned while the others continue. Records already seen
// (same channel, sequence and timestamp) are skipped.
type ChannelSource struct {
	Channels   []string
	Backend    ChannelBackend
	Retry      retry.Policy
	DedupLimit int
	SourceID   string
	Logger     *zap.Logger

	counters
	seen    *recentIDs
	running atomic.Bool
	done    atomic.Bool

	statusMu sync.Mutex
	status   map[string]string
}

// ID implements Source.
func (c *ChannelSource) ID() string {
	if c.SourceID != "" {
		return c.SourceID
	}
	return "channel"
}

// Stream implements Source. It returns once every channel has stopped.
func (c *ChannelSource) Stream(ctx context.Context, out Sink) error {
	log := c.logger()
	if c.Backend == nil {
		return errors.New("channel source: no backend")
	}
	if c.Retry == (retry.Policy{}) {
		c.Retry = retry.DefaultPolicy
	}
	c.seen = newRecentIDs(c.DedupLimit)
	c.running.Store(true)
	defer func() {
		c.running.Store(false)
		c.done.Store(true)
	}()

	var wg sync.WaitGroup
	started := 0
	for _, ch := range c.Channels {
		if !c.Backend.Available(ch) {
			log.Warn("channel unavailable, skipping", zap.String("channel", ch))
			c.setStatus(ch, StatusUnavailable)
			continue
		}
		started++
		c.setStatus(ch, StatusStarting)
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			c.watch(ctx, ch, out, log.With(zap.String("channel", ch)))
		}(ch)
	}
	if started == 0 {
		return fmt.Errorf("%s: %w: none of %v", c.ID(), ErrUnavailable, c.Channels)
	}
	log.Info("watching channels", zap.Int("channels", started))
	wg.Wait()
	return nil
}

// watch keeps one channel subscribed. The retry budget is renewed whenever
// a subscription delivered at least one record before failing.
func (c *ChannelSource) watch(ctx context.Context, ch string, out Sink, log *zap.Logger) {
	for {
		var progressed bool
		err := retry.Do(ctx, c.Retry, IsTransient, func(ctx context.Context) error {
			sub, err := c.Backend.Subscribe(ctx, ch)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", ch, err)
			}
			defer sub.Close()
			c.setStatus(ch, StatusRunning)
			return c.read(ctx, ch, sub, out, &progressed)
		}, func(err error, wait time.Duration) {
			c.fail(err)
			log.Warn("channel access failed, retrying", zap.Error(err), zap.Duration("wait", wait))
		})
		switch {
		case ctx.Err() != nil:
			c.setStatus(ch, StatusStopped)
			return
		case err == nil:
			c.setStatus(ch, StatusStopped)
			return
		case IsTransient(err) && progressed:
			c.fail(err)
			log.Info("resubscribing after read failure", zap.Error(err))
			continue
		default:
			c.fail(err)
			c.setStatus(ch, StatusFailed)
			log.Error("channel abandoned", zap.Error(err))
			return
		}
	}
}

func (c *ChannelSource) read(ctx context.Context, ch string, sub Subscription, out Sink, progressed *bool) error {
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", ch, err)
		}
		if rec.Channel == "" {
			rec.Channel = ch
		}
		*progressed = true
		if c.seen.seen(recordKey(ch, rec.Sequence, rec.Timestamp)) {
			continue
		}
		c.deliver(ctx, out, normalize.Record(rec, time.Now()))
	}
}

// HasSufficientPermissions reports whether this process may read channels.
// Only a permission failure of the probe yields false.
func (c *ChannelSource) HasSufficientPermissions() (ok bool) {
	if c.Backend == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger().Warn("permission probe panicked", zap.Any("panic", r))
			ok = true
		}
	}()
	return !errors.Is(c.Backend.Probe(), ErrPermission)
}

// Stats returns a snapshot of counters and per-channel status.
func (c *ChannelSource) Stats() Stats {
	c.statusMu.Lock()
	channels := make(map[string]string, len(c.status))
	active := 0
	for ch, st := range c.status {
		channels[ch] = st
		if st == StatusRunning || st == StatusStarting {
			active++
		}
	}
	c.statusMu.Unlock()

	status := StatusStarting
	switch {
	case c.running.Load() && active > 0:
		status = StatusRunning
	case c.running.Load():
		status = StatusFailed
	case c.done.Load():
		status = StatusStopped
	}
	s := c.snapshot(status)
	s.Channels = channels
	return s
}

// ActiveChannels lists channels currently subscribed, sorted.
func (c *ChannelSource) ActiveChannels() []string {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	var out []string
	for ch, st := range c.status {
		if st == StatusRunning {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

func (c *ChannelSource) setStatus(ch, status string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if c.status == nil {
		c.status = make(map[string]string)
	}
	c.status[ch] = status
}

func (c *ChannelSource) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger.With(zap.String("source", c.ID()))
}
