package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/logsentinel/logsentinel/internal/types"
)

// Source produces normalized Events and hands them to a Sink.
// Implementations: rotating-file directory tail, live journal channels.
type Source interface {
	// ID returns a stable identifier for this source (e.g. "file:/var/log/incoming").
	ID() string
	// Stream delivers events to out until ctx is done or the source cannot continue.
	// A nil return after ctx is done is a normal shutdown.
	Stream(ctx context.Context, out Sink) error
}

// Sink accepts events from a Source. Offer returns false when the event was dropped.
type Sink interface {
	Offer(ctx context.Context, ev *types.Event) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev *types.Event) bool

// Offer implements Sink.
func (f SinkFunc) Offer(ctx context.Context, ev *types.Event) bool { return f(ctx, ev) }

var (
	// ErrUnavailable marks a channel that does not exist on this host.
	ErrUnavailable = errors.New("channel unavailable")
	// ErrPermission marks access denied by the operating system.
	ErrPermission = errors.New("permission denied")
	// ErrTransient marks a failure expected to clear on its own.
	ErrTransient = errors.New("transient source failure")
)

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{e.err, ErrTransient}
}

// Transient marks err as retryable. errors.Is(Transient(err), ErrTransient) holds
// and the original error stays reachable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPermission) || errors.Is(err, ErrTransient)
}

// Stats is a point-in-time snapshot of an adapter's counters.
type Stats struct {
	Read      uint64            `json:"read"`
	Dropped   uint64            `json:"dropped"`
	Errors    uint64            `json:"errors"`
	Status    string            `json:"status"`
	Channels  map[string]string `json:"channels,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// Adapter and channel states reported in Stats.
const (
	StatusStarting    = "starting"
	StatusRunning     = "running"
	StatusStopped     = "stopped"
	StatusFailed      = "failed"
	StatusUnavailable = "unavailable"
)

type counters struct {
	read    atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

func (c *counters) fail(err error) {
	c.errs.Add(1)
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *counters) deliver(ctx context.Context, out Sink, ev *types.Event) {
	c.read.Add(1)
	if !out.Offer(ctx, ev) {
		c.dropped.Add(1)
	}
}

func (c *counters) snapshot(status string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Read:      c.read.Load(),
		Dropped:   c.dropped.Load(),
		Errors:    c.errs.Load(),
		Status:    status,
		LastError: c.lastErr,
	}
}
