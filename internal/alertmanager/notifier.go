package alertmanager

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/retry"
	"github.com/logsentinel/logsentinel/internal/types"
)

const defaultBuffer = 256

// Notifier forwards alerts to Alertmanager from its own goroutine so the
// ingestion path never waits on the network. Notify is the alert.Service
// subscriber; Run delivers.
type Notifier struct {
	client  *Client
	queue   chan types.Alert
	retry   retry.Policy
	log     *zap.Logger
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewNotifier returns a notifier posting through client. buffer bounds the
// alerts awaiting delivery; extra alerts are dropped.
func NewNotifier(client *Client, buffer int, policy retry.Policy, logger *zap.Logger) *Notifier {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy
	}
	return &Notifier{client: client, queue: make(chan types.Alert, buffer), retry: policy, log: logger}
}

// Notify queues a for delivery without blocking.
func (n *Notifier) Notify(a types.Alert) {
	select {
	case n.queue <- a:
	default:
		n.dropped.Add(1)
		n.log.Warn("alertmanager queue full, alert not forwarded", zap.String("alert_id", a.ID))
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-n.queue:
			n.deliver(ctx, a)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, a types.Alert) {
	payload := []Alert{Convert(a)}
	err := retry.Do(ctx, n.retry, Retryable, func(ctx context.Context) error {
		return n.client.PostAlerts(ctx, payload)
	}, func(err error, wait time.Duration) {
		n.log.Warn("alertmanager post failed, retrying", zap.String("alert_id", a.ID), zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		n.failed.Add(1)
		n.log.Error("alert not forwarded", zap.String("alert_id", a.ID), zap.Error(err))
		return
	}
	n.sent.Add(1)
}

// Sent returns the number of alerts accepted by Alertmanager.
func (n *Notifier) Sent() uint64 { return n.sent.Load() }

// Dropped returns the number of alerts discarded because the queue was full.
func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

// Failed returns the number of alerts given up on after retries.
func (n *Notifier) Failed() uint64 { return n.failed.Load() }

// Convert maps an alert onto the Alertmanager payload.
func Convert(a types.Alert) Alert {
	annotations := map[string]string{
		"summary":     a.Title,
		"description": a.Description,
		"alert_id":    a.ID,
	}
	if len(a.Metadata.AffectedHosts) > 0 {
		annotations["hosts"] = strings.Join(a.Metadata.AffectedHosts, ",")
	}
	if len(a.Metadata.AffectedUsers) > 0 {
		annotations["users"] = strings.Join(a.Metadata.AffectedUsers, ",")
	}
	return Alert{
		Labels: map[string]string{
			"alertname": a.RuleName,
			"rule":      a.RuleName,
			"severity":  strings.ToLower(a.Severity),
			"source":    "logsentinel",
		},
		Annotations: annotations,
		StartsAt:    a.Timestamp,
	}
}
