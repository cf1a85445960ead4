//go:build !linux

package source

import (
	"context"
	"fmt"
)

// JournalBackend is a stand-in on platforms without systemd; every
// channel is reported unavailable.
type JournalBackend struct{}

// NewJournalBackend returns a backend that exposes no channels.
func NewJournalBackend() *JournalBackend {
	return &JournalBackend{}
}

// Available implements ChannelBackend.
func (b *JournalBackend) Available(string) bool { return false }

// Probe implements ChannelBackend.
func (b *JournalBackend) Probe() error { return nil }

// Subscribe implements ChannelBackend.
func (b *JournalBackend) Subscribe(_ context.Context, channel string) (Subscription, error) {
	return nil, fmt.Errorf("journal %s: %w", channel, ErrUnavailable)
}
