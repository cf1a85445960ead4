package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/logsentinel/logsentinel/internal/alert"
	"github.com/logsentinel/logsentinel/internal/engine"
	"github.com/logsentinel/logsentinel/internal/pipeline"
	"github.com/logsentinel/logsentinel/internal/rules"
	"github.com/logsentinel/logsentinel/internal/source"
	"github.com/logsentinel/logsentinel/internal/store"
	"github.com/logsentinel/logsentinel/internal/types"
)

// harness is the queue -> consumer -> engine -> alert chain over an in-memory store.
type harness struct {
	st       *store.Store
	alerts   *alert.Service
	engine   *engine.Engine
	queue    *pipeline.Queue
	consumer *pipeline.Consumer
}

func newHarness(t *testing.T, bodies ...string) *harness {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	h := &harness{st: store.New()}
	for i, body := range bodies {
		rec, err := rules.Record([]byte(body), fmt.Sprintf("rule-%d", i))
		require.NoError(t, err)
		require.NoError(t, h.st.Rules().Upsert(ctx, rec))
	}
	h.alerts = alert.NewService(h.st.Alerts(), log)
	h.engine = engine.New(h.st.Events(), h.st.Rules(), h.alerts, engine.WithLogger(log))
	_, err := h.engine.Reload(ctx)
	require.NoError(t, err)
	h.queue = pipeline.NewQueue(100, time.Second, nil)
	h.consumer = &pipeline.Consumer{Queue: h.queue, Events: h.st.Events(), Evaluator: h.engine, Logger: log}
	return h
}

// run starts the consumer and src until the test ends.
func (h *harness) run(t *testing.T, src source.Source) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = h.consumer.Run(ctx) }()
	go func() { defer wg.Done(); _ = src.Stream(ctx, h.queue) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (h *harness) waitProcessed(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.consumer.Processed() >= n }, 10*time.Second, 10*time.Millisecond,
		"processed %d of %d", h.consumer.Processed(), n)
}

func (h *harness) recentAlerts(t *testing.T) []*types.Alert {
	t.Helper()
	out, err := h.alerts.Recent(context.Background(), time.Time{})
	require.NoError(t, err)
	return out
}

// replayBackend serves a fixed list of records per channel, then blocks.
type replayBackend struct {
	records map[string][]types.RawRecord
}

func (b *replayBackend) Available(ch string) bool {
	_, ok := b.records[ch]
	return ok
}

func (b *replayBackend) Probe() error { return nil }

func (b *replayBackend) Subscribe(_ context.Context, ch string) (source.Subscription, error) {
	return &replaySub{recs: b.records[ch]}, nil
}

type replaySub struct {
	recs []types.RawRecord
	i    int
}

func (s *replaySub) Next(ctx context.Context) (types.RawRecord, error) {
	if s.i < len(s.recs) {
		r := s.recs[s.i]
		s.i++
		return r, nil
	}
	<-ctx.Done()
	return types.RawRecord{}, ctx.Err()
}

func (s *replaySub) Close() error { return nil }
