package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/logsentinel/logsentinel/internal/store"
	"github.com/logsentinel/logsentinel/internal/types"
)

type failingRepo struct{ Repository }

func (failingRepo) Add(context.Context, *types.Alert) error { return errors.New("disk full") }

func TestCreateAlert(t *testing.T) {
	ctx := context.Background()
	repo := store.New().Alerts()
	svc := NewService(repo, zaptest.NewLogger(t))
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return fixed }

	var got []types.Alert
	svc.Subscribe(func(a types.Alert) { got = append(got, a) })

	rule := &types.RuleRecord{ID: 7, Name: "brute", Severity: "High"}
	events := []*types.Event{
		{ID: 3, Host: "web1", User: "alice", Timestamp: fixed.Add(-10 * time.Second)},
		{ID: 1, Host: "web2", User: "alice", Timestamp: fixed.Add(-50 * time.Second)},
		{ID: 2, Host: "web1", User: "", Timestamp: fixed.Add(-30 * time.Second)},
	}
	a, err := svc.CreateAlert(ctx, rule, events, "title", "desc")
	require.NoError(t, err)

	_, err = uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), a.RuleID)
	assert.Equal(t, "brute", a.RuleName)
	assert.Equal(t, "High", a.Severity)
	assert.Equal(t, fixed, a.Timestamp)
	assert.Equal(t, []int64{3, 1, 2}, a.EventIDs)
	assert.Equal(t, 3, a.Metadata.EventCount)
	assert.Equal(t, fixed.Add(-50*time.Second), a.Metadata.FirstEventTime)
	assert.Equal(t, fixed.Add(-10*time.Second), a.Metadata.LastEventTime)
	assert.Equal(t, []string{"web1", "web2"}, a.Metadata.AffectedHosts)
	assert.Equal(t, []string{"alice"}, a.Metadata.AffectedUsers)

	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	stored, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "title", stored.Title)
}

func TestCreateAlert_PersistFailureSkipsSubscribers(t *testing.T) {
	svc := NewService(failingRepo{}, nil)
	called := false
	svc.Subscribe(func(types.Alert) { called = true })
	_, err := svc.CreateAlert(context.Background(), &types.RuleRecord{Name: "r"}, nil, "t", "d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, called)
}

func TestCreateAlert_SubscriberPanicIsContained(t *testing.T) {
	svc := NewService(store.New().Alerts(), zaptest.NewLogger(t))
	second := false
	svc.Subscribe(func(types.Alert) { panic("boom") })
	svc.Subscribe(func(types.Alert) { second = true })
	_, err := svc.CreateAlert(context.Background(), &types.RuleRecord{Name: "r"}, nil, "t", "d")
	require.NoError(t, err)
	assert.True(t, second)
}

func TestRecentAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.New().Alerts(), nil)
	a, err := svc.CreateAlert(ctx, &types.RuleRecord{Name: "r"}, nil, "t", "d")
	require.NoError(t, err)

	recent, err := svc.Recent(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Acknowledged)

	require.NoError(t, svc.Acknowledge(ctx, a.ID, "bob"))
	recent, err = svc.Recent(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, recent[0].Acknowledged)
	assert.Equal(t, "bob", recent[0].AcknowledgedBy)

	assert.True(t, errors.Is(svc.Acknowledge(ctx, "missing", "bob"), types.ErrNotFound))
}

func TestSummarize_Empty(t *testing.T) {
	md := Summarize(nil)
	assert.Zero(t, md.EventCount)
	assert.Empty(t, md.AffectedHosts)
	assert.NotNil(t, md.AffectedUsers)
}

func TestLogSubscriber(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	LogSubscriber(zap.New(core))(types.Alert{ID: "x", RuleName: "r", Title: "Alert: r"})
	entries := logs.FilterMessage("ALERT").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r", entries[0].ContextMap()["rule"])
}
