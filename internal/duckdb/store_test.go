package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/logsentinel/logsentinel/internal/types"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.duckdb"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEvents_AddGetRange(t *testing.T) {
	ctx := context.Background()
	repo := NewStore(openTemp(t)).Events()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := repo.Add(ctx, &types.Event{
		Timestamp: base,
		Host:      "HOST1",
		User:      "alice",
		Code:      types.Code(4625),
		Provider:  "Microsoft-Windows-Security-Auditing",
		Level:     types.LevelWarning,
		Process:   "lsass.exe",
		Message:   "An account failed to log on",
		Details:   map[string]any{"TargetUserName": "alice", "LogonType": "3"},
		Source:    types.SourceChannel,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID < 1 {
		t.Fatalf("expected assigned id, got %d", first.ID)
	}
	second, err := repo.Add(ctx, &types.Event{Timestamp: base.Add(30 * time.Second), Process: "sshd"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID <= first.ID {
		t.Errorf("ids not increasing: %d then %d", first.ID, second.ID)
	}

	got, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.User != "alice" || got.Level != types.LevelWarning || !got.Timestamp.Equal(base) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if c, ok := got.CodeValue(); !ok || c != 4625 {
		t.Errorf("code = %d,%v want 4625", c, ok)
	}
	if got.Details["LogonType"] != "3" {
		t.Errorf("details = %v", got.Details)
	}
	if got.IngestedAt.IsZero() {
		t.Error("ingested_at should default to now")
	}

	nocode, err := repo.GetByID(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if nocode.Code != nil || nocode.Details != nil {
		t.Errorf("expected no code and no details, got %v %v", nocode.Code, nocode.Details)
	}

	rng, err := repo.GetByDateRange(ctx, base, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(rng) != 2 || rng[0].ID != second.ID {
		t.Fatalf("expected newest first, got %d events", len(rng))
	}
	rng, err = repo.GetByDateRange(ctx, base.Add(time.Second), base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(rng) != 1 {
		t.Errorf("expected 1 event in narrowed range, got %d", len(rng))
	}

	if _, err := repo.GetByID(ctx, 999); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetByID(999) err = %v, want ErrNotFound", err)
	}
	if n, err := repo.Count(ctx); err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestRules_UpsertUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewStore(openTemp(t)).Rules()

	rec := &types.RuleRecord{Name: "brute", Severity: "High", Body: "v1", Enabled: true}
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID < 1 {
		t.Fatalf("expected assigned id, got %d", rec.ID)
	}
	if err := repo.Upsert(ctx, &types.RuleRecord{Name: "disabled", Body: "x", Enabled: false}); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByName(ctx, "brute")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got.LastTriggeredAt = &now
	got.TriggerCount = 4
	if err := repo.Update(ctx, got); err != nil {
		t.Fatal(err)
	}

	if err := repo.Upsert(ctx, &types.RuleRecord{Name: "brute", Severity: "Critical", Body: "v2", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetByName(ctx, "brute")
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "v2" || got.Severity != "Critical" {
		t.Errorf("upsert did not replace body: %+v", got)
	}
	if got.TriggerCount != 4 || got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(now) {
		t.Errorf("trigger stats lost: %+v", got)
	}
	if got.ID != rec.ID {
		t.Errorf("id changed on upsert: %d -> %d", rec.ID, got.ID)
	}

	enabled, err := repo.GetEnabled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 1 || enabled[0].Name != "brute" {
		t.Errorf("GetEnabled = %v", enabled)
	}
	all, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("List len = %d, want 2", len(all))
	}

	if _, err := repo.GetByName(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetByName(missing) err = %v", err)
	}
	if err := repo.Update(ctx, &types.RuleRecord{Name: "missing"}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Update(missing) err = %v", err)
	}
}

func TestAlerts_AddRecentAcknowledge(t *testing.T) {
	ctx := context.Background()
	repo := NewStore(openTemp(t)).Alerts()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a := &types.Alert{
		ID:        "6f1c2f4e-0000-4000-8000-000000000001",
		RuleID:    1,
		RuleName:  "brute",
		Severity:  "High",
		Timestamp: base,
		Title:     "Brute force: alice x5",
		EventIDs:  []int64{5, 4, 3, 2, 1},
		Metadata: types.AlertMetadata{
			EventCount:     5,
			FirstEventTime: base.Add(-time.Minute),
			LastEventTime:  base,
			AffectedHosts:  []string{"HOST1"},
			AffectedUsers:  []string{"alice"},
		},
	}
	if err := repo.Add(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, &types.Alert{ID: "older", Timestamp: base.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, &types.Alert{ID: a.ID, Timestamp: base}); err == nil {
		t.Error("expected duplicate id to fail")
	}

	recent, err := repo.Recent(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent len = %d, want 1", len(recent))
	}
	got := recent[0]
	if len(got.EventIDs) != 5 || got.Metadata.AffectedUsers[0] != "alice" || got.Metadata.EventCount != 5 {
		t.Errorf("alert round trip mismatch: %+v", got)
	}

	if err := repo.Acknowledge(ctx, a.ID, "analyst", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, err = repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Acknowledged || got.AcknowledgedBy != "analyst" || got.AcknowledgedAt == nil {
		t.Errorf("acknowledge not stored: %+v", got)
	}
	if err := repo.Acknowledge(ctx, "missing", "x", base); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Acknowledge(missing) err = %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestStore_Persist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "p.duckdb")
	db1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewStore(db1).Rules().Upsert(ctx, &types.RuleRecord{Name: "kept", Body: "b", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(db1).Events().Add(ctx, &types.Event{Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	db1.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	st := NewStore(db2)
	if _, err := st.Rules().GetByName(ctx, "kept"); err != nil {
		t.Errorf("rule lost after reopen: %v", err)
	}
	ev, err := st.Events().Add(ctx, &types.Event{Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != 2 {
		t.Errorf("sequence not resumed: id = %d, want 2", ev.ID)
	}
}

func TestDB_InMemory(t *testing.T) {
	db, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if db.SQL() == nil {
		t.Error("SQL() should return non-nil *sql.DB")
	}
	if db.Path() != "" {
		t.Errorf("Path() = %q, want empty", db.Path())
	}
	if _, err := NewStore(db).Events().Add(context.Background(), &types.Event{Timestamp: time.Now()}); err != nil {
		t.Errorf("Add on in-memory db: %v", err)
	}
}
