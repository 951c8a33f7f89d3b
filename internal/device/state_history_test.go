package device

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

// historyFixture is a history repository over a fresh database that
// already holds device "dev-1".
type historyFixture struct {
	db   *sql.DB
	repo *SQLiteStateHistoryRepository
}

func newHistoryFixture(t *testing.T) historyFixture {
	t.Helper()

	db := setupTestDB(t)
	if err := NewSQLiteRepository(db).Create(context.Background(), testDevice("dev-1", "Plug")); err != nil {
		t.Fatalf("creating dev-1: %v", err)
	}
	return historyFixture{db: db, repo: NewSQLiteStateHistoryRepository(db)}
}

// backdate stores a row for dev-1 at a chosen time, bypassing
// RecordStateChange which always stamps now.
func (f historyFixture) backdate(t *testing.T, state, source string, at time.Time) {
	t.Helper()

	_, err := f.db.Exec(
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES ('dev-1', ?, ?, ?)",
		state, source, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("backdating history row: %v", err)
	}
}

func TestRecordStateChange(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	state := State{"1": true, "2": float64(75)}
	if err := repo.RecordStateChange(ctx, "dev-1", state, StateHistorySourceCommand); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{Limit: 10})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.Source != StateHistorySourceCommand {
		t.Errorf("Source = %q, want %q", entry.Source, StateHistorySourceCommand)
	}
	if entry.State["1"] != true {
		t.Errorf("State[1] = %v, want true", entry.State["1"])
	}
	if entry.State["2"] != float64(75) {
		t.Errorf("State[2] = %v, want 75", entry.State["2"])
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestRecordStateChange_Defaults(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	if err := repo.RecordStateChange(ctx, "dev-1", nil, ""); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if entries[0].Source != StateHistorySourceRefresh {
		t.Errorf("Source = %q, want %q", entries[0].Source, StateHistorySourceRefresh)
	}
	if len(entries[0].State) != 0 {
		t.Errorf("State = %v, want empty", entries[0].State)
	}

	if err := repo.RecordStateChange(ctx, "", State{}, ""); err == nil {
		t.Error("RecordStateChange() with empty device id should fail")
	}
}

func TestGetHistory_NewestFirstAndLimit(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.backdate(t, `{"1":false}`, StateHistorySourceRefresh, base)
	f.backdate(t, `{"1":true}`, StateHistorySourceCommand, base.Add(time.Minute))
	f.backdate(t, `{"1":false}`, StateHistorySourceAnticipate, base.Add(2*time.Minute))

	entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if entries[0].Source != StateHistorySourceAnticipate {
		t.Errorf("entries[0].Source = %q, want newest first", entries[0].Source)
	}
	if !entries[0].CreatedAt.After(entries[1].CreatedAt) {
		t.Errorf("entries not ordered newest first: %v, %v", entries[0].CreatedAt, entries[1].CreatedAt)
	}
}

func TestGetHistory_SameSecondOrderedByID(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.backdate(t, `{"1":1}`, StateHistorySourceRefresh, at)
	f.backdate(t, `{"1":2}`, StateHistorySourceRefresh, at)

	entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{Limit: 10})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if entries[0].State["1"] != float64(2) {
		t.Errorf("entries[0].State = %v, want the later insert first", entries[0].State)
	}
}

func TestGetHistory_Since(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 4 {
		f.backdate(t, `{}`, StateHistorySourceRefresh, base.Add(time.Duration(i)*time.Minute))
	}

	tests := []struct {
		name  string
		since time.Time
		want  int
	}{
		{"no bound", time.Time{}, 4},
		{"exclusive", base.Add(time.Minute), 2},
		{"non-UTC bound", base.Add(2 * time.Minute).In(time.FixedZone("CET", 3600)), 1},
		{"after all", base.Add(time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{Since: tt.since})
			if err != nil {
				t.Fatalf("GetHistory() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("entries length = %d, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestGetHistory_LimitCapped(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range MaxHistoryLimit + 5 {
		f.backdate(t, `{}`, StateHistorySourceRefresh, base.Add(time.Duration(i)*time.Second))
	}

	entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{Limit: MaxHistoryLimit * 2})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != MaxHistoryLimit {
		t.Errorf("entries length = %d, want %d", len(entries), MaxHistoryLimit)
	}
}

func TestPruneHistory(t *testing.T) {
	f := newHistoryFixture(t)
	repo := f.repo
	ctx := context.Background()

	now := time.Now().UTC()
	f.backdate(t, `{}`, StateHistorySourceRefresh, now.Add(-48*time.Hour))
	f.backdate(t, `{}`, StateHistorySourceRefresh, now.Add(-time.Minute))

	deleted, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) should fail")
	}
}
