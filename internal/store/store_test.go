package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "litrev.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunsLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.StartRun(ctx, Run{ID: "r1", Kind: "screen", Framework: "pcc", Model: "m", StartedAt: older}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := s.StartRun(ctx, Run{ID: "r2", Kind: "screen", Framework: "picos", StartedAt: older.Add(time.Hour)}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := s.StartRun(ctx, Run{ID: "d1", Kind: "dedup", StartedAt: older}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := s.FinishRun(ctx, "r1", StatusCompleted, 12); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := s.FinishRun(ctx, "nope", StatusCompleted, 0); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("FinishRun unknown: got %v, want ErrRunNotFound", err)
	}

	r, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != StatusCompleted || r.Total != 12 || r.FinishedAt.IsZero() {
		t.Errorf("run r1 = %+v", r)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun missing: got %v", err)
	}

	runs, err := s.ListRuns(ctx, "screen")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" {
		t.Fatalf("ListRuns = %+v, want r2 first of 2", runs)
	}
	all, err := s.ListRuns(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRuns all = %d, %v", len(all), err)
	}
}

func TestDecisionsUpsertAndResume(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	decisions := []Decision{
		{StudyID: "STUDY_0002", Framework: "pcc", RunID: "r1", Decision: "INCLUDE", Confidence: "high", Payload: []byte(`{"a":1}`)},
		{StudyID: "STUDY_0001", Framework: "pcc", RunID: "r1", Decision: "EXCLUDE", ReasonCode: "E3"},
		{StudyID: "STUDY_0003", Framework: "pcc", RunID: "r1", Decision: "UNCERTAIN", Failed: true},
		{StudyID: "STUDY_0001", Framework: "picos", RunID: "r2", Decision: "INCLUDE"},
	}
	for _, d := range decisions {
		if err := s.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
	}

	done, err := s.CompletedIDs(ctx, "pcc")
	if err != nil {
		t.Fatalf("CompletedIDs: %v", err)
	}
	if len(done) != 2 || !done["STUDY_0001"] || !done["STUDY_0002"] || done["STUDY_0003"] {
		t.Fatalf("CompletedIDs = %v", done)
	}

	// A retry overwrites the failed decision.
	if err := s.SaveDecision(ctx, Decision{StudyID: "STUDY_0003", Framework: "pcc", RunID: "r3", Decision: "EXCLUDE", ReasonCode: "E1"}); err != nil {
		t.Fatalf("SaveDecision retry: %v", err)
	}

	got, err := s.Decisions(ctx, "pcc")
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Decisions len = %d, want 3", len(got))
	}
	if got[0].StudyID != "STUDY_0001" || got[2].RunID != "r3" || got[2].Failed {
		t.Errorf("unexpected decisions: %+v", got)
	}
	if string(got[1].Payload) != `{"a":1}` {
		t.Errorf("payload = %q", got[1].Payload)
	}

	counts, err := s.DecisionCounts(ctx, "pcc")
	if err != nil {
		t.Fatalf("DecisionCounts: %v", err)
	}
	if counts["INCLUDE"] != 1 || counts["EXCLUDE"] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "litrev.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SaveDecision(context.Background(), Decision{StudyID: "S1", Framework: "pcc", RunID: "r", Decision: "INCLUDE"}); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if !columnExists(s.db, "decisions", "failed") {
		t.Fatal("failed column missing after reopen")
	}
	done, err := s.CompletedIDs(context.Background(), "pcc")
	if err != nil || !done["S1"] {
		t.Fatalf("CompletedIDs after reopen = %v, %v", done, err)
	}
}

func TestMigrationsUpgradeOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.Exec(`
	CREATE TABLE runs (
		run_id TEXT PRIMARY KEY, kind TEXT NOT NULL, framework TEXT DEFAULT '',
		model TEXT DEFAULT '', started_at DATETIME NOT NULL, finished_at DATETIME,
		total INTEGER DEFAULT 0, status TEXT NOT NULL
	);
	CREATE TABLE decisions (
		study_id TEXT NOT NULL, framework TEXT NOT NULL, run_id TEXT NOT NULL,
		decision TEXT NOT NULL, confidence TEXT DEFAULT '', reason_code TEXT DEFAULT '',
		payload TEXT, screened_at DATETIME NOT NULL, PRIMARY KEY (study_id, framework)
	);
	INSERT INTO decisions (study_id, framework, run_id, decision, screened_at)
	VALUES ('S1', 'pcc', 'old', 'INCLUDE', '2024-05-01 00:00:00');`)
	if err != nil {
		t.Fatalf("create old schema: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open old database: %v", err)
	}
	defer s.Close()
	for _, c := range []struct{ table, column string }{{"decisions", "failed"}, {"runs", "provider"}} {
		if !columnExists(s.db, c.table, c.column) {
			t.Errorf("%s.%s not added", c.table, c.column)
		}
	}
	done, err := s.CompletedIDs(context.Background(), "pcc")
	if err != nil || !done["S1"] {
		t.Errorf("old decision not completed after upgrade: %v, %v", done, err)
	}
	if err := s.StartRun(context.Background(), Run{ID: "r", Kind: "screen", Provider: "anthropic", StartedAt: time.Now(), Status: StatusRunning}); err != nil {
		t.Errorf("StartRun on upgraded schema: %v", err)
	}
}
