package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.InsertRun(&Run{Source: "-", Outcome: "accepted"}); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run in memory db, got %d", len(runs))
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping on nil db should error")
	}
}

func TestPing(t *testing.T) {
	s := openTest(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := openTest(t)

	started := time.Unix(1700000000, 123456789)
	run := &Run{
		Source:          "recordings/a.jsonl",
		Digest:          "abcd",
		StartedAt:       started,
		Outcome:         "rejected",
		Reasons:         []string{"too-fast", "insufficient-samples"},
		Accuracy:        12.5,
		SearchTime:      0.1,
		HumanLikelihood: 5,
		Samples:         3,
		DragAttempts:    1,
		Discarded:       2,
		Resets:          1,
	}
	if err := s.InsertRun(run); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("InsertRun should assign an ID")
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Source != run.Source || got.Digest != run.Digest || got.Outcome != run.Outcome {
		t.Errorf("run mismatch: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt mismatch: %v vs %v", got.StartedAt, started)
	}
	if len(got.Reasons) != 2 || got.Reasons[0] != "too-fast" || got.Reasons[1] != "insufficient-samples" {
		t.Errorf("reasons mismatch: %v", got.Reasons)
	}
	if got.Accuracy != 12.5 || got.SearchTime != 0.1 || got.HumanLikelihood != 5 {
		t.Errorf("scores mismatch: %+v", got)
	}
	if got.Samples != 3 || got.DragAttempts != 1 || got.Discarded != 2 || got.Resets != 1 {
		t.Errorf("counters mismatch: %+v", got)
	}
}

func TestMissingSearchTimeRoundTrips(t *testing.T) {
	s := openTest(t)

	run := &Run{ID: "nan", Source: "-", Outcome: "rejected", SearchTime: math.NaN()}
	if err := s.InsertRun(run); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}

	got, err := s.GetRun("nan")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(got.SearchTime) {
		t.Errorf("expected NaN search time, got %v", got.SearchTime)
	}
	if got.Reasons != nil {
		t.Errorf("expected nil reasons, got %v", got.Reasons)
	}
	if got.Digest != "" {
		t.Errorf("expected empty digest, got %q", got.Digest)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTest(t)

	got, err := s.GetRun("missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestDuplicateIDFails(t *testing.T) {
	s := openTest(t)

	if err := s.InsertRun(&Run{ID: "x", Source: "-", Outcome: "accepted"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRun(&Run{ID: "x", Source: "-", Outcome: "accepted"}); err == nil {
		t.Error("expected error for duplicate ID")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTest(t)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		run := &Run{
			ID:        fmt.Sprintf("run-%d", i),
			Source:    "-",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Outcome:   "accepted",
		}
		if err := s.InsertRun(run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(3)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if runs[i].ID != want {
			t.Errorf("runs[%d] = %s, expected %s", i, runs[i].ID, want)
		}
	}

	all, err := s.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("expected all 5 runs, got %d", len(all))
	}
}

func TestHasDigest(t *testing.T) {
	s := openTest(t)

	if err := s.InsertRun(&Run{Source: "a.jsonl", Digest: "feed", Outcome: "accepted"}); err != nil {
		t.Fatal(err)
	}

	seen, err := s.HasDigest("feed")
	if err != nil || !seen {
		t.Errorf("expected digest to be seen: %v %v", seen, err)
	}
	seen, err = s.HasDigest("beef")
	if err != nil || seen {
		t.Errorf("unexpected digest hit: %v %v", seen, err)
	}
	seen, err = s.HasDigest("")
	if err != nil || seen {
		t.Errorf("empty digest should never match: %v %v", seen, err)
	}
}

func TestStats(t *testing.T) {
	s := openTest(t)

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats on empty ledger failed: %v", err)
	}
	if st.Total != 0 || st.MeanAccuracy != 0 {
		t.Errorf("expected empty stats, got %+v", st)
	}

	runs := []*Run{
		{Source: "-", Outcome: "accepted", Accuracy: 80},
		{Source: "-", Outcome: "rejected", Accuracy: 40, Reasons: []string{"too-fast"}},
		{Source: "-", Outcome: "rejected", Accuracy: 0, Reasons: []string{"insufficient-samples", "missing-data"}, SearchTime: math.NaN()},
		{Source: "-", Outcome: "ignored", Accuracy: 99},
	}
	for _, r := range runs {
		if err := s.InsertRun(r); err != nil {
			t.Fatal(err)
		}
	}

	st, err = s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 4 {
		t.Errorf("expected 4 runs, got %d", st.Total)
	}
	if st.ByOutcome["accepted"] != 1 || st.ByOutcome["rejected"] != 2 || st.ByOutcome["ignored"] != 1 {
		t.Errorf("unexpected outcome counts: %v", st.ByOutcome)
	}
	if st.ByReason["too-fast"] != 1 || st.ByReason["insufficient-samples"] != 1 || st.ByReason["missing-data"] != 1 {
		t.Errorf("unexpected reason counts: %v", st.ByReason)
	}
	if st.MeanAccuracy != 40 {
		t.Errorf("expected mean accuracy 40 over scored runs, got %v", st.MeanAccuracy)
	}
}

func TestMigrationStatus(t *testing.T) {
	s := openTest(t)

	status, err := GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("expected fully migrated, at %d of %d", status.CurrentVersion, status.LatestVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}
	if len(status.Applied) != len(migrations) {
		t.Errorf("expected %d applied, got %d", len(migrations), len(status.Applied))
	}
	if err := ValidateSchema(s.DB()); err != nil {
		t.Errorf("ValidateSchema failed: %v", err)
	}
}

func TestRollbackAndReapply(t *testing.T) {
	s := openTest(t)
	db := s.DB()

	if err := RollbackMigration(db); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	status, err := GetMigrationStatus(db)
	if err != nil {
		t.Fatal(err)
	}
	if status.CurrentVersion != 1 || len(status.Pending) != 1 {
		t.Errorf("expected version 1 with one pending, got %+v", status)
	}

	if err := MigrateDB(db); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}
	if err := s.InsertRun(&Run{Source: "-", Outcome: "accepted", Discarded: 3}); err != nil {
		t.Errorf("insert after reapply failed: %v", err)
	}

	if err := RollbackMigration(db); err != nil {
		t.Fatal(err)
	}
	if err := RollbackMigration(db); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSchema(db); err == nil {
		t.Error("expected missing runs table after full rollback")
	}
	if err := RollbackMigration(db); err == nil {
		t.Error("expected error rolling back an empty schema")
	}
}

func BenchmarkInsertRun(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.InsertRun(&Run{Source: "-", Outcome: "accepted", Reasons: []string{}}); err != nil {
			b.Fatal(err)
		}
	}
}
