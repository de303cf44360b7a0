package results

import (
	"context"
	"encoding/json"
	"testing"
)

// measure registers a configuration of path and its walltimes.
func measure(t *testing.T, s *Store, path, rules string, plan json.RawMessage, walltimes ...float64) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.RegisterQueryConfig(ctx, path, rules, plan, PlanHash(plan)); err != nil {
		t.Fatalf("failed to register config %q: %v", rules, err)
	}
	for _, w := range walltimes {
		if err := s.RegisterMeasurement(ctx, path, rules, w, 0, 1); err != nil {
			t.Fatalf("failed to register measurement: %v", err)
		}
	}
}

func TestMedianRuntimes(t *testing.T) {
	s := openTestStore(t)
	seedQuery(t, s, "tpch", q1)
	measure(t, s, q1, "", planA, 10, 10, 10, 1000)
	measure(t, s, q1, "ColumnPruning", planB, 3, 1, 2)

	medians, err := s.MedianRuntimes(context.Background())
	if err != nil {
		t.Fatalf("failed to compute medians: %v", err)
	}
	if len(medians) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(medians))
	}

	if m := medians[0]; m.DisabledRules != "" || m.MedianRuntime != 10 {
		t.Errorf("baseline median: got %+v, want 10", m)
	}
	if m := medians[1]; m.DisabledRules != "ColumnPruning" || m.NumDisabledRules != 1 || m.MedianRuntime != 2 {
		t.Errorf("alternative median: got %+v, want 2", m)
	}
	if string(medians[1].Plan) != string(planB) {
		t.Errorf("plan mismatch: got %s", medians[1].Plan)
	}
}

func TestMedianRuntimes_Empty(t *testing.T) {
	s := openTestStore(t)
	seedQuery(t, s, "tpch", q1)
	measure(t, s, q1, "", planA)

	medians, err := s.MedianRuntimes(context.Background())
	if err != nil {
		t.Fatalf("failed to compute medians: %v", err)
	}
	if len(medians) != 0 {
		t.Errorf("configs without measurements must not appear, got %v", medians)
	}
}

func TestBestAlternativeConfiguration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := seedQuery(t, s, "tpch", q1)
	q2 := "benchmark/queries/tpch/q2.sql"
	if err := s.RegisterQuery(ctx, id, q2); err != nil {
		t.Fatalf("failed to register query: %v", err)
	}

	measure(t, s, q1, "", planA, 10, 10, 10)
	measure(t, s, q1, "A", planB, 4, 4)
	measure(t, s, q1, "A,B", planB, 7)
	measure(t, s, q1, "C", planB, 12)
	measure(t, s, q2, "", planA, 5)
	measure(t, s, q2, "A", planB, 5)

	alts, err := s.BestAlternativeConfiguration(ctx, "")
	if err != nil {
		t.Fatalf("failed to rank alternatives: %v", err)
	}
	if len(alts) != 4 {
		t.Fatalf("expected 4 alternatives, got %d: %+v", len(alts), alts)
	}

	want := []struct {
		path    string
		rules   string
		savings float64
		rank    int
	}{
		{q1, "A", 6, 1},
		{q1, "A,B", 3, 2},
		{q1, "C", -2, 3},
		{q2, "A", 0, 1},
	}
	for i, w := range want {
		a := alts[i]
		if a.Path != w.path || a.DisabledRules != w.rules || a.Savings != w.savings || a.Rank != w.rank {
			t.Errorf("alternative %d: got %+v, want %+v", i, a, w)
		}
	}
	if alts[0].RuntimeBaseline != 10 || alts[0].Runtime != 4 || alts[0].NumDisabledRules != 1 {
		t.Errorf("unexpected best alternative %+v", alts[0])
	}
}

func TestBestAlternativeConfiguration_Filter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedQuery(t, s, "tpch", q1)
	job := "benchmark/queries/job/1a.sql"
	seedQuery(t, s, "job", job)

	measure(t, s, q1, "", planA, 10)
	measure(t, s, q1, "A", planB, 5)
	measure(t, s, job, "", planA, 10)
	measure(t, s, job, "A", planB, 5)

	alts, err := s.BestAlternativeConfiguration(ctx, "tpch")
	if err != nil {
		t.Fatalf("failed to rank alternatives: %v", err)
	}
	if len(alts) != 1 || alts[0].Path != q1 {
		t.Errorf("expected only tpch alternatives, got %+v", alts)
	}

	none, err := s.BestAlternativeConfiguration(ctx, "stack")
	if err != nil {
		t.Fatalf("failed to rank alternatives: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no alternatives, got %+v", none)
	}
}

func TestBestAlternativeConfiguration_NoBaseline(t *testing.T) {
	s := openTestStore(t)
	seedQuery(t, s, "tpch", q1)
	measure(t, s, q1, "A", planB, 5)

	alts, err := s.BestAlternativeConfiguration(context.Background(), "")
	if err != nil {
		t.Fatalf("failed to rank alternatives: %v", err)
	}
	if len(alts) != 0 {
		t.Errorf("queries without a measured baseline must be skipped, got %+v", alts)
	}
}
