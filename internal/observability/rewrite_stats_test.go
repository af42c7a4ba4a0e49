package observability

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{qerrors.NewUnreachable("no unit"), qerrors.CodeUnreachableProperty},
		{fmt.Errorf("rewrite: %w", qerrors.NewInsufficientBudget("eps")), qerrors.CodeInsufficientBudget},
		{errors.New("boom"), qerrors.CodeUnexpected},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRecordConcurrent(t *testing.T) {
	s := NewRewriteStats(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Record("library", OpRewrite, time.Millisecond, nil)
				s.Record("library", OpDpRewrite, time.Millisecond, qerrors.NewInsufficientBudget("eps"))
				s.RecordTables("library", [][]string{{"main", "loans"}})
			}
		}()
	}
	wg.Wait()

	d, ok := s.Dataset("library")
	if !ok {
		t.Fatal("expected stats for library")
	}
	if d.Total != 2000 {
		t.Errorf("total = %d, want 2000", d.Total)
	}
	if got := d.Count(OpRewrite, OutcomeOK); got != 1000 {
		t.Errorf("rewrite ok = %d, want 1000", got)
	}
	if got := d.Count(OpDpRewrite, qerrors.CodeInsufficientBudget); got != 1000 {
		t.Errorf("dp insufficient budget = %d, want 1000", got)
	}
	if d.MeanLatency() != time.Millisecond {
		t.Errorf("mean latency = %v", d.MeanLatency())
	}
	top := s.TopTables(5)
	if len(top) != 1 || top[0].Table != "main.loans" || top[0].Frequency != 1000 {
		t.Errorf("top tables = %+v", top)
	}
}

func TestDatasetsOrdering(t *testing.T) {
	s := NewRewriteStats(time.Hour)
	for i := 0; i < 3; i++ {
		s.Record("b", OpRelation, 0, nil)
	}
	s.Record("a", OpRelation, 0, nil)
	s.Record("c", OpRelation, 0, nil)

	var got []string
	for _, d := range s.Datasets() {
		got = append(got, d.Dataset)
	}
	want := []string{"b", "a", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Datasets() order = %v, want %v", got, want)
	}
}

func TestCopiesAreDetached(t *testing.T) {
	s := NewRewriteStats(time.Hour)
	s.Record("library", OpRewrite, 0, nil)
	d, _ := s.Dataset("library")
	d.Outcomes[outcomeKey(OpRewrite, OutcomeOK)] = 42

	again, _ := s.Dataset("library")
	if got := again.Count(OpRewrite, OutcomeOK); got != 1 {
		t.Errorf("stored count changed through a copy: %d", got)
	}
}

func TestForget(t *testing.T) {
	s := NewRewriteStats(time.Hour)
	s.Record("library", OpRewrite, 0, nil)
	s.RecordTables("library", [][]string{{"main", "readers"}})
	s.RecordTables("shop", [][]string{{"main", "orders"}})

	s.Forget("library")
	if _, ok := s.Dataset("library"); ok {
		t.Error("library should be forgotten")
	}
	top := s.TopTables(10)
	if len(top) != 1 || top[0].Dataset != "shop" {
		t.Errorf("top tables after forget = %+v", top)
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	window := 100 * time.Millisecond
	s := NewRewriteStats(window)
	s.Record("library", OpRelation, 0, nil)
	s.RecordTables("library", [][]string{{"main", "readers"}})

	time.Sleep(window + 50*time.Millisecond)
	s.Prune()

	if len(s.Datasets()) != 0 {
		t.Errorf("expected no datasets after prune, got %d", len(s.Datasets()))
	}
	if len(s.TopTables(10)) != 0 {
		t.Errorf("expected no tables after prune")
	}
}

func TestTopTablesEmpty(t *testing.T) {
	s := NewRewriteStats(time.Hour)
	if top := s.TopTables(10); len(top) != 0 {
		t.Errorf("expected 0 tables, got %d", len(top))
	}
	s.RecordTables("library", [][]string{{"main", "readers"}})
	if top := s.TopTables(0); len(top) != 0 {
		t.Errorf("TopTables(0) returned %d entries", len(top))
	}
}
