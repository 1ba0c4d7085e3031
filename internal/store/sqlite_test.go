package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestExecution() *model.Execution {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Execution{
		ID:         model.NewID(),
		FunctionID: "fn-greeter",
		Version:    "3",
		Flavor:     model.FlavorScript,
		Status:     model.StatusRunning,
		CreatedAt:  now,
		StartedAt:  &now,
	}
}

func TestCreateAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := makeTestExecution()

	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}

	if got.ID != e.ID {
		t.Errorf("ID = %q, want %q", got.ID, e.ID)
	}
	if got.FunctionID != e.FunctionID {
		t.Errorf("FunctionID = %q, want %q", got.FunctionID, e.FunctionID)
	}
	if got.Flavor != e.Flavor {
		t.Errorf("Flavor = %q, want %q", got.Flavor, e.Flavor)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt is nil")
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetExecution(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExecution error = %v, want ErrNotFound", err)
	}
}

func TestUpdateExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := makeTestExecution()

	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	finished := time.Now().UTC().Truncate(time.Second)
	duration := int64(42)
	e.Status = model.StatusCompleted
	e.Output = []byte(`{"ok":true}`)
	e.RetryCount = 1
	e.DurationMS = &duration
	e.FinishedAt = &finished

	if err := s.UpdateExecution(ctx, e); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if string(got.Output) != `{"ok":true}` {
		t.Errorf("Output = %q", got.Output)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.DurationMS == nil || *got.DurationMS != 42 {
		t.Errorf("DurationMS = %v, want 42", got.DurationMS)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil")
	}
}

func TestUpdateExecutionNotFound(t *testing.T) {
	s := newTestStore(t)
	e := makeTestExecution()

	err := s.UpdateExecution(context.Background(), e)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateExecution error = %v, want ErrNotFound", err)
	}
}

func TestListExecutionsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := makeTestExecution()
		e.FunctionID = fmt.Sprintf("fn-%d", i)
		e.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("CreateExecution[%d]: %v", i, err)
		}
	}

	executions, total, err := s.ListExecutions(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(executions) != 2 {
		t.Fatalf("len = %d, want 2", len(executions))
	}
	// Newest first.
	if executions[0].FunctionID != "fn-4" {
		t.Errorf("first = %q, want fn-4", executions[0].FunctionID)
	}

	rest, _, err := s.ListExecutions(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListExecutions offset: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("len with offset 2 = %d, want 3", len(rest))
	}
}

func TestGetExecutionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	durations := []int64{100, 200}
	for i := range durations {
		e := makeTestExecution()
		e.Flavor = model.FlavorModel
		e.Status = model.StatusCompleted
		e.DurationMS = &durations[i]
		e.CacheHit = i == 1
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
	}
	failed := makeTestExecution()
	failed.Status = model.StatusFailed
	if err := s.CreateExecution(ctx, failed); err != nil {
		t.Fatalf("CreateExecution failed record: %v", err)
	}

	stats, err := s.GetExecutionStats(ctx)
	if err != nil {
		t.Fatalf("GetExecutionStats: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 {
		t.Errorf("completed count = %d, want 2", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusFailed] != 1 {
		t.Errorf("failed count = %d, want 1", stats.CountByStatus[model.StatusFailed])
	}
	if stats.CountByFlavor[model.FlavorModel] != 2 {
		t.Errorf("model flavor count = %d, want 2", stats.CountByFlavor[model.FlavorModel])
	}
	if stats.AvgDurationMS != 150 {
		t.Errorf("AvgDurationMS = %v, want 150", stats.AvgDurationMS)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
}
