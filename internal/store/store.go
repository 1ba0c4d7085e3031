package store

import (
	"context"
	"errors"

	"github.com/dot-do/functions-sub012/internal/model"
)

// ErrNotFound is returned when an execution record is not found.
var ErrNotFound = errors.New("execution not found")

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByFlavor map[string]int `json:"count_by_flavor"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	CacheHits     int            `json:"cache_hits"`
}

// Store defines the persistence operations for execution records. The engine
// treats it as a fire-and-forget collaborator: write failures are logged by
// the caller and never fail the execution itself.
type Store interface {
	CreateExecution(ctx context.Context, e *model.Execution) error
	UpdateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error)
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)
	Close() error
}
