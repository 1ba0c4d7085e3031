package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dot-do/functions-sub012/internal/model"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    function_id TEXT NOT NULL,
    version     TEXT,
    flavor      TEXT NOT NULL,
    status      TEXT NOT NULL,
    output      BLOB,
    error       TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    cache_hit   INTEGER NOT NULL DEFAULT 0,
    timed_out   INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createExecutionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create executions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, function_id, version, flavor, status, output, error,
			retry_count, cache_hit, timed_out, duration_ms,
			created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FunctionID, e.Version, e.Flavor, e.Status, e.Output, e.Error,
		e.RetryCount, e.CacheHit, e.TimedOut, e.DurationMS,
		e.CreatedAt, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// UpdateExecution rewrites the mutable fields of an execution record.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, e *model.Execution) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE executions SET
			status = ?, output = ?, error = ?, retry_count = ?,
			cache_hit = ?, timed_out = ?, duration_ms = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		e.Status, e.Output, e.Error, e.RetryCount,
		e.CacheHit, e.TimedOut, e.DurationMS,
		e.StartedAt, e.FinishedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	e := &model.Execution{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, function_id, version, flavor, status, output, error,
			retry_count, cache_hit, timed_out, duration_ms,
			created_at, started_at, finished_at
		FROM executions WHERE id = ?`, id,
	).Scan(
		&e.ID, &e.FunctionID, &e.Version, &e.Flavor, &e.Status, &e.Output, &e.Error,
		&e.RetryCount, &e.CacheHit, &e.TimedOut, &e.DurationMS,
		&e.CreatedAt, &e.StartedAt, &e.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns a paginated list ordered by created_at DESC, along
// with the total count of all executions.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, function_id, version, flavor, status, output, error,
			retry_count, cache_hit, timed_out, duration_ms,
			created_at, started_at, finished_at
		FROM executions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		e := &model.Execution{}
		if err := rows.Scan(
			&e.ID, &e.FunctionID, &e.Version, &e.Flavor, &e.Status, &e.Output, &e.Error,
			&e.RetryCount, &e.CacheHit, &e.TimedOut, &e.DurationMS,
			&e.CreatedAt, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return executions, total, nil
}

// GetExecutionStats aggregates counts by status and flavor plus average
// duration over finished executions.
func (s *SQLiteStore) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{
		CountByStatus: make(map[string]int),
		CountByFlavor: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, "SELECT flavor, COUNT(*) FROM executions GROUP BY flavor")
	if err != nil {
		return nil, fmt.Errorf("count by flavor: %w", err)
	}
	for rows.Next() {
		var flavor string
		var n int
		if err := rows.Scan(&flavor, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan flavor count: %w", err)
		}
		stats.CountByFlavor[flavor] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flavor counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM executions WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	var cacheHits int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM executions WHERE cache_hit = 1",
	).Scan(&cacheHits); err != nil {
		return nil, fmt.Errorf("count cache hits: %w", err)
	}
	stats.CacheHits = cacheHits

	return stats, nil
}
