package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/gbvm/errors"
)

// ExecutionStore handles persistence of scheduled run history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution inserts a new execution record
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO script_runs (
			id, schedule_id, status, started_at, completed_at,
			duration_ms, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.ScheduleID,
		exec.Status,
		exec.StartedAt,
		nullable(exec.CompletedAt),
		nullable(exec.DurationMs),
		nullable(exec.ErrorMessage),
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// UpdateExecution stores the final state of an execution
func (s *ExecutionStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE script_runs
		SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`,
		exec.Status,
		nullable(exec.CompletedAt),
		nullable(exec.DurationMs),
		nullable(exec.ErrorMessage),
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to count updated executions")
	}
	if n == 0 {
		return errors.NewNotFoundError("execution %s", exec.ID)
	}
	return nil
}

// ListExecutions returns the most recent runs of a schedule, newest first
func (s *ExecutionStore) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, status, started_at, completed_at,
			duration_ms, error_message, created_at, updated_at
		FROM script_runs
		WHERE schedule_id = ?
		ORDER BY started_at DESC, created_at DESC
		LIMIT ?
	`, scheduleID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var (
			exec        Execution
			completedAt sql.NullString
			durationMs  sql.NullInt64
			errMsg      sql.NullString
		)
		if err := rows.Scan(&exec.ID, &exec.ScheduleID, &exec.Status, &exec.StartedAt,
			&completedAt, &durationMs, &errMsg, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.String
		}
		if durationMs.Valid {
			d := int(durationMs.Int64)
			exec.DurationMs = &d
		}
		if errMsg.Valid {
			exec.ErrorMessage = &errMsg.String
		}
		out = append(out, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate executions")
	}
	return out, nil
}

// CleanupOldExecutions deletes runs that started more than retentionDays ago
// and returns how many were removed.
func (s *ExecutionStore) CleanupOldExecutions(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM script_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup executions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cleaned executions")
	}
	return int(n), nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
