package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/gbvm/errors"
)

// Store handles persistence of script schedules
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, bot_id, script_name, cron, next_run_at, last_run_at,
	last_status, last_error, created_at, updated_at`

// Upsert creates or replaces the schedule of (botID, script). The cron
// expression is validated and the next run computed from now; an existing
// schedule keeps its id and run history.
func (s *Store) Upsert(ctx context.Context, botID, script, expr string, now time.Time) (*Job, error) {
	next, err := NextRun(expr, now)
	if err != nil {
		return nil, err
	}

	stamp := now.UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO script_schedules (
			id, bot_id, script_name, cron, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, script_name) DO UPDATE SET
			cron = excluded.cron,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`, uuid.NewString(), botID, script, expr, next.UTC().Format(time.RFC3339), stamp, stamp)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert schedule %s/%s", botID, script)
	}

	return s.Get(ctx, botID, script)
}

// Delete removes the schedule of (botID, script) and reports whether one existed
func (s *Store) Delete(ctx context.Context, botID, script string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM script_schedules WHERE bot_id = ? AND script_name = ?`, botID, script)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete schedule %s/%s", botID, script)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to count deleted schedules")
	}
	return n > 0, nil
}

// Get returns the schedule of (botID, script)
func (s *Store) Get(ctx context.Context, botID, script string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM script_schedules WHERE bot_id = ? AND script_name = ?`,
		botID, script)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("schedule %s/%s", botID, script)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s/%s", botID, script)
	}
	return job, nil
}

// List returns the schedules of botID ordered by script name. An empty
// botID lists every bot.
func (s *Store) List(ctx context.Context, botID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM script_schedules`
	var args []any
	if botID != "" {
		query += ` WHERE bot_id = ?`
		args = append(args, botID)
	}
	query += ` ORDER BY bot_id, script_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	return collectJobs(rows)
}

// ListDue returns schedules whose next run is at or before now, oldest first
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM script_schedules
		WHERE next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at
		LIMIT ?
	`, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}
	return collectJobs(rows)
}

// Next returns the schedule that fires soonest, or nil when none are pending
func (s *Store) Next(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM script_schedules
		WHERE next_run_at IS NOT NULL
		ORDER BY next_run_at
		LIMIT 1
	`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next schedule")
	}
	return job, nil
}

// MarkRun advances a schedule before its script runs: last_run_at becomes
// now and next_run_at the following activation.
func (s *Store) MarkRun(ctx context.Context, job *Job, now time.Time) error {
	next, err := NextRun(job.Cron, now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE script_schedules
		SET last_run_at = ?, next_run_at = ?, last_status = ?, updated_at = ?
		WHERE id = ?
	`, now.UTC().Format(time.RFC3339), next.UTC().Format(time.RFC3339), StatusRunning,
		now.UTC().Format(time.RFC3339), job.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to mark schedule %s run", job.ID)
	}
	job.LastRunAt = &now
	job.NextRunAt = &next
	job.LastStatus = StatusRunning
	return nil
}

// RecordResult stores the outcome of the last run
func (s *Store) RecordResult(ctx context.Context, jobID string, runErr error) error {
	status := StatusCompleted
	var lastError any
	if runErr != nil {
		status = StatusFailed
		lastError = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE script_schedules
		SET last_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, status, lastError, time.Now().UTC().Format(time.RFC3339), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to record result of schedule %s", jobID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                   Job
		nextRun, lastRun      sql.NullString
		lastStatus, lastError sql.NullString
		createdAt, updatedAt  string
	)
	if err := row.Scan(&job.ID, &job.BotID, &job.ScriptName, &job.Cron,
		&nextRun, &lastRun, &lastStatus, &lastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	job.NextRunAt = parseTime(nextRun)
	job.LastRunAt = parseTime(lastRun)
	job.LastStatus = lastStatus.String
	job.LastError = lastError.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate schedules")
	}
	return jobs, nil
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
