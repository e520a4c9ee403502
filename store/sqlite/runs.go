package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// =============================================================================
// BATCH RUNS - One row per execution of a batch job
// =============================================================================

// Batch run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// BatchRun records one execution of a batch job, scheduled or manual.
type BatchRun struct {
	ID          string
	Job         string
	Status      string // running, completed, failed
	Trigger     string // schedule, manual, cli
	Error       string
	SummaryJSON string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SaveBatchRun inserts a run or updates it by ID.
func (s *Store) SaveBatchRun(ctx context.Context, r BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO batch_runs (id, job, status, trigger_source, error, summary_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			summary_json = excluded.summary_json,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Job, r.Status, r.Trigger, nullString(r.Error), nullString(r.SummaryJSON),
		formatTimestamp(r.StartedAt), nullTimestamp(r.CompletedAt),
	)
	return err
}

// ListBatchRuns returns the most recent runs first. An empty job lists every
// job; limit <= 0 means no limit.
func (s *Store) ListBatchRuns(ctx context.Context, job string, limit int) ([]BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, job, status, trigger_source, error, summary_json, started_at, completed_at
		FROM batch_runs
	`
	var args []any
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BatchRun
	for rows.Next() {
		var r BatchRun
		var errText, summary, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &r.Trigger, &errText, &summary, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.SummaryJSON = summary.String
		if r.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t, err := parseTimestamp(completedAt.String)
			if err != nil {
				return nil, err
			}
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
