package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Import run statuses as recorded in the ledger.
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunCancelled  = "cancelled"
	RunError      = "error"
)

// ImportRun is one entry of the import ledger.
type ImportRun struct {
	ID           int64        `json:"id"`
	JobID        string       `json:"job_id"`
	Source       string       `json:"source"`
	Directory    string       `json:"directory,omitempty"`
	Status       string       `json:"status"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   sql.NullTime `json:"-"`
	StatsJSON    string       `json:"-"`
	ErrorMessage string       `json:"error,omitempty"`
}

// StartRun records a new in-progress run. Runs of the same source still
// marked in progress are left over from an interrupted process and are
// closed as errors first.
func (s *Store) StartRun(ctx context.Context, jobID, source, directory string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE import_runs
			SET status = ?, error_message = 'superseded by new run',
			    finished_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
			WHERE source = ? AND status = ?
		`, RunError, source, RunInProgress); err != nil {
			return fmt.Errorf("close stale runs: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO import_runs (job_id, source, directory, status, started_at)
			VALUES (?, ?, ?, ?, strftime('%Y-%m-%d %H:%M:%f', 'now'))
		`, jobID, source, directory, RunInProgress)
		if err != nil {
			return fmt.Errorf("insert import run: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// FinishRun records the final status, stats and error text of a run.
func (s *Store) FinishRun(ctx context.Context, jobID, status, statsJSON, errMsg string) error {
	var errText any
	if errMsg != "" {
		errText = errMsg
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_runs
		SET status = ?, stats_json = ?, error_message = ?,
		    finished_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE job_id = ?
	`, status, statsJSON, errText, jobID)
	if err != nil {
		return fmt.Errorf("finish import run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("import run %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source, directory, status, started_at, finished_at,
		       stats_json, error_message
		FROM import_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		var r ImportRun
		var directory, finishedAt, statsJSON, errMsg sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Source, &directory, &r.Status, &startedAt,
			&finishedAt, &statsJSON, &errMsg); err != nil {
			return nil, err
		}
		r.Directory = directory.String
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseNullTime(finishedAt)
		r.StatsJSON = statsJSON.String
		r.ErrorMessage = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
