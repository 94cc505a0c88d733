package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a download job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Finished reports whether the status is terminal
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a persisted download request
type Job struct {
	ID        string    `json:"id"`
	TrackID   string    `json:"track_id"`
	SourceURL string    `json:"source_url"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStats counts jobs per status
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobStore manages download jobs in the database
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, track_id, source_url, status, error_message, error_kind, created_at, updated_at`

// Add persists a new job
func (js *JobStore) Add(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = JobPending
	}

	_, err := js.db.ExecContext(ctx, `
		INSERT INTO download_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.TrackID,
		job.SourceURL,
		job.Status,
		job.Error,
		job.ErrorKind,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("job %s: %w", job.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to add job: %w", err)
	}
	return nil
}

// UpdateStatus moves a job to status, recording the failure reason if any
func (js *JobStore) UpdateStatus(ctx context.Context, id string, status JobStatus, errMsg, errKind string) error {
	result, err := js.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status = ?, error_message = ?, error_kind = ?, updated_at = ?
		WHERE id = ?
	`, status, errMsg, errKind, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get retrieves a job by ID
func (js *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := js.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM download_jobs WHERE id = ?", id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns all jobs, oldest first
func (js *JobStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := js.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM download_jobs ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListByStatus returns jobs with the given status, oldest first
func (js *JobStore) ListByStatus(ctx context.Context, status JobStatus) ([]*Job, error) {
	rows, err := js.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM download_jobs WHERE status = ? ORDER BY rowid", status)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ResetRunning moves jobs interrupted mid-run back to pending
func (js *JobStore) ResetRunning(ctx context.Context) (int64, error) {
	result, err := js.db.ExecContext(ctx,
		"UPDATE download_jobs SET status = ?, updated_at = ? WHERE status = ?",
		JobPending, time.Now().UTC(), JobRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of jobs with status
func (js *JobStore) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := js.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_jobs WHERE status = ?", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// Stats returns job counts per status
func (js *JobStore) Stats(ctx context.Context) (*JobStats, error) {
	rows, err := js.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM download_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	defer rows.Close()

	stats := &JobStats{}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}

		stats.Total += count
		switch status {
		case JobPending:
			stats.Pending = count
		case JobRunning:
			stats.Running = count
		case JobCompleted:
			stats.Completed = count
		case JobFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ClearFinished deletes completed and failed jobs
func (js *JobStore) ClearFinished(ctx context.Context) (int64, error) {
	result, err := js.db.ExecContext(ctx,
		"DELETE FROM download_jobs WHERE status IN (?, ?)", JobCompleted, JobFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to clear finished jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	err := row.Scan(
		&job.ID,
		&job.TrackID,
		&job.SourceURL,
		&job.Status,
		&job.Error,
		&job.ErrorKind,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return jobs, nil
}
