package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/callsight/callsight-api/internal/models"
)

// DefaultMaxAttempts is the number of times a job may be claimed before it
// reaches terminal failed.
const DefaultMaxAttempts = 3

// retryBackoffBase is the delay after the first failed attempt; each further
// attempt doubles it.
const retryBackoffBase = 30 * time.Second

type JobRepository interface {
	Enqueue(ctx context.Context, tenantID, callRecordID string, jobType models.JobType, priority int) (models.Job, error)
	// ClaimNext atomically selects the oldest, highest-priority pending or
	// due-retry job and transitions it to processing. Safe under concurrent
	// callers from multiple worker processes: no two callers receive the
	// same job. Returns ok=false when no job is claimable.
	ClaimNext(ctx context.Context) (models.Job, bool, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, errorMessage string) error
	// FailPermanently skips the remaining attempt budget and moves the job
	// straight to terminal failed. Used for errors retrying cannot fix,
	// e.g. a recording the PBX reports as missing.
	FailPermanently(ctx context.Context, jobID, errorMessage string) error
	Get(ctx context.Context, jobID string) (models.Job, error)
	ListByStatus(ctx context.Context, tenantID string, status models.JobStatus, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
	HasActiveJob(ctx context.Context, callRecordID string) (bool, error)
	// ReapStale requeues processing jobs whose started_at is older than
	// timeout, as if the claiming worker had failed them. The crashed
	// attempt still counts against max_attempts.
	ReapStale(ctx context.Context, timeout time.Duration) (int, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, tenant_id, call_record_id, job_type, status, priority, attempts, max_attempts,
	last_error, next_retry_at, created_at, updated_at, started_at, completed_at`

func (r *jobRepository) Enqueue(ctx context.Context, tenantID, callRecordID string, jobType models.JobType, priority int) (models.Job, error) {
	query := `
		INSERT INTO callsight.jobs (tenant_id, call_record_id, job_type, status, priority, max_attempts)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING ` + jobColumns

	row := r.db.QueryRowContext(ctx, query, tenantID, callRecordID, jobType, priority, DefaultMaxAttempts)
	return scanJob(row)
}

func (r *jobRepository) ClaimNext(ctx context.Context) (models.Job, bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	// SKIP LOCKED makes the select-then-update pair a single indivisible
	// claim: concurrent workers step over rows already locked by another
	// transaction instead of blocking or double-claiming.
	var jobID string
	selectQuery := `
		SELECT id
		FROM callsight.jobs
		WHERE status = 'pending'
		   OR (status = 'retry' AND next_retry_at <= now())
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`
	if err := tx.QueryRowContext(ctx, selectQuery).Scan(&jobID); err != nil {
		if err == sql.ErrNoRows {
			return models.Job{}, false, nil
		}
		return models.Job{}, false, fmt.Errorf("failed to select claimable job: %w", err)
	}

	updateQuery := `
		UPDATE callsight.jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    started_at = now(),
		    next_retry_at = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + jobColumns

	job, err := scanJob(tx.QueryRowContext(ctx, updateQuery, jobID))
	if err != nil {
		return models.Job{}, false, fmt.Errorf("failed to mark job %s processing: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Job{}, false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return job, true, nil
}

func (r *jobRepository) Complete(ctx context.Context, jobID string) error {
	query := `
		UPDATE callsight.jobs
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

func (r *jobRepository) Fail(ctx context.Context, jobID, errorMessage string) error {
	// A job below its attempt budget goes back to retry with an exponential
	// delay; otherwise it is terminal failed. Decided in one statement so a
	// concurrent reaper cannot race the transition.
	query := `
		UPDATE callsight.jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'retry' ELSE 'failed' END,
		    next_retry_at = CASE WHEN attempts < max_attempts
		        THEN now() + ($2 * power(2, attempts - 1)) * INTERVAL '1 second'
		        ELSE NULL END,
		    completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, query, jobID, int(retryBackoffBase.Seconds()), errorMessage)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

func (r *jobRepository) FailPermanently(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE callsight.jobs
		SET status = 'failed', completed_at = now(), last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, query, jobID, errorMessage)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

func (r *jobRepository) Get(ctx context.Context, jobID string) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM callsight.jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return job, ErrNotFound
	}
	return job, err
}

func (r *jobRepository) ListByStatus(ctx context.Context, tenantID string, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + jobColumns + `
		FROM callsight.jobs
		WHERE ($1 = '' OR tenant_id::text = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM callsight.jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *jobRepository) HasActiveJob(ctx context.Context, callRecordID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM callsight.jobs
			WHERE call_record_id = $1 AND status IN ('pending', 'processing', 'retry')
		)
	`
	err := r.db.QueryRowContext(ctx, query, callRecordID).Scan(&exists)
	return exists, err
}

func (r *jobRepository) ReapStale(ctx context.Context, timeout time.Duration) (int, error) {
	query := `
		UPDATE callsight.jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'retry' ELSE 'failed' END,
		    next_retry_at = CASE WHEN attempts < max_attempts THEN now() ELSE NULL END,
		    last_error = 'worker lost: processing exceeded ' || $1 || 's without completing',
		    updated_at = now()
		WHERE status = 'processing' AND started_at < now() - ($1 * INTERVAL '1 second')
	`
	res, err := r.db.ExecContext(ctx, query, int(timeout.Seconds()))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func requireOneRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s is not in processing state: %w", jobID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job         models.Job
		lastError   sql.NullString
		nextRetry   sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.CallRecordID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&lastError,
		&nextRetry,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return job, err
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if nextRetry.Valid {
		job.NextRetryAt = &nextRetry.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}
