package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const deadLetterLimit = 50

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	StatusQueued JobStatus = "queued"
	StatusLeased JobStatus = "leased"
)

type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

type Job struct {
	ID          string
	Recipient   string
	Body        string
	Attempt     int
	MaxAttempts int
	BackoffBase time.Duration
	NotBefore   time.Time
	LastError   string
	CreatedAt   time.Time
}

type Snapshot struct {
	JobID         string
	Recipient     string
	Status        string
	Attempt       int
	MaxAttempts   int
	MessageID     string
	FailureReason string
	CompletedAt   *time.Time
}

type DeadLetter struct {
	ID        string
	JobID     string
	Recipient string
	Body      string
	Reason    string
	Attempts  int
	FailedAt  time.Time
}

// Queue is the durable dispatch queue. Jobs live in the jobs table while
// queued or leased; terminal outcomes move to job_results (pruned by
// retention) and exhausted jobs additionally to the bounded dead_letters
// table.
type Queue struct {
	db        *sql.DB
	retention time.Duration
	newIDFn   func() string
}

func NewQueue(db *sql.DB, retention time.Duration) *Queue {
	return &Queue{
		db:        db,
		retention: retention,
		newIDFn:   func() string { return uuid.NewString() },
	}
}

func (q *Queue) Enqueue(ctx context.Context, recipient string, body string, policy Policy, now time.Time) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", errors.New("recipient is required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("body is required")
	}
	if policy.MaxAttempts <= 0 {
		return "", errors.New("max attempts must be positive")
	}
	if policy.BackoffBase <= 0 {
		return "", errors.New("backoff base must be positive")
	}

	jobID := q.newIDFn()
	nowMS := now.UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, recipient, body, attempt, max_attempts, backoff_base_ms,
			status, not_before_unix_ms, created_at_unix_ms, updated_at_unix_ms)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		jobID, recipient, body, policy.MaxAttempts, policy.BackoffBase.Milliseconds(),
		string(StatusQueued), nowMS, nowMS, nowMS)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// Lease claims the next due queued job. The single-writer connection pool
// makes the select-then-update pair atomic.
func (q *Queue) Lease(ctx context.Context, now time.Time) (*Job, bool, error) {
	nowMS := now.UnixMilli()
	row := q.db.QueryRowContext(ctx, `
		SELECT job_id, recipient, body, attempt, max_attempts, backoff_base_ms,
			not_before_unix_ms, last_error, created_at_unix_ms
		FROM jobs
		WHERE status = ? AND not_before_unix_ms <= ?
		ORDER BY not_before_unix_ms, created_at_unix_ms
		LIMIT 1`,
		string(StatusQueued), nowMS)

	var job Job
	var backoffMS, notBeforeMS, createdMS int64
	err := row.Scan(&job.ID, &job.Recipient, &job.Body, &job.Attempt, &job.MaxAttempts,
		&backoffMS, &notBeforeMS, &job.LastError, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lease job: %w", err)
	}
	job.BackoffBase = time.Duration(backoffMS) * time.Millisecond
	job.NotBefore = time.UnixMilli(notBeforeMS)
	job.CreatedAt = time.UnixMilli(createdMS)

	result, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at_unix_ms = ?
		WHERE job_id = ? AND status = ?`,
		string(StatusLeased), nowMS, job.ID, string(StatusQueued))
	if err != nil {
		return nil, false, fmt.Errorf("mark job leased: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, false, nil
	}
	return &job, true, nil
}

// Complete records a terminal success and removes the job from the queue.
func (q *Queue) Complete(ctx context.Context, job *Job, messageID string, now time.Time) error {
	return q.withTx(ctx, func(tx *sql.Tx) error {
		if err := q.removeJobTx(ctx, tx, job.ID); err != nil {
			return err
		}
		return q.insertResultTx(ctx, tx, job, ResultSucceeded, messageID, "", job.Attempt+1, now)
	})
}

// Retry consumes one failed attempt. While attempts remain the job is
// re-queued with exponential backoff; otherwise it is dead-lettered.
// Returns true when the job was re-queued.
func (q *Queue) Retry(ctx context.Context, job *Job, sendErr error, now time.Time) (bool, error) {
	attempt := job.Attempt + 1
	reason := "send failed"
	if sendErr != nil {
		reason = sendErr.Error()
	}

	if attempt < job.MaxAttempts {
		delay := job.BackoffBase * time.Duration(1<<(attempt-1))
		notBefore := now.Add(delay).UnixMilli()
		result, err := q.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, attempt = ?, last_error = ?,
				not_before_unix_ms = ?, updated_at_unix_ms = ?
			WHERE job_id = ?`,
			string(StatusQueued), attempt, reason, notBefore, now.UnixMilli(), job.ID)
		if err != nil {
			return false, fmt.Errorf("requeue job: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}
		if affected == 0 {
			return false, ErrJobNotFound
		}
		job.Attempt = attempt
		return true, nil
	}

	if err := q.failTerminal(ctx, job, reason, attempt, now); err != nil {
		return false, err
	}
	return false, nil
}

// FailTerminal abandons the job after the current attempt without consulting
// the retry schedule. Used when the session cannot possibly deliver.
func (q *Queue) FailTerminal(ctx context.Context, job *Job, reason string, now time.Time) error {
	return q.failTerminal(ctx, job, reason, job.Attempt+1, now)
}

func (q *Queue) failTerminal(ctx context.Context, job *Job, reason string, attempts int, now time.Time) error {
	return q.withTx(ctx, func(tx *sql.Tx) error {
		if err := q.removeJobTx(ctx, tx, job.ID); err != nil {
			return err
		}
		if err := q.insertResultTx(ctx, tx, job, ResultFailed, "", reason, attempts, now); err != nil {
			return err
		}
		return q.insertDeadLetterTx(ctx, tx, job, reason, attempts, now)
	})
}

func (q *Queue) JobSnapshot(ctx context.Context, jobID string) (Snapshot, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Snapshot{}, false, nil
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT job_id, recipient, status, attempt, max_attempts FROM jobs WHERE job_id = ?`, jobID)
	var snapshot Snapshot
	err := row.Scan(&snapshot.JobID, &snapshot.Recipient, &snapshot.Status,
		&snapshot.Attempt, &snapshot.MaxAttempts)
	if err == nil {
		return snapshot, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, fmt.Errorf("load job: %w", err)
	}

	row = q.db.QueryRowContext(ctx, `
		SELECT job_id, recipient, status, message_id, failure_reason, attempts, completed_at_unix_ms
		FROM job_results WHERE job_id = ?`, jobID)
	var completedMS int64
	err = row.Scan(&snapshot.JobID, &snapshot.Recipient, &snapshot.Status,
		&snapshot.MessageID, &snapshot.FailureReason, &snapshot.Attempt, &completedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load job result: %w", err)
	}
	completedAt := time.UnixMilli(completedMS)
	snapshot.CompletedAt = &completedAt
	return snapshot, true, nil
}

func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > deadLetterLimit {
		limit = deadLetterLimit
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, job_id, recipient, body, reason, attempts, failed_at_unix_ms
		FROM dead_letters
		ORDER BY failed_at_unix_ms DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]DeadLetter, 0, limit)
	for rows.Next() {
		var letter DeadLetter
		var failedMS int64
		if err := rows.Scan(&letter.ID, &letter.JobID, &letter.Recipient, &letter.Body,
			&letter.Reason, &letter.Attempts, &failedMS); err != nil {
			return nil, err
		}
		letter.FailedAt = time.UnixMilli(failedMS)
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// PendingCount reports jobs still waiting in the queue.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	row := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// RequeueLeasedOnStartup flips jobs that were mid-flight when the process
// died back to queued, preserving at-least-once delivery.
func (q *Queue) RequeueLeasedOnStartup(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at_unix_ms = ?
		WHERE status = ?`,
		string(StatusQueued), time.Now().UnixMilli(), string(StatusLeased))
	if err != nil {
		return 0, fmt.Errorf("requeue leased jobs: %w", err)
	}
	return result.RowsAffected()
}

func (q *Queue) PruneExpiredResults(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM job_results WHERE expires_at_unix_ms <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune job results: %w", err)
	}
	return result.RowsAffected()
}

func (q *Queue) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (q *Queue) removeJobTx(ctx context.Context, tx *sql.Tx, jobID string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *Queue) insertResultTx(ctx context.Context, tx *sql.Tx, job *Job, status ResultStatus, messageID string, reason string, attempts int, now time.Time) error {
	nowMS := now.UnixMilli()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_results (job_id, recipient, status, message_id, failure_reason,
			attempts, completed_at_unix_ms, expires_at_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Recipient, string(status), messageID, reason,
		attempts, nowMS, now.Add(q.retention).UnixMilli())
	if err != nil {
		return fmt.Errorf("record job result: %w", err)
	}
	// Retention is enforced on every terminal write, not only at startup.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM job_results WHERE expires_at_unix_ms <= ?`, nowMS); err != nil {
		return fmt.Errorf("prune job results: %w", err)
	}
	return nil
}

func (q *Queue) insertDeadLetterTx(ctx context.Context, tx *sql.Tx, job *Job, reason string, attempts int, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, job_id, recipient, body, reason, attempts, failed_at_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.newIDFn(), job.ID, job.Recipient, job.Body, reason, attempts, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	// Keep only the newest entries.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM dead_letters WHERE id NOT IN (
			SELECT id FROM dead_letters ORDER BY failed_at_unix_ms DESC, id DESC LIMIT ?
		)`, deadLetterLimit)
	if err != nil {
		return fmt.Errorf("trim dead letters: %w", err)
	}
	return nil
}
