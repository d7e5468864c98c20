package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// Sentinel errors shared with the packages that consume the store. They live
// in the jobs package so consumers can match them without importing db.
var (
	ErrNoJobs      = jobs.ErrNoJobs
	ErrJobNotFound = jobs.ErrJobNotFound
)

// JobStore is the PostgreSQL implementation of the job queue. All mutual
// exclusion between supervisors happens here, through row-level locking and
// guarded updates; nothing above this layer takes locks.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a PostgreSQL job store
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{
		db: db,
	}
}

// Execute runs a database operation in a transaction
func (s *JobStore) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	// Begin transaction
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Run the operation
	if err := fn(tx); err != nil {
		return err
	}

	// Commit the transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const jobColumns = `id, payload, priority, status, worker_id, progress_percentage,
		retry_count, max_retries, error_message, source_id, user_id,
		created_at, started_at, completed_at, last_heartbeat`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob reads a full crawl_jobs row in jobColumns order
func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	var payload []byte
	var workerID, errorMessage, sourceID, userID sql.NullString
	var startedAt, completedAt, lastHeartbeat sql.NullTime

	err := row.Scan(
		&job.ID, &payload, &job.Priority, &job.Status, &workerID, &job.Progress,
		&job.RetryCount, &job.MaxRetries, &errorMessage, &sourceID, &userID,
		&job.CreatedAt, &startedAt, &completedAt, &lastHeartbeat,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	job.WorkerID = workerID.String
	job.ErrorMessage = errorMessage.String
	job.SourceID = sourceID.String
	job.UserID = userID.String
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	if lastHeartbeat.Valid {
		job.LastHeartbeat = lastHeartbeat.Time
	}

	return &job, nil
}

// Enqueue inserts a new pending job and notifies listening supervisors.
// Priority defaults to 0 and max retries to the package default when unset.
func (s *JobStore) Enqueue(ctx context.Context, opts *jobs.EnqueueOptions) (*jobs.Job, error) {
	if opts == nil || len(opts.Payload) == 0 {
		return nil, fmt.Errorf("job payload is required")
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = jobs.DefaultMaxRetries
	}

	job := &jobs.Job{
		ID:         uuid.New().String(),
		Payload:    opts.Payload,
		Priority:   opts.Priority,
		Status:     jobs.JobStatusPending,
		MaxRetries: maxRetries,
		SourceID:   opts.SourceID,
		UserID:     opts.UserID,
		CreatedAt:  time.Now(),
	}

	err := s.Execute(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO crawl_jobs (
				id, payload, priority, status, retry_count, max_retries,
				source_id, user_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		`, job.ID, string(job.Payload), job.Priority, string(job.Status), 0,
			job.MaxRetries, job.SourceID, job.UserID, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		// Wake idle supervisors so dispatch does not wait out a poll sleep
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, jobs.NotifyChannel, job.ID); err != nil {
			return fmt.Errorf("failed to notify job listeners: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// ClaimNext claims the highest-priority oldest pending job for workerID.
// The SELECT and the transition to processing run in one transaction with
// FOR UPDATE SKIP LOCKED, so concurrent claimants never receive the same
// row and never block each other. Returns ErrNoJobs when the queue is empty.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*jobs.Job, error) {
	span := sentry.StartSpan(ctx, "store.claim_next")
	defer span.Finish()

	var job *jobs.Job

	err := s.Execute(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+`
			FROM crawl_jobs
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`)

		claimed, err := scanJob(row)
		if err == sql.ErrNoRows {
			return ErrNoJobs
		}
		if err != nil {
			return fmt.Errorf("failed to query pending job: %w", err)
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = 'processing', worker_id = $1, started_at = $2, last_heartbeat = $2
			WHERE id = $3
		`, workerID, now, claimed.ID)
		if err != nil {
			return fmt.Errorf("failed to mark job processing: %w", err)
		}

		claimed.Status = jobs.JobStatusProcessing
		claimed.WorkerID = workerID
		claimed.StartedAt = now
		claimed.LastHeartbeat = now
		job = claimed

		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoJobs) {
			span.SetTag("error", "true")
			span.SetData("error.message", err.Error())
		}
		return nil, err
	}

	span.SetData("job_id", job.ID)
	return job, nil
}

// Heartbeat refreshes the liveness timestamp for a job this worker owns.
// Returns owned=false without error when the row no longer matches, which
// means the watchdog or an operator has taken the job away and the caller
// must stop heartbeating.
func (s *JobStore) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET last_heartbeat = NOW()
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read heartbeat result: %w", err)
	}

	return rows == 1, nil
}

// SetJobStatus performs a status transition with the bookkeeping each status
// implies. Terminal statuses stamp completed_at and release the worker; an
// empty errorMessage never clears a message already on the row.
func (s *JobStore) SetJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMessage string) error {
	var err error

	switch status {
	case jobs.JobStatusCompleted:
		_, err = s.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = $1, progress_percentage = 100, completed_at = NOW(), worker_id = NULL
			WHERE id = $2
		`, string(status), jobID)

	case jobs.JobStatusFailed, jobs.JobStatusCancelled:
		_, err = s.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = $1,
				error_message = COALESCE(NULLIF($2, ''), error_message),
				completed_at = NOW(),
				worker_id = NULL
			WHERE id = $3
		`, string(status), errorMessage, jobID)

	case jobs.JobStatusPaused, jobs.JobStatusPending:
		_, err = s.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = $1, worker_id = NULL
			WHERE id = $2
		`, string(status), jobID)

	default:
		_, err = s.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = $1
			WHERE id = $2
		`, string(status), jobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return nil
}

// FailFromProcessing marks a job failed only while it is still processing.
// The supervisor uses it after a runner dies or exceeds the hard timeout; a
// terminal status the runner managed to write first wins the race, in which
// case failed=false comes back and nothing was changed.
func (s *JobStore) FailFromProcessing(ctx context.Context, jobID, message string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = 'failed', error_message = $2, completed_at = NOW(), worker_id = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID, message)
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read failure result: %w", err)
	}

	return rows == 1, nil
}

// SetProgress writes the advisory progress percentage. Best effort.
func (s *JobStore) SetProgress(ctx context.Context, jobID string, pct float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET progress_percentage = $2
		WHERE id = $1
	`, jobID, pct)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// GetJob fetches a single job by id
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM crawl_jobs
		WHERE id = $1
	`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	return job, nil
}

// GetJobStatus reads only the status column. The status monitor polls this
// every couple of seconds, so it stays a single-column lookup.
func (s *JobStore) GetJobStatus(ctx context.Context, jobID string) (jobs.JobStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM crawl_jobs WHERE id = $1
	`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}

	return jobs.JobStatus(status), nil
}

// ListJobsByStatus returns jobs filtered to the given statuses, newest first.
// No statuses means no filter.
func (s *JobStore) ListJobsByStatus(ctx context.Context, statuses ...jobs.JobStatus) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs`

	args := []interface{}{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var result []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}

	return result, nil
}

// CountJobsByStatus returns the queue depth per status
func (s *JobStore) CountJobsByStatus(ctx context.Context) ([]jobs.QueueDepth, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM crawl_jobs
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	var depths []jobs.QueueDepth
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		depths = append(depths, jobs.QueueDepth{Status: jobs.JobStatus(status), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue depths: %w", err)
	}

	return depths, nil
}

// LoadState fetches the persisted crawl state for a job, or nil when the
// job has never checkpointed.
func (s *JobStore) LoadState(ctx context.Context, jobID string) (*jobs.CrawlState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, frontier, visited_urls, total_processed, total_pending, current_depth, updated_at
		FROM crawl_states
		WHERE job_id = $1
	`, jobID)

	var state jobs.CrawlState
	var frontier, visited []byte
	err := row.Scan(&state.JobID, &frontier, &visited,
		&state.TotalProcessed, &state.TotalPending, &state.CurrentDepth, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl state: %w", err)
	}

	if err := json.Unmarshal(frontier, &state.Frontier); err != nil {
		return nil, fmt.Errorf("failed to decode frontier: %w", err)
	}
	if err := json.Unmarshal(visited, &state.VisitedURLs); err != nil {
		return nil, fmt.Errorf("failed to decode visited urls: %w", err)
	}

	return &state, nil
}

// SaveCheckpoint upserts the crawl state for a job. total_pending is always
// derived from the frontier length here rather than trusted from the caller,
// so the two can never drift in the stored row.
func (s *JobStore) SaveCheckpoint(ctx context.Context, state *jobs.CrawlState) error {
	if state == nil || state.JobID == "" {
		return fmt.Errorf("checkpoint requires a job id")
	}

	frontier := state.Frontier
	if frontier == nil {
		frontier = []jobs.FrontierEntry{}
	}
	visited := state.VisitedURLs
	if visited == nil {
		visited = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_states (
			job_id, frontier, visited_urls, total_processed, total_pending, current_depth, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			frontier = EXCLUDED.frontier,
			visited_urls = EXCLUDED.visited_urls,
			total_processed = EXCLUDED.total_processed,
			total_pending = EXCLUDED.total_pending,
			current_depth = EXCLUDED.current_depth,
			updated_at = NOW()
	`, state.JobID, Serialise(frontier), Serialise(visited),
		state.TotalProcessed, len(frontier), state.CurrentDepth)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// StaleProcessingJobs returns processing jobs whose heartbeat is older than
// the threshold. Candidates only; RecoverStaleJob re-checks staleness before
// touching each row.
func (s *JobStore) StaleProcessingJobs(ctx context.Context, threshold time.Duration) ([]*jobs.Job, error) {
	cutoff := time.Now().Add(-threshold)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM crawl_jobs
		WHERE status = 'processing' AND last_heartbeat < $1
		ORDER BY last_heartbeat ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}
	defer rows.Close()

	var stale []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale job: %w", err)
		}
		stale = append(stale, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale jobs: %w", err)
	}

	return stale, nil
}

// RecoverStaleJob requeues a crashed job, or permanently fails it once the
// retry budget is spent. One guarded UPDATE: the staleness predicate re-runs
// inside the statement, so an owner whose heartbeat arrived after the scan
// keeps its job and nil comes back. The retry comparison reads the row's
// values before any assignment, which is why a permanently failed job always
// shows retry_count equal to max_retries.
func (s *JobStore) RecoverStaleJob(ctx context.Context, jobID string, threshold time.Duration) (*jobs.RecoveryResult, error) {
	span := sentry.StartSpan(ctx, "store.recover_stale_job")
	defer span.Finish()
	span.SetData("job_id", jobID)

	cutoff := time.Now().Add(-threshold)

	result := &jobs.RecoveryResult{JobID: jobID}
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE crawl_jobs
		SET status = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
			worker_id = NULL,
			retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			error_message = CASE WHEN retry_count < max_retries THEN $3 ELSE $4 END,
			completed_at = CASE WHEN retry_count < max_retries THEN completed_at ELSE NOW() END
		WHERE id = $1 AND status = 'processing' AND last_heartbeat < $2
		RETURNING status, retry_count
	`, jobID, cutoff, jobs.MsgRecoveredByWatchdog, jobs.MsgExceededMaxRetries).Scan(&status, &result.RetryCount)
	if err == sql.ErrNoRows {
		// The owner came back between scan and recovery. Leave it alone.
		return nil, nil
	}
	if err != nil {
		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())
		return nil, fmt.Errorf("failed to recover job %s: %w", jobID, err)
	}

	result.Status = jobs.JobStatus(status)
	return result, nil
}

// RequestStatus records an external pause or cancel request by writing the
// status column directly; the owning runner observes the value at its next
// batch boundary. Terminal rows are never overwritten. Returns requested=false
// when the job was not in a state that accepts the request.
func (s *JobStore) RequestStatus(ctx context.Context, jobID string, status jobs.JobStatus) (bool, error) {
	var result sql.Result
	var err error

	switch status {
	case jobs.JobStatusPaused:
		result, err = s.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = 'paused', worker_id = NULL
			WHERE id = $1 AND status IN ('pending', 'processing')
		`, jobID)

	case jobs.JobStatusCancelled:
		result, err = s.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = 'cancelled', error_message = $2, completed_at = NOW(), worker_id = NULL
			WHERE id = $1 AND status IN ('pending', 'processing', 'paused')
		`, jobID, jobs.MsgCancelledByUser)

	default:
		return false, fmt.Errorf("status %s cannot be requested", status)
	}

	if err != nil {
		return false, fmt.Errorf("failed to request %s for job %s: %w", status, jobID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read request result: %w", err)
	}

	return rows == 1, nil
}

// RequeueJob re-arms a paused, cancelled or failed job back to pending with a
// fresh retry budget, keeping its crawl state so the next runner resumes
// where the last one stopped. Notifies supervisors like a fresh enqueue.
func (s *JobStore) RequeueJob(ctx context.Context, jobID string) (bool, error) {
	var requeued bool

	err := s.Execute(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = 'pending', worker_id = NULL, error_message = NULL,
				progress_percentage = 0, retry_count = 0, completed_at = NULL
			WHERE id = $1 AND status IN ('paused', 'cancelled', 'failed')
		`, jobID)
		if err != nil {
			return fmt.Errorf("failed to requeue job %s: %w", jobID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read requeue result: %w", err)
		}
		requeued = rows == 1

		if requeued {
			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, jobs.NotifyChannel, jobID); err != nil {
				return fmt.Errorf("failed to notify job listeners: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return requeued, nil
}

// ForceFailActiveJobs fails every pending and processing job with the given
// message. This is the cleanup tool's reset switch, not part of normal
// operation.
func (s *JobStore) ForceFailActiveJobs(ctx context.Context, message string) (int64, error) {
	span := sentry.StartSpan(ctx, "store.force_fail_active_jobs")
	defer span.Finish()

	result, err := s.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = 'failed', error_message = $1, completed_at = NOW(), worker_id = NULL
		WHERE status IN ('pending', 'processing')
	`, message)
	if err != nil {
		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())
		return 0, fmt.Errorf("failed to force fail active jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read force fail result: %w", err)
	}

	if rows > 0 {
		log.Info().
			Int64("jobs_failed", rows).
			Msg("Force failed active jobs")
	}

	return rows, nil
}

// DeleteTerminalJobsBefore removes terminal jobs completed before the cutoff.
// Crawl states go with them via the foreign key cascade.
func (s *JobStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM crawl_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at IS NOT NULL
		AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}

	if rows > 0 {
		log.Info().
			Int64("jobs_deleted", rows).
			Time("cutoff", cutoff).
			Msg("Deleted old terminal jobs")
	}

	return rows, nil
}
