package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// JobManager is the surface the external API and the admin tools call.
// External writers may only insert pending jobs, request pause/cancel, and
// re-arm suspended jobs; everything else is read-only. The queue's own
// components act on the values these calls write.
type JobManager struct {
	store JobStore
}

// NewJobManager creates a job manager backed by the given store
func NewJobManager(store JobStore) *JobManager {
	if store == nil {
		panic("job store is required")
	}
	return &JobManager{store: store}
}

// JobWithState combines a job row with its checkpoint aggregates for display.
type JobWithState struct {
	Job            *Job    `json:"job"`
	TotalProcessed int     `json:"total_processed"`
	TotalPending   int     `json:"total_pending"`
	CurrentDepth   int     `json:"current_depth"`
	Progress       float64 `json:"progress"`
	HasState       bool    `json:"has_state"`
}

// EnqueueJob validates and inserts a new pending job. The payload must be
// valid JSON; its schema belongs to the crawl strategy and is not inspected
// here beyond well-formedness.
func (jm *JobManager) EnqueueJob(ctx context.Context, opts *EnqueueOptions) (*Job, error) {
	span := sentry.StartSpan(ctx, "manager.enqueue_job")
	defer span.Finish()

	if opts == nil {
		return nil, fmt.Errorf("enqueue options are required")
	}
	if len(opts.Payload) == 0 {
		return nil, fmt.Errorf("job payload is required")
	}
	if !json.Valid(opts.Payload) {
		return nil, fmt.Errorf("job payload is not valid JSON")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}

	job, err := jm.store.Enqueue(ctx, opts)
	if err != nil {
		span.SetTag("error", "true")
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	span.SetData("job_id", job.ID)
	log.Info().
		Str("job_id", job.ID).
		Int("priority", job.Priority).
		Int("max_retries", job.MaxRetries).
		Msg("Job enqueued")

	return job, nil
}

// RequestPause asks the owning runner to pause at its next batch boundary.
// Pending jobs pause immediately; terminal jobs reject the request.
func (jm *JobManager) RequestPause(ctx context.Context, jobID string) (bool, error) {
	span := sentry.StartSpan(ctx, "manager.request_pause")
	defer span.Finish()
	span.SetData("job_id", jobID)

	requested, err := jm.store.RequestStatus(ctx, jobID, JobStatusPaused)
	if err != nil {
		return false, err
	}

	if requested {
		log.Info().Str("job_id", jobID).Msg("Pause requested")
	} else {
		log.Debug().Str("job_id", jobID).Msg("Pause request rejected, job not pausable")
	}

	return requested, nil
}

// RequestCancel asks the owning runner to cancel at its next batch boundary.
// Jobs without a live runner are cancelled immediately.
func (jm *JobManager) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	span := sentry.StartSpan(ctx, "manager.request_cancel")
	defer span.Finish()
	span.SetData("job_id", jobID)

	requested, err := jm.store.RequestStatus(ctx, jobID, JobStatusCancelled)
	if err != nil {
		return false, err
	}

	if requested {
		log.Info().Str("job_id", jobID).Msg("Cancel requested")
	}

	return requested, nil
}

// RequeueJob re-arms a paused, cancelled or failed job back to pending. The
// crawl state is kept, so the next runner resumes instead of restarting.
func (jm *JobManager) RequeueJob(ctx context.Context, jobID string) (bool, error) {
	span := sentry.StartSpan(ctx, "manager.requeue_job")
	defer span.Finish()
	span.SetData("job_id", jobID)

	requeued, err := jm.store.RequeueJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	if requeued {
		log.Info().Str("job_id", jobID).Msg("Job requeued")
	}

	return requeued, nil
}

// GetJob returns a job together with its checkpoint aggregates. Progress is
// derived from processed/(processed+pending) when a checkpoint exists,
// falling back to the advisory column otherwise.
func (jm *JobManager) GetJob(ctx context.Context, jobID string) (*JobWithState, error) {
	job, err := jm.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	result := &JobWithState{
		Job:      job,
		Progress: job.Progress,
	}

	state, err := jm.store.LoadState(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for job %s: %w", jobID, err)
	}
	if state != nil {
		result.HasState = true
		result.TotalProcessed = state.TotalProcessed
		result.TotalPending = state.TotalPending
		result.CurrentDepth = state.CurrentDepth
		if total := state.TotalProcessed + state.TotalPending; total > 0 {
			result.Progress = float64(state.TotalProcessed) / float64(total) * 100
		}
	}

	return result, nil
}

// ListJobs returns jobs filtered to the given statuses, newest first
func (jm *JobManager) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	return jm.store.ListJobsByStatus(ctx, statuses...)
}

// QueueDepths returns the per-status job counts
func (jm *JobManager) QueueDepths(ctx context.Context) ([]QueueDepth, error) {
	return jm.store.CountJobsByStatus(ctx)
}
