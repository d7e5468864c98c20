package jobs

import (
	"context"
	"time"
)

// JobStore defines the persistence operations the supervisor, watchdog,
// janitor and job manager need. The PostgreSQL implementation lives in
// internal/db; tests substitute mocks.
type JobStore interface {
	Enqueue(ctx context.Context, opts *EnqueueOptions) (*Job, error)
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
	Heartbeat(ctx context.Context, jobID, workerID string) (bool, error)
	SetJobStatus(ctx context.Context, jobID string, status JobStatus, errorMessage string) error
	FailFromProcessing(ctx context.Context, jobID, message string) (bool, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*Job, error)
	CountJobsByStatus(ctx context.Context) ([]QueueDepth, error)
	LoadState(ctx context.Context, jobID string) (*CrawlState, error)
	StaleProcessingJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
	RecoverStaleJob(ctx context.Context, jobID string, threshold time.Duration) (*RecoveryResult, error)
	RequestStatus(ctx context.Context, jobID string, status JobStatus) (bool, error)
	RequeueJob(ctx context.Context, jobID string) (bool, error)
	ForceFailActiveJobs(ctx context.Context, message string) (int64, error)
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobNotifier announces terminal job outcomes. The supervisor and watchdog
// call it outside the job-state path, so implementations must never block
// status transitions on delivery.
type JobNotifier interface {
	NotifyJobComplete(ctx context.Context, job *Job)
	NotifyJobFailed(ctx context.Context, job *Job)
}
