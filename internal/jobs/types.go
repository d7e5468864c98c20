package jobs

import (
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the current status of a crawl job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusPaused     JobStatus = "paused"
)

// IsTerminal reports whether a job in this status has finished for good.
// Paused jobs are suspended, not terminal; a failed job below its retry
// budget can still be requeued by the watchdog.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Error messages written to error_message. These strings surface directly in
// operator tooling and the UI, so they are fixed here rather than composed
// at call sites.
const (
	MsgRecoveredByWatchdog = "Recovered from crash by Watchdog"
	MsgExceededMaxRetries  = "Job crashed and exceeded max retries"
	MsgHardTimeout         = "Hard timeout exceeded"
	MsgForceCancelled      = "Force cancelled by system cleanup"
	MsgCancelledByUser     = "Cancelled by user request"
)

// DefaultMaxRetries is the retry budget applied when a job is enqueued
// without an explicit one.
const DefaultMaxRetries = 3

// NotifyChannel is the pg_notify channel used to wake idle supervisors when
// work becomes claimable.
const NotifyChannel = "harrier_jobs"

var (
	// ErrNoJobs indicates an empty queue, not a failure. Pollers back off.
	ErrNoJobs = errors.New("no pending jobs available")

	// ErrJobNotFound indicates the referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")
)

// Job is one persisted unit of crawl work. The payload is opaque to the
// queue; only the crawl strategy reads it.
type Job struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	Status        JobStatus       `json:"status"`
	WorkerID      string          `json:"worker_id,omitempty"`
	Progress      float64         `json:"progress_percentage"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	SourceID      string          `json:"source_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	CompletedAt   time.Time       `json:"completed_at,omitempty"`
	LastHeartbeat time.Time       `json:"last_heartbeat,omitempty"`
}

// FrontierEntry is one URL awaiting visitation. Order within the frontier is
// significant: the runner dequeues from the front and appends discoveries to
// the back, giving breadth-first traversal.
type FrontierEntry struct {
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	Parent string `json:"parent,omitempty"`
}

// CrawlState is the persisted checkpoint for a job, exactly one row per job.
// TotalPending always equals len(Frontier) at a checkpoint boundary; between
// checkpoints it is advisory only.
type CrawlState struct {
	JobID          string          `json:"job_id"`
	Frontier       []FrontierEntry `json:"frontier"`
	VisitedURLs    []string        `json:"visited_urls"`
	TotalProcessed int             `json:"total_processed"`
	TotalPending   int             `json:"total_pending"`
	CurrentDepth   int             `json:"current_depth"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EnqueueOptions describes a job to be inserted as pending.
type EnqueueOptions struct {
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	MaxRetries int             `json:"max_retries"`
	SourceID   string          `json:"source_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
}

// RecoveryResult reports what the watchdog did to one stale job.
type RecoveryResult struct {
	JobID      string
	Status     JobStatus
	RetryCount int
}

// QueueDepth is a per-status job count used for display and gauges.
type QueueDepth struct {
	Status JobStatus
	Count  int
}
