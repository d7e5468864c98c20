package runner

import (
	"context"
	"encoding/json"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// StateStore is the slice of the job store a runner needs: read its own job,
// write its terminal status, and persist checkpoints. Heartbeats are
// deliberately absent; the supervisor owns those.
type StateStore interface {
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (jobs.JobStatus, error)
	SetJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMessage string) error
	SetProgress(ctx context.Context, jobID string, pct float64) error
	LoadState(ctx context.Context, jobID string) (*jobs.CrawlState, error)
	SaveCheckpoint(ctx context.Context, state *jobs.CrawlState) error
}

// PageResult is the outcome of crawling one frontier entry. A fetch failure
// is a result with Error set, never a batch failure; failed URLs still count
// as processed so the crawl cannot loop on them.
type PageResult struct {
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	StatusCode int      `json:"status_code"`
	Error      string   `json:"error,omitempty"`
	Links      []string `json:"links,omitempty"`
}

// CrawlStrategy executes the actual crawling. The queue core treats it as
// opaque: it owns the payload schema and decides which discovered links are
// worth following. The bundled implementation lives in internal/crawler.
type CrawlStrategy interface {
	// SeedURLs derives the initial frontier from a job payload.
	SeedURLs(ctx context.Context, payload json.RawMessage) ([]string, error)
	// CrawlBatch fetches a batch of frontier entries and returns one result
	// per entry, with discovered links the strategy wants followed.
	CrawlBatch(ctx context.Context, payload json.RawMessage, batch []jobs.FrontierEntry) ([]PageResult, error)
}
