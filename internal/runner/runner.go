package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// Runner executes exactly one claimed job end to end: load or seed state,
// drive the batch crawl loop, checkpoint on cadence, observe stop signals
// between batches, and leave a definitive terminal status behind. The
// process exit code mirrors the outcome so the supervisor's fallback path
// can reconcile a crash.
type Runner struct {
	store    StateStore
	strategy CrawlStrategy
	config   *jobs.Config
}

// New creates a runner
func New(store StateStore, strategy CrawlStrategy, config *jobs.Config) *Runner {
	if store == nil {
		panic("state store is required")
	}
	if strategy == nil {
		panic("crawl strategy is required")
	}
	if config == nil {
		config = jobs.DefaultConfig()
	}

	return &Runner{
		store:    store,
		strategy: strategy,
		config:   config,
	}
}

// Run executes the job. A nil return means a terminal status was written
// and the process should exit 0; any error means the caller must exit
// non-zero after Run has already made a best-effort failure write.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	err := r.run(ctx, jobID)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Str("job_id", jobID).Msg("Runner failed")

		// Best effort; the supervisor's exit-code path converges on the
		// same failed status if this write does not land.
		if serr := r.store.SetJobStatus(ctx, jobID, jobs.JobStatusFailed, err.Error()); serr != nil {
			log.Error().Err(serr).Str("job_id", jobID).Msg("Failed to record runner failure")
		}
	}
	return err
}

func (r *Runner) run(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != jobs.JobStatusProcessing {
		return fmt.Errorf("job %s is %s, expected processing", jobID, job.Status)
	}

	cm := NewCheckpointManager(r.store, jobID)
	resumed, err := cm.Load(ctx)
	if err != nil {
		return err
	}
	if !resumed {
		seeds, err := r.strategy.SeedURLs(ctx, job.Payload)
		if err != nil {
			return fmt.Errorf("failed to seed frontier: %w", err)
		}
		if len(seeds) == 0 {
			return fmt.Errorf("payload produced no seed URLs")
		}
		cm.Seed(seeds)
		log.Info().
			Str("job_id", jobID).
			Int("seeds", len(seeds)).
			Msg("Starting fresh crawl")
	}

	monitor := NewStatusMonitor(r.store, jobID, r.config.StatusPollInterval)
	monitor.Start(ctx)
	defer monitor.Stop()

	batchesSinceCheckpoint := 0
	lastCheckpoint := time.Now()

	for cm.FrontierLen() > 0 {
		batch := cm.DequeueBatch(r.config.CrawlBatchSize)

		results, err := r.strategy.CrawlBatch(ctx, job.Payload, batch)
		if err != nil {
			return fmt.Errorf("crawl batch failed: %w", err)
		}

		// Results map back to batch entries by URL; anything the strategy
		// did not report still counts as processed with no discoveries.
		resultLinks := make(map[string][]string, len(results))
		for _, res := range results {
			resultLinks[res.URL] = res.Links
			if res.Error != "" {
				log.Warn().
					Str("job_id", jobID).
					Str("url", res.URL).
					Str("error", res.Error).
					Msg("Page fetch failed, counted as processed")
			}
		}
		for _, entry := range batch {
			cm.RecordResult(entry, resultLinks[entry.URL])
		}
		batchesSinceCheckpoint++

		// Stop signals are only acted on here, between batches
		switch monitor.Signal() {
		case SignalPause:
			if err := cm.Checkpoint(ctx); err != nil {
				return fmt.Errorf("failed to checkpoint before pause: %w", err)
			}
			if err := r.store.SetJobStatus(ctx, jobID, jobs.JobStatusPaused, ""); err != nil {
				return fmt.Errorf("failed to mark job paused: %w", err)
			}
			log.Info().
				Str("job_id", jobID).
				Int("total_processed", cm.TotalProcessed()).
				Int("frontier", cm.FrontierLen()).
				Msg("Job paused at batch boundary")
			return nil

		case SignalCancel:
			if err := r.store.SetJobStatus(ctx, jobID, jobs.JobStatusCancelled, jobs.MsgCancelledByUser); err != nil {
				return fmt.Errorf("failed to mark job cancelled: %w", err)
			}
			log.Info().
				Str("job_id", jobID).
				Int("total_processed", cm.TotalProcessed()).
				Msg("Job cancelled at batch boundary")
			return nil
		}

		if batchesSinceCheckpoint >= r.config.CheckpointBatches || time.Since(lastCheckpoint) >= r.config.CheckpointInterval {
			if err := cm.Checkpoint(ctx); err != nil {
				return err
			}
			batchesSinceCheckpoint = 0
			lastCheckpoint = time.Now()

			// Advisory only; failures never stop the crawl
			if err := r.store.SetProgress(ctx, jobID, cm.Progress()); err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to update progress")
			}
		}
	}

	// Frontier exhausted: final checkpoint, then the terminal write
	if err := cm.Checkpoint(ctx); err != nil {
		return fmt.Errorf("failed to write final checkpoint: %w", err)
	}
	if err := r.store.SetJobStatus(ctx, jobID, jobs.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	log.Info().
		Str("job_id", jobID).
		Int("total_processed", cm.TotalProcessed()).
		Msg("Job completed")

	return nil
}
