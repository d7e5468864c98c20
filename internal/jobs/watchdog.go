package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/observability"
)

// Watchdog scans for processing jobs whose heartbeat has gone stale and
// either requeues them or permanently fails them once the retry budget is
// spent. It runs inside any supervisor process and needs no coordination
// with the others: the guarded recovery update in the store makes
// concurrent sweeps converge on one outcome per job.
type Watchdog struct {
	store    JobStore
	notifier JobNotifier
	config   *Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatchdog creates a watchdog over the given store
func NewWatchdog(store JobStore, config *Config) *Watchdog {
	if store == nil {
		panic("job store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	return &Watchdog{
		store:  store,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// SetNotifier wires a terminal-outcome notifier. Optional.
func (w *Watchdog) SetNotifier(n JobNotifier) {
	w.notifier = n
}

// Start launches the periodic sweep loop
func (w *Watchdog) Start(ctx context.Context) {
	log.Info().
		Dur("interval", w.config.WatchdogInterval).
		Dur("stale_threshold", w.config.StaleThreshold).
		Msg("Starting watchdog")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.config.WatchdogInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Sweep(ctx); err != nil {
					sentry.CaptureException(err)
					log.Error().Err(err).Msg("Watchdog sweep failed")
				}
			}
		}
	}()
}

// Stop terminates the sweep loop
func (w *Watchdog) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	log.Debug().Msg("Watchdog stopped")
}

// Sweep runs one stale-job scan. Each candidate goes through the store's
// guarded recovery, so a job whose owner heartbeated between the scan and
// the update is left alone.
func (w *Watchdog) Sweep(ctx context.Context) error {
	span := sentry.StartSpan(ctx, "watchdog.sweep")
	defer span.Finish()

	stale, err := w.store.StaleProcessingJobs(ctx, w.config.StaleThreshold)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	log.Warn().
		Int("count", len(stale)).
		Dur("stale_threshold", w.config.StaleThreshold).
		Msg("Found jobs with stale heartbeats")

	for _, job := range stale {
		result, err := w.store.RecoverStaleJob(ctx, job.ID, w.config.StaleThreshold)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to recover stale job")
			continue
		}
		if result == nil {
			// Owner heartbeated between scan and recovery
			log.Debug().Str("job_id", job.ID).Msg("Job no longer stale, skipping recovery")
			continue
		}

		switch result.Status {
		case JobStatusPending:
			observability.RecordWatchdogRecovery(ctx, "requeued")
			log.Warn().
				Str("job_id", job.ID).
				Str("lost_worker_id", job.WorkerID).
				Int("retry_count", result.RetryCount).
				Int("max_retries", job.MaxRetries).
				Msg("Recovered crashed job, requeued for retry")

		case JobStatusFailed:
			observability.RecordWatchdogRecovery(ctx, "failed")
			log.Error().
				Str("job_id", job.ID).
				Str("lost_worker_id", job.WorkerID).
				Int("retry_count", result.RetryCount).
				Msg("Crashed job exceeded max retries, permanently failed")

			if w.notifier != nil {
				failed, err := w.store.GetJob(ctx, job.ID)
				if err != nil {
					log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to read back failed job for notification")
					continue
				}
				w.notifier.NotifyJobFailed(ctx, failed)
			}
		}
	}

	return nil
}
