package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/observability"
)

// Janitor deletes terminal jobs past the retention window on a cron
// schedule and refreshes the queue-depth gauges while it is at it. Crawl
// states go with their jobs via the foreign key cascade.
type Janitor struct {
	store  JobStore
	config *Config
	cron   *cron.Cron
}

// NewJanitor creates a retention janitor over the given store
func NewJanitor(store JobStore, config *Config) *Janitor {
	if store == nil {
		panic("job store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	return &Janitor{
		store:  store,
		config: config,
		cron:   cron.New(),
	}
}

// Start schedules the retention sweep. Invalid schedules disable the
// janitor rather than taking the supervisor down.
func (j *Janitor) Start(ctx context.Context) {
	_, err := j.cron.AddFunc(j.config.JanitorSchedule, func() {
		if err := j.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("Janitor sweep failed")
		}
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("schedule", j.config.JanitorSchedule).
			Msg("Invalid janitor schedule, retention sweeps disabled")
		return
	}

	j.cron.Start()
	log.Info().
		Str("schedule", j.config.JanitorSchedule).
		Dur("retention", j.config.JobRetention).
		Msg("Janitor scheduled")
}

// Stop halts the cron scheduler, waiting for a running sweep to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	log.Debug().Msg("Janitor stopped")
}

// Sweep runs one retention pass
func (j *Janitor) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-j.config.JobRetention)

	deleted, err := j.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	depths, err := j.store.CountJobsByStatus(ctx)
	if err != nil {
		return err
	}
	for _, d := range depths {
		observability.SetQueueDepth(ctx, string(d.Status), int64(d.Count))
	}

	log.Info().
		Int64("jobs_deleted", deleted).
		Time("cutoff", cutoff).
		Int("statuses", len(depths)).
		Msg("Janitor sweep complete")

	return nil
}
