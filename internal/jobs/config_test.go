package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 1*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.StaleThreshold)
	assert.Equal(t, 1*time.Hour, cfg.HardTimeout)
	assert.Equal(t, 5, cfg.MaxConcurrentJobs)
	assert.Equal(t, 10, cfg.CrawlBatchSize)
	assert.Equal(t, 5, cfg.CheckpointBatches)
	assert.Equal(t, 30*time.Second, cfg.CheckpointInterval)
	assert.Equal(t, "@hourly", cfg.JanitorSchedule)
	assert.Equal(t, DefaultMaxRetries, cfg.DefaultMaxRetries)

	// The staleness window has to dominate the heartbeat interval or a slow
	// owner gets mistaken for a crash
	assert.GreaterOrEqual(t, float64(cfg.StaleThreshold)/float64(cfg.HeartbeatInterval), 10.0)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SUPERVISOR_POLL_INTERVAL", "250ms")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("STALE_THRESHOLD", "1m")
	t.Setenv("MAX_CONCURRENT_JOBS", "12")
	t.Setenv("RUNNER_BIN", "/usr/local/bin/harrier-runner")
	t.Setenv("CRAWL_BATCH_SIZE", "25")
	t.Setenv("JANITOR_SCHEDULE", "@daily")
	t.Setenv("DEFAULT_MAX_RETRIES", "5")

	cfg := ConfigFromEnv()

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 1*time.Minute, cfg.StaleThreshold)
	assert.Equal(t, 12, cfg.MaxConcurrentJobs)
	assert.Equal(t, "/usr/local/bin/harrier-runner", cfg.RunnerBin)
	assert.Equal(t, 25, cfg.CrawlBatchSize)
	assert.Equal(t, "@daily", cfg.JanitorSchedule)
	assert.Equal(t, 5, cfg.DefaultMaxRetries)

	// Untouched values keep their defaults
	assert.Equal(t, 1*time.Hour, cfg.HardTimeout)
}

func TestConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("SUPERVISOR_POLL_INTERVAL", "soon")
	t.Setenv("MAX_CONCURRENT_JOBS", "many")

	cfg := ConfigFromEnv()

	assert.Equal(t, 1*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxConcurrentJobs)
}

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusPaused, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}
