package jobs

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the queue engine tunables shared by the supervisor, watchdog
// and runner processes.
type Config struct {
	PollInterval      time.Duration // Supervisor claim frequency
	HeartbeatInterval time.Duration // Liveness write frequency while a runner is alive
	StaleThreshold    time.Duration // Heartbeat age after which a job is presumed abandoned
	WatchdogInterval  time.Duration // Stale-job scan frequency
	HardTimeout       time.Duration // Wall-clock limit before a runner is killed
	MaxConcurrentJobs int           // Runner subprocesses per supervisor
	RunnerBin         string        // Path to the runner binary

	CrawlBatchSize     int           // Frontier entries handed to the strategy per batch
	CheckpointBatches  int           // Checkpoint every N batches
	CheckpointInterval time.Duration // ... or when this much time has passed
	StatusPollInterval time.Duration // Runner's status re-read frequency

	JobRetention    time.Duration // Janitor keeps terminal jobs this long
	JanitorSchedule string        // Cron expression for retention sweeps

	DefaultMaxRetries int // Retry budget applied when enqueue omits one
}

// DefaultConfig returns the standard intervals. The stale threshold is twelve
// heartbeats; anything under ten risks the watchdog reclaiming a job whose
// owner is merely slow.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       1 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleThreshold:     2 * time.Minute,
		WatchdogInterval:   1 * time.Minute,
		HardTimeout:        1 * time.Hour,
		MaxConcurrentJobs:  5,
		RunnerBin:          "./runner",
		CrawlBatchSize:     10,
		CheckpointBatches:  5,
		CheckpointInterval: 30 * time.Second,
		StatusPollInterval: 2 * time.Second,
		JobRetention:       720 * time.Hour,
		JanitorSchedule:    "@hourly",
		DefaultMaxRetries:  DefaultMaxRetries,
	}
}

// ConfigFromEnv returns DefaultConfig overlaid with any environment
// overrides.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	cfg.PollInterval = getEnvDuration("SUPERVISOR_POLL_INTERVAL", cfg.PollInterval)
	cfg.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.StaleThreshold = getEnvDuration("STALE_THRESHOLD", cfg.StaleThreshold)
	cfg.WatchdogInterval = getEnvDuration("WATCHDOG_INTERVAL", cfg.WatchdogInterval)
	cfg.HardTimeout = getEnvDuration("HARD_TIMEOUT", cfg.HardTimeout)
	cfg.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", cfg.MaxConcurrentJobs)
	cfg.RunnerBin = getEnvWithDefault("RUNNER_BIN", cfg.RunnerBin)
	cfg.CrawlBatchSize = getEnvInt("CRAWL_BATCH_SIZE", cfg.CrawlBatchSize)
	cfg.CheckpointBatches = getEnvInt("CHECKPOINT_BATCHES", cfg.CheckpointBatches)
	cfg.CheckpointInterval = getEnvDuration("CHECKPOINT_INTERVAL", cfg.CheckpointInterval)
	cfg.StatusPollInterval = getEnvDuration("STATUS_POLL_INTERVAL", cfg.StatusPollInterval)
	cfg.JobRetention = getEnvDuration("JOB_RETENTION", cfg.JobRetention)
	cfg.JanitorSchedule = getEnvWithDefault("JANITOR_SCHEDULE", cfg.JanitorSchedule)
	cfg.DefaultMaxRetries = getEnvInt("DEFAULT_MAX_RETRIES", cfg.DefaultMaxRetries)

	cfg.warnOnRiskyIntervals()
	return cfg
}

// warnOnRiskyIntervals flags combinations that undermine crash detection.
// The staleness window must exceed the heartbeat interval by a wide margin
// (at least 10x) or a slow-but-alive owner can be mistaken for a crash.
func (c *Config) warnOnRiskyIntervals() {
	if c.HeartbeatInterval <= 0 || c.StaleThreshold <= 0 {
		log.Warn().
			Dur("heartbeat_interval", c.HeartbeatInterval).
			Dur("stale_threshold", c.StaleThreshold).
			Msg("Heartbeat or staleness interval is non-positive, crash detection disabled")
		return
	}

	ratio := float64(c.StaleThreshold) / float64(c.HeartbeatInterval)
	if ratio < 10 {
		log.Warn().
			Dur("heartbeat_interval", c.HeartbeatInterval).
			Dur("stale_threshold", c.StaleThreshold).
			Float64("ratio", ratio).
			Msg("Stale threshold is under 10x the heartbeat interval, risking false crash detection")
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
	}
	return defaultValue
}
