package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/crawler"
	"github.com/opsforge-io/harrier/internal/db"
	"github.com/opsforge-io/harrier/internal/jobs"
	"github.com/opsforge-io/harrier/internal/runner"
)

// The runner executes exactly one job and exits. Exit 0 means the job
// reached a terminal or paused status written by this process; anything else
// tells the supervisor to reconcile the row as a crash.
func main() {
	godotenv.Load(".env.local", ".env")

	jobID := flag.String("job", "", "ID of the job to execute")
	flag.Parse()

	setupLogging(*jobID)

	if *jobID == "" {
		log.Error().Msg("Missing required -job flag")
		os.Exit(2)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      getEnvWithDefault("APP_ENV", "development"),
			TracesSampleRate: 0.1,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	pgDB, err := db.InitFromEnvWithRetry(ctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to connect to PostgreSQL database")
		os.Exit(1)
	}
	defer pgDB.Close()

	store := db.NewJobStore(pgDB.GetDB())
	strategy := crawler.New(crawler.DefaultConfig())

	r := runner.New(store, strategy, jobs.ConfigFromEnv())

	if err := r.Run(ctx, *jobID); err != nil {
		log.Error().Err(err).Str("job_id", *jobID).Msg("Job execution failed")
		os.Exit(1)
	}
}

func setupLogging(jobID string) {
	level, err := zerolog.ParseLevel(getEnvWithDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Runner logs go to stderr; the supervisor keeps the tail for the
	// crash error message.
	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("service", "harrier-runner").
		Str("job_id", jobID).
		Logger()
}

func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
