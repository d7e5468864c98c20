package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/db"
	"github.com/opsforge-io/harrier/internal/jobs"
	"github.com/opsforge-io/harrier/internal/notifications"
	"github.com/opsforge-io/harrier/internal/observability"
)

// Config holds the supervisor daemon configuration loaded from environment variables
type Config struct {
	Port                 string // HTTP port for health and metrics
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	SlackWebhookURL      string // Optional Slack webhook for job outcome notifications
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		SlackWebhookURL:      os.Getenv("SLACK_WEBHOOK_URL"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "false") == "true",
		OTLPEndpoint:         os.Getenv("OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTLP_INSECURE", "false") == "true",
	}

	setupLogging(config)

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var obsProviders *observability.Providers

	if config.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:      true,
			ServiceName:  "harrier-supervisor",
			Environment:  config.Env,
			OTLPEndpoint: strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:  parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure: config.OTLPInsecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()
		}
	}

	// Connect to PostgreSQL, retrying while the database comes up
	pgDB, err := db.InitFromEnvWithRetry(context.Background())
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	store := db.NewJobStore(pgDB.GetDB())
	queueConfig := jobs.ConfigFromEnv()

	// Job outcome notifications - no channels means every send is a no-op
	notifier := notifications.NewService()
	if config.SlackWebhookURL != "" {
		notifier.AddChannel(notifications.NewSlackWebhookChannel(config.SlackWebhookURL))
		log.Info().Msg("Slack notifications enabled")
	}

	launcher := &jobs.ExecLauncher{Bin: queueConfig.RunnerBin}

	supervisor := jobs.NewSupervisor(store, launcher, queueConfig)
	supervisor.SetNotifier(notifier)
	supervisor.SetListenConnStr(pgDB.GetConfig().ConnectionString())

	watchdog := jobs.NewWatchdog(store, queueConfig)
	watchdog.SetNotifier(notifier)

	janitor := jobs.NewJanitor(store, queueConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor.Start(ctx)
	defer supervisor.Stop()

	watchdog.Start(ctx)
	defer watchdog.Stop()

	janitor.Start(ctx)
	defer janitor.Stop()

	// Health and metrics surface
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pgDB.GetDB().PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","worker_id":%q}`, supervisor.WorkerID())
	})
	if obsProviders != nil && obsProviders.MetricsHandler != nil {
		mux.Handle("/metrics", obsProviders.MetricsHandler)
	}

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           observability.WrapHandler(mux, obsProviders),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for termination signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down supervisor...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().
		Str("port", config.Port).
		Str("worker_id", supervisor.WorkerID()).
		Msg("Supervisor ready")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done // Wait for the shutdown process to complete
	log.Info().Msg("Supervisor stopped")
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "harrier-supervisor").
			Logger()
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}
