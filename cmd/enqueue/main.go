package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/crawler"
	"github.com/opsforge-io/harrier/internal/db"
	"github.com/opsforge-io/harrier/internal/jobs"
)

// enqueue creates one crawl job and optionally watches it until it settles.
//
// Usage:
//
//	enqueue -url https://example.com [-depth 3] [-sitemap] [-priority 1] [-watch]
//	enqueue -payload '{"url":"https://example.com","max_depth":2}' [-watch]
func main() {
	godotenv.Load(".env.local", ".env")
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	queueConfig := jobs.ConfigFromEnv()

	url := flag.String("url", "", "Entry URL to crawl (builds a default payload)")
	payload := flag.String("payload", "", "Raw JSON payload (overrides -url)")
	depth := flag.Int("depth", 3, "Maximum crawl depth when building from -url")
	sitemap := flag.Bool("sitemap", false, "Seed the frontier from the site's sitemap.xml")
	priority := flag.Int("priority", 0, "Job priority, higher claims first")
	maxRetries := flag.Int("max-retries", queueConfig.DefaultMaxRetries, "Crash retry budget")
	sourceID := flag.String("source", "", "Logical crawl source reference")
	userID := flag.String("user", "", "Ownership reference")
	watch := flag.Bool("watch", false, "Poll the job until it reaches a terminal state")
	flag.Parse()

	raw, err := buildPayload(*payload, *url, *depth, *sitemap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()

	pgDB, err := db.InitFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to connect to database:", err)
		os.Exit(1)
	}
	defer pgDB.Close()

	manager := jobs.NewJobManager(db.NewJobStore(pgDB.GetDB()))

	job, err := manager.EnqueueJob(ctx, &jobs.EnqueueOptions{
		Payload:    raw,
		Priority:   *priority,
		MaxRetries: *maxRetries,
		SourceID:   *sourceID,
		UserID:     *userID,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to enqueue job:", err)
		os.Exit(1)
	}

	fmt.Printf("Enqueued job %s (priority %d)\n", job.ID, job.Priority)

	if !*watch {
		return
	}

	if err := watchJob(ctx, manager, job.ID); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildPayload(rawPayload, url string, depth int, sitemap bool) (json.RawMessage, error) {
	if rawPayload != "" {
		if !json.Valid([]byte(rawPayload)) {
			return nil, fmt.Errorf("-payload is not valid JSON")
		}
		return json.RawMessage(rawPayload), nil
	}

	if url == "" {
		return nil, fmt.Errorf("one of -url or -payload is required")
	}

	return json.Marshal(crawler.Payload{
		URL:        url,
		MaxDepth:   depth,
		UseSitemap: sitemap,
	})
}

func watchJob(ctx context.Context, manager *jobs.JobManager, jobID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		jws, err := manager.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to read job: %w", err)
		}

		fmt.Printf("%-12s processed=%-6d pending=%-6d depth=%-3d progress=%.1f%%\n",
			jws.Job.Status, jws.TotalProcessed, jws.TotalPending, jws.CurrentDepth, jws.Progress)

		if jws.Job.Status.IsTerminal() {
			if jws.Job.ErrorMessage != "" {
				fmt.Printf("Job %s finished as %s: %s\n", jobID, jws.Job.Status, jws.Job.ErrorMessage)
			} else {
				fmt.Printf("Job %s finished as %s\n", jobID, jws.Job.Status)
			}
			return nil
		}
	}
	return nil
}
