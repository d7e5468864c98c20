package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/db"
	"github.com/opsforge-io/harrier/internal/jobs"
)

// queuestat inspects the queue and drives the collaborator operations.
//
// Usage:
//
//	queuestat                    per-status depths plus active jobs
//	queuestat -job <id>          one job with its crawl state aggregates
//	queuestat -pause <id>        request a cooperative pause
//	queuestat -cancel <id>       request a cooperative cancel
//	queuestat -requeue <id>      re-arm a paused/cancelled job
func main() {
	godotenv.Load(".env.local", ".env")

	jobID := flag.String("job", "", "Show one job in detail")
	pauseID := flag.String("pause", "", "Request a pause for the given job")
	cancelID := flag.String("cancel", "", "Request a cancel for the given job")
	requeueID := flag.String("requeue", "", "Requeue the given paused/cancelled job")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx := context.Background()

	pgDB, err := db.InitFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to connect to database:", err)
		os.Exit(1)
	}
	defer pgDB.Close()

	manager := jobs.NewJobManager(db.NewJobStore(pgDB.GetDB()))

	switch {
	case *pauseID != "":
		request(ctx, "pause", *pauseID, manager.RequestPause)
	case *cancelID != "":
		request(ctx, "cancel", *cancelID, manager.RequestCancel)
	case *requeueID != "":
		request(ctx, "requeue", *requeueID, manager.RequeueJob)
	case *jobID != "":
		showJob(ctx, manager, *jobID)
	default:
		showQueue(ctx, manager)
	}
}

func request(ctx context.Context, verb, jobID string, op func(context.Context, string) (bool, error)) {
	applied, err := op(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to %s job %s: %v\n", verb, jobID, err)
		os.Exit(1)
	}
	if !applied {
		fmt.Printf("Job %s not eligible for %s in its current status\n", jobID, verb)
		os.Exit(1)
	}
	fmt.Printf("Requested %s for job %s\n", verb, jobID)
}

func showJob(ctx context.Context, manager *jobs.JobManager, jobID string) {
	jws, err := manager.GetJob(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to read job %s: %v\n", jobID, err)
		os.Exit(1)
	}

	job := jws.Job
	fmt.Printf("Job       %s\n", job.ID)
	fmt.Printf("Status    %s\n", job.Status)
	fmt.Printf("Priority  %d\n", job.Priority)
	fmt.Printf("Retries   %d/%d\n", job.RetryCount, job.MaxRetries)
	if job.WorkerID != "" {
		fmt.Printf("Worker    %s\n", job.WorkerID)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error     %s\n", job.ErrorMessage)
	}
	fmt.Printf("Created   %s\n", job.CreatedAt.Format(time.RFC3339))
	if !job.StartedAt.IsZero() {
		fmt.Printf("Started   %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if !job.CompletedAt.IsZero() {
		fmt.Printf("Finished  %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if !job.LastHeartbeat.IsZero() {
		fmt.Printf("Heartbeat %s (%s ago)\n",
			job.LastHeartbeat.Format(time.RFC3339),
			time.Since(job.LastHeartbeat).Round(time.Second))
	}

	if jws.HasState {
		fmt.Printf("\nProcessed %d\n", jws.TotalProcessed)
		fmt.Printf("Pending   %d\n", jws.TotalPending)
		fmt.Printf("Depth     %d\n", jws.CurrentDepth)
		fmt.Printf("Progress  %.1f%%\n", jws.Progress)
	} else {
		fmt.Println("\nNo crawl state recorded yet")
	}
}

func showQueue(ctx context.Context, manager *jobs.JobManager) {
	depths, err := manager.QueueDepths(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to count jobs:", err)
		os.Exit(1)
	}

	fmt.Println("Queue depth by status:")
	if len(depths) == 0 {
		fmt.Println("  (empty)")
	}
	for _, d := range depths {
		fmt.Printf("  %-12s %d\n", d.Status, d.Count)
	}

	active, err := manager.ListJobs(ctx,
		jobs.JobStatusPending, jobs.JobStatusProcessing, jobs.JobStatusPaused)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to list active jobs:", err)
		os.Exit(1)
	}

	if len(active) == 0 {
		return
	}

	fmt.Println("\nActive jobs:")
	for _, job := range active {
		line := fmt.Sprintf("  %s  %-12s prio=%d retries=%d/%d",
			job.ID, job.Status, job.Priority, job.RetryCount, job.MaxRetries)
		if job.Status == jobs.JobStatusProcessing && !job.LastHeartbeat.IsZero() {
			line += fmt.Sprintf("  heartbeat %s ago", time.Since(job.LastHeartbeat).Round(time.Second))
		}
		fmt.Println(line)
	}
}
