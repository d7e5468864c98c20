package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/opsforge-io/harrier/internal/observability"
)

// RunnerHandle represents one spawned runner process.
type RunnerHandle interface {
	// Wait blocks until the process exits. A non-nil error carries the
	// non-zero exit code.
	Wait() error
	// Kill forcibly terminates the process.
	Kill() error
	// Stderr returns the captured tail of the process's stderr.
	Stderr() string
}

// RunnerLauncher spawns a runner for one claimed job. The production
// implementation execs the runner binary; tests substitute scripted fakes.
type RunnerLauncher interface {
	Launch(ctx context.Context, jobID string) (RunnerHandle, error)
}

// stderrTailBytes bounds how much runner stderr is kept for error messages.
const stderrTailBytes = 1000

// tailBuffer keeps only the last N bytes written to it. Runner stderr can be
// arbitrarily large; the error message only needs the end of it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// execRunnerHandle wraps an exec.Cmd as a RunnerHandle
type execRunnerHandle struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
}

func (h *execRunnerHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execRunnerHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *execRunnerHandle) Stderr() string {
	return h.stderr.String()
}

// ExecLauncher launches runner subprocesses from a binary path.
type ExecLauncher struct {
	Bin string
}

// Launch starts `<bin> -job <jobID>` with stderr captured. The command is
// deliberately not bound to ctx: a supervisor shutdown must not kill runners
// mid-batch, that is what Kill and the watchdog are for.
func (l *ExecLauncher) Launch(_ context.Context, jobID string) (RunnerHandle, error) {
	stderr := newTailBuffer(stderrTailBytes)

	cmd := exec.Command(l.Bin, "-job", jobID)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runner for job %s: %w", jobID, err)
	}

	return &execRunnerHandle{cmd: cmd, stderr: stderr}, nil
}

// Supervisor owns the claim loop for one process. It claims pending jobs,
// spawns one runner subprocess per claim, writes the heartbeat for the
// runner's lifetime and reconciles the job's status from the exit code.
// Any number of supervisors can run against the same database; the claim
// transaction is the only coordination between them.
type Supervisor struct {
	store    JobStore
	launcher RunnerLauncher
	notifier JobNotifier
	config   *Config
	workerID string

	// Connection string for the LISTEN wake-up. Empty disables listening
	// and dispatch falls back to pure polling.
	listenConnStr string

	sem      *semaphore.Weighted
	stopCh   chan struct{}
	notifyCh chan struct{}
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewSupervisor creates a supervisor with a fresh worker id
func NewSupervisor(store JobStore, launcher RunnerLauncher, config *Config) *Supervisor {
	if store == nil {
		panic("job store is required")
	}
	if launcher == nil {
		panic("runner launcher is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConcurrentJobs < 1 {
		panic("MaxConcurrentJobs must be at least 1")
	}

	return &Supervisor{
		store:    store,
		launcher: launcher,
		config:   config,
		workerID: uuid.New().String(),
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentJobs)),
		stopCh:   make(chan struct{}),
		notifyCh: make(chan struct{}, 1), // Buffer of 1 to prevent blocking
	}
}

// WorkerID returns this supervisor's worker identifier
func (s *Supervisor) WorkerID() string {
	return s.workerID
}

// SetNotifier wires a terminal-outcome notifier. Optional.
func (s *Supervisor) SetNotifier(n JobNotifier) {
	s.notifier = n
}

// SetListenConnStr enables the LISTEN/NOTIFY wake-up using the given
// connection string.
func (s *Supervisor) SetListenConnStr(connStr string) {
	s.listenConnStr = connStr
}

// Start launches the poll loop and, when configured, the notification
// listener. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	log.Info().
		Str("worker_id", s.workerID).
		Int("max_concurrent_jobs", s.config.MaxConcurrentJobs).
		Dur("poll_interval", s.config.PollInterval).
		Dur("hard_timeout", s.config.HardTimeout).
		Msg("Starting supervisor")

	s.wg.Add(1)
	go s.pollLoop(ctx)

	if s.listenConnStr != "" {
		s.wg.Add(1)
		go s.listenForNotifications(ctx)
	}
}

// Stop signals the loops to finish and waits for in-flight runners to exit.
// Jobs whose runners outlive the process are reclaimed by the watchdog once
// their heartbeat goes stale.
func (s *Supervisor) Stop() {
	s.stopping.Store(true)
	log.Debug().Str("worker_id", s.workerID).Msg("Stopping supervisor")
	close(s.stopCh)
	s.wg.Wait()
	log.Debug().Str("worker_id", s.workerID).Msg("Supervisor stopped")
}

// pollLoop claims jobs as concurrency slots free up, backing off
// exponentially while the queue is empty.
func (s *Supervisor) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	consecutiveEmpty := 0
	maxSleep := 30 * time.Second

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := s.store.ClaimNext(ctx, s.workerID)
		if err != nil {
			s.sem.Release(1)

			if errors.Is(err, ErrNoJobs) {
				consecutiveEmpty++
				observability.RecordClaim(ctx, "empty")
				// Only log occasionally during quiet periods
				if consecutiveEmpty == 1 || consecutiveEmpty%10 == 0 {
					log.Debug().Msg("Waiting for claimable jobs")
				}
			} else {
				observability.RecordClaim(ctx, "error")
				log.Error().Err(err).Msg("Failed to claim job")
			}

			// Exponential backoff with a maximum, cut short by NOTIFY
			sleepTime := time.Duration(float64(s.config.PollInterval) * math.Pow(1.5, float64(min(consecutiveEmpty, 10))))
			if sleepTime > maxSleep {
				sleepTime = maxSleep
			}

			select {
			case <-time.After(sleepTime):
			case <-s.notifyCh:
				consecutiveEmpty = 0
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		consecutiveEmpty = 0
		observability.RecordClaim(ctx, "claimed")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.superviseJob(ctx, job)
		}()
	}
}

// superviseJob owns one claimed job from spawn to reconciled status
func (s *Supervisor) superviseJob(ctx context.Context, job *Job) {
	span := sentry.StartSpan(ctx, "supervisor.supervise_job")
	defer span.Finish()
	span.SetData("job_id", job.ID)

	start := time.Now()

	log.Info().
		Str("job_id", job.ID).
		Str("worker_id", s.workerID).
		Int("priority", job.Priority).
		Int("retry_count", job.RetryCount).
		Msg("Claimed job, spawning runner")

	handle, err := s.launcher.Launch(ctx, job.ID)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to spawn runner")
		if _, ferr := s.store.FailFromProcessing(ctx, job.ID, fmt.Sprintf("Failed to spawn runner: %v", err)); ferr != nil {
			log.Error().Err(ferr).Str("job_id", job.ID).Msg("Failed to record spawn failure")
		}
		return
	}

	// The supervisor, not the runner, writes the heartbeat. Liveness then
	// never depends on the runner finding CPU time between batches.
	stopHeartbeat := make(chan struct{})
	s.wg.Add(1)
	go s.heartbeatLoop(ctx, job.ID, stopHeartbeat)

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- handle.Wait()
	}()

	timedOut := false
	var exitErr error

	select {
	case exitErr = <-waitDone:
	case <-time.After(s.config.HardTimeout):
		timedOut = true
		log.Warn().
			Str("job_id", job.ID).
			Dur("hard_timeout", s.config.HardTimeout).
			Msg("Runner exceeded hard timeout, killing")
		if err := handle.Kill(); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to kill timed-out runner")
		}
		exitErr = <-waitDone
	}

	close(stopHeartbeat)

	s.reconcile(ctx, job, exitErr, timedOut, handle.Stderr(), time.Since(start))
}

// heartbeatLoop refreshes the job's liveness timestamp until the runner
// exits or ownership is lost.
func (s *Supervisor) heartbeatLoop(ctx context.Context, jobID string, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			owned, err := s.store.Heartbeat(ctx, jobID, s.workerID)
			if err != nil {
				log.Error().Err(err).Str("job_id", jobID).Msg("Failed to write heartbeat")
				continue
			}
			if !owned {
				// The watchdog or an operator took the job away. Stop
				// heartbeating so we never mask the new owner's liveness.
				log.Warn().
					Str("job_id", jobID).
					Str("worker_id", s.workerID).
					Msg("Job no longer owned, stopping heartbeat")
				return
			}
		}
	}
}

// reconcile settles the job's final status from the runner's exit.
// Exit 0 trusts the terminal status the runner already wrote. Everything
// else goes through FailFromProcessing, which is a no-op when the runner
// managed a terminal write before dying.
func (s *Supervisor) reconcile(ctx context.Context, job *Job, exitErr error, timedOut bool, stderr string, elapsed time.Duration) {
	switch {
	case timedOut:
		failed, err := s.store.FailFromProcessing(ctx, job.ID, MsgHardTimeout)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record hard timeout")
			return
		}
		if failed {
			log.Error().
				Str("job_id", job.ID).
				Dur("elapsed", elapsed).
				Msg("Job failed: hard timeout exceeded")
		}

	case exitErr != nil:
		exitCode := -1
		var ee *exec.ExitError
		if errors.As(exitErr, &ee) {
			exitCode = ee.ExitCode()
		}

		message := fmt.Sprintf("Process failed with code %d: %s", exitCode, stderr)
		failed, err := s.store.FailFromProcessing(ctx, job.ID, message)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record runner crash")
			return
		}
		if failed {
			log.Error().
				Str("job_id", job.ID).
				Int("exit_code", exitCode).
				Dur("elapsed", elapsed).
				Msg("Runner exited non-zero, job failed")
		} else {
			// The runner wrote its own terminal status before dying
			log.Warn().
				Str("job_id", job.ID).
				Int("exit_code", exitCode).
				Msg("Runner exited non-zero after writing terminal status")
		}

	default:
		log.Info().
			Str("job_id", job.ID).
			Dur("elapsed", elapsed).
			Msg("Runner exited cleanly")
	}

	// Read the settled row back for metrics and notification
	final, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to read back final job status")
		return
	}

	observability.RecordJobOutcome(ctx, string(final.Status), elapsed)

	if s.notifier != nil {
		switch final.Status {
		case JobStatusCompleted:
			s.notifier.NotifyJobComplete(ctx, final)
		case JobStatusFailed:
			s.notifier.NotifyJobFailed(ctx, final)
		}
	}
}

// listenForNotifications wakes the poll loop the moment a job is enqueued,
// instead of waiting out the poll sleep.
func (s *Supervisor) listenForNotifications(ctx context.Context) {
	defer s.wg.Done()

	listener := pq.NewListener(s.listenConnStr,
		10*time.Second, // Min reconnect interval
		time.Minute,    // Max reconnect interval
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("Job notification listener error")
			}
		})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		log.Error().Err(err).Msg("Failed to listen for job notifications, falling back to polling")
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// Connection lost; pq reconnects internally, keep looping
				log.Warn().Msg("Job notification connection lost")
				continue
			}
			select {
			case s.notifyCh <- struct{}{}:
			default:
				// Wake-up already pending
			}
		case <-time.After(90 * time.Second):
			if err := listener.Ping(); err != nil {
				log.Error().Err(err).Msg("Job notification connection lost")
			}
		}
	}
}
