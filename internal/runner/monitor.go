package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// Signal is the cooperative stop request observed by the crawl loop.
type Signal int32

const (
	SignalNone Signal = iota
	SignalPause
	SignalCancel
)

func (s Signal) String() string {
	switch s {
	case SignalPause:
		return "pause-requested"
	case SignalCancel:
		return "cancel-requested"
	default:
		return "none"
	}
}

// StatusReader reads the current status column for one job.
type StatusReader interface {
	GetJobStatus(ctx context.Context, jobID string) (jobs.JobStatus, error)
}

// StatusMonitor polls the job's status column in the background and exposes
// the externally-requested signal. It never interrupts the crawl loop; the
// loop reads Signal between batches, so responsiveness is bounded by batch
// duration plus the poll interval.
type StatusMonitor struct {
	store    StatusReader
	jobID    string
	interval time.Duration

	signal atomic.Int32
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStatusMonitor creates a monitor for one job
func NewStatusMonitor(store StatusReader, jobID string, interval time.Duration) *StatusMonitor {
	if store == nil {
		panic("status reader is required")
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &StatusMonitor{
		store:    store,
		jobID:    jobID,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll goroutine
func (m *StatusMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(ctx)
			}
		}
	}()
}

// Stop terminates the poll goroutine
func (m *StatusMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Signal returns the most recently observed stop request
func (m *StatusMonitor) Signal() Signal {
	return Signal(m.signal.Load())
}

func (m *StatusMonitor) poll(ctx context.Context) {
	status, err := m.store.GetJobStatus(ctx, m.jobID)
	if err != nil {
		// Transient read failures keep the last signal; the supervisor's
		// hard timeout backstops a store that never comes back.
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("job_id", m.jobID).Msg("Status poll failed")
		}
		return
	}

	var next Signal
	switch status {
	case jobs.JobStatusPaused:
		next = SignalPause
	case jobs.JobStatusCancelled:
		next = SignalCancel
	default:
		next = SignalNone
	}

	if prev := Signal(m.signal.Swap(int32(next))); prev != next && next != SignalNone {
		log.Info().
			Str("job_id", m.jobID).
			Str("signal", next.String()).
			Msg("Stop signal observed")
	}
}
