package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// DeliveryChannel delivers one outcome message somewhere external.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, event *JobEvent) error
}

// JobEvent describes one terminal job outcome for delivery.
type JobEvent struct {
	JobID        string
	Status       jobs.JobStatus
	SourceID     string
	ErrorMessage string
	RetryCount   int
	Duration     string
}

// Service fans terminal job outcomes out to delivery channels. Delivery
// failures are logged warnings; they never propagate back into the job
// lifecycle. With no channels configured every call is a no-op, which is
// how the supervisor runs when Slack is not set up.
type Service struct {
	channels []DeliveryChannel
}

// NewService creates an empty notification service
func NewService() *Service {
	return &Service{}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// NotifyJobComplete announces a completed job
func (s *Service) NotifyJobComplete(ctx context.Context, job *jobs.Job) {
	s.deliver(ctx, eventFromJob(job))
}

// NotifyJobFailed announces a permanently failed job
func (s *Service) NotifyJobFailed(ctx context.Context, job *jobs.Job) {
	s.deliver(ctx, eventFromJob(job))
}

func (s *Service) deliver(ctx context.Context, event *JobEvent) {
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("job_id", event.JobID).
				Msg("Failed to deliver job notification")
		}
	}
}

func eventFromJob(job *jobs.Job) *JobEvent {
	event := &JobEvent{
		JobID:        job.ID,
		Status:       job.Status,
		SourceID:     job.SourceID,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		Duration:     "N/A",
	}

	if !job.StartedAt.IsZero() && !job.CompletedAt.IsZero() {
		event.Duration = formatDuration(job.CompletedAt.Sub(job.StartedAt))
	}

	return event
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
