package notifications

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// SlackWebhookChannel delivers job outcome messages to a Slack incoming
// webhook.
type SlackWebhookChannel struct {
	webhookURL string
}

// NewSlackWebhookChannel creates a Slack delivery channel
func NewSlackWebhookChannel(webhookURL string) *SlackWebhookChannel {
	return &SlackWebhookChannel{webhookURL: webhookURL}
}

// Name identifies the channel in logs
func (c *SlackWebhookChannel) Name() string {
	return "slack"
}

// Deliver posts one outcome message to the webhook
func (c *SlackWebhookChannel) Deliver(ctx context.Context, event *JobEvent) error {
	msg := &slack.WebhookMessage{
		Text:        headline(event),
		Attachments: []slack.Attachment{attachmentFor(event)},
	}

	if err := slack.PostWebhookContext(ctx, c.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}

	return nil
}

func headline(event *JobEvent) string {
	switch event.Status {
	case jobs.JobStatusCompleted:
		return fmt.Sprintf("Crawl job %s completed in %s", event.JobID, event.Duration)
	case jobs.JobStatusFailed:
		return fmt.Sprintf("Crawl job %s failed", event.JobID)
	default:
		return fmt.Sprintf("Crawl job %s is %s", event.JobID, event.Status)
	}
}

func attachmentFor(event *JobEvent) slack.Attachment {
	colour := "good"
	if event.Status == jobs.JobStatusFailed {
		colour = "danger"
	}

	fields := []slack.AttachmentField{
		{Title: "Job", Value: event.JobID, Short: true},
		{Title: "Status", Value: string(event.Status), Short: true},
		{Title: "Duration", Value: event.Duration, Short: true},
	}
	if event.SourceID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Source", Value: event.SourceID, Short: true})
	}
	if event.ErrorMessage != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: event.ErrorMessage})
	}
	if event.RetryCount > 0 {
		fields = append(fields, slack.AttachmentField{
			Title: "Retries",
			Value: fmt.Sprintf("%d", event.RetryCount),
			Short: true,
		})
	}

	return slack.Attachment{Color: colour, Fields: fields}
}
