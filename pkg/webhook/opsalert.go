package webhook

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackOpsAlerter posts abandonment and circuit-breaker-open events to an
// internal operations channel, distinct from per-job customer webhooks
// (SPEC_FULL.md §C, §B).
type SlackOpsAlerter struct {
	webhookURL string
}

// NewSlackOpsAlerter constructs a SlackOpsAlerter posting to webhookURL. An
// empty URL makes every call a no-op, so wiring this is optional.
func NewSlackOpsAlerter(webhookURL string) *SlackOpsAlerter {
	return &SlackOpsAlerter{webhookURL: webhookURL}
}

// NotifyAbandoned posts a message when a webhook delivery is abandoned
// after exhausting its retry budget.
func (s *SlackOpsAlerter) NotifyAbandoned(ctx context.Context, jobID string, targetURL string) error {
	if s.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":warning: webhook delivery abandoned for job `%s` (target %s) after exhausting retries", jobID, targetURL),
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, msg)
}

// NotifyBreakerOpen posts a message when a circuit breaker trips open.
func (s *SlackOpsAlerter) NotifyBreakerOpen(ctx context.Context, breakerName string) error {
	if s.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":rotating_light: circuit breaker `%s` opened", breakerName),
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, msg)
}
