package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxcode/transcoder/pkg/breaker"
	"github.com/fluxcode/transcoder/pkg/metrics"
)

// tracer emits the Webhook Engine's spans, closing the HTTP Surface → Job
// Orchestrator → Worker Pipeline → Webhook Engine trace spec §9 describes.
var tracer = otel.Tracer("transcoder/webhook")

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxAttempt = 5
	productUserAgent  = "transcoder-core/1.0"
)

// OpsAlerter receives operational notifications distinct from per-job
// customer webhooks (SPEC_FULL.md §C).
type OpsAlerter interface {
	NotifyAbandoned(ctx context.Context, jobID string, targetURL string) error
}

// Engine is the at-least-once webhook notifier from spec §4.E.
type Engine struct {
	httpClient *http.Client
	repo       Repository
	breaker    *breaker.Breaker
	secret     string
	maxAttempt int
	logger     logr.Logger
	ops        OpsAlerter
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithSecret sets the HMAC signing secret; omit to send unsigned requests.
func WithSecret(secret string) Option {
	return func(e *Engine) { e.secret = secret }
}

// WithMaxAttempts overrides the default max attempt count of 5.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempt = n }
}

// WithOpsAlerter wires an operational alert channel for abandonment events.
func WithOpsAlerter(alerter OpsAlerter) Option {
	return func(e *Engine) { e.ops = alerter }
}

// WithHTTPClient overrides the default HTTP client (used by tests).
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) { e.httpClient = client }
}

// NewEngine constructs a webhook Engine.
func NewEngine(repo Repository, br *breaker.Breaker, logger logr.Logger, opts ...Option) *Engine {
	e := &Engine{
		httpClient: &http.Client{Timeout: defaultTimeout},
		repo:       repo,
		breaker:    br,
		maxAttempt: defaultMaxAttempt,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send delivers one webhook event for jobID to targetURL, recording a
// Delivery for the attempt. When retry is true and the attempt is
// retryable, the delivery is left in "retrying" state with next_retry_at
// set for an out-of-band scheduler (see ProcessDueRetries) to pick up;
// Send itself only performs the first attempt synchronously.
func (e *Engine) Send(ctx context.Context, jobID string, event Event, targetURL string, fields map[string]interface{}, retry bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "webhook.send", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("webhook.event", string(event)),
	))
	defer span.End()

	if err := ValidateURL(targetURL, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	payload := Payload(event, jobID, fields)

	d := &Delivery{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Event:     event,
		TargetURL: targetURL,
		Payload:   payload,
		Attempt:   1,
		State:     StatePending,
		CreatedAt: timeNow(),
	}
	if err := e.repo.Create(ctx, d); err != nil {
		return false, err
	}

	return e.attempt(ctx, d, retry)
}

// attempt performs one HTTP POST for d, updates its state, and — if the
// attempt failed and retry is allowed and attempts remain — schedules the
// next retry by leaving the delivery in "retrying" state.
func (e *Engine) attempt(ctx context.Context, d *Delivery, retry bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "webhook.attempt", trace.WithAttributes(
		attribute.String("job.id", d.JobID),
		attribute.Int("webhook.attempt", d.Attempt),
	))
	defer span.End()

	body, err := json.Marshal(d.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	timer := metrics.NewTimer()
	status, respBody, transportErr := e.doRequest(ctx, d, body)
	timer.ObserveWebhookDelivery()
	span.SetAttributes(attribute.Int("http.status_code", status))

	now := timeNow()
	d.LastAttemptAt = &now
	d.ResponseStatus = status
	d.ResponseBody = truncateBody(respBody)

	if transportErr == nil && isSuccess(status) {
		d.State = StateSent
		metrics.RecordWebhookOutcome("success")
		return true, e.repo.Update(ctx, d)
	}

	if transportErr != nil {
		d.ErrorMessage = transportErr.Error()
	} else {
		d.ErrorMessage = fmt.Sprintf("unexpected status %d", status)
	}

	if !retry || !shouldRetry(status, transportErr) || d.Attempt >= e.maxAttempt {
		d.State = e.terminalStateFor(d)
		if d.State == StateAbandoned {
			metrics.RecordWebhookOutcome("abandoned")
			if e.ops != nil {
				e.ops.NotifyAbandoned(ctx, d.JobID, d.TargetURL)
			}
		} else {
			metrics.RecordWebhookOutcome("error")
		}
		return false, e.repo.Update(ctx, d)
	}

	d.State = StateRetrying
	next := now.Add(RetryDelay(d.Attempt))
	d.NextRetryAt = &next
	metrics.RecordWebhookOutcome("retry")
	return false, e.repo.Update(ctx, d)
}

// terminalStateFor decides between "failed" (attempts remain but retry was
// disallowed) and "abandoned" (the attempt budget is exhausted).
func (e *Engine) terminalStateFor(d *Delivery) DeliveryState {
	if d.Attempt >= e.maxAttempt {
		return StateAbandoned
	}
	return StateFailed
}

func (e *Engine) doRequest(ctx context.Context, d *Delivery, body []byte) (int, string, error) {
	send := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TargetURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", productUserAgent)
		req.Header.Set("X-Webhook-Event", string(d.Event))
		req.Header.Set("X-Job-ID", d.JobID)
		req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", d.Attempt))
		req.Header.Set("X-Webhook-Timestamp", timeNow().UTC().Format(time.RFC3339))
		if e.secret != "" {
			sig, err := Sign(e.secret, d.Payload)
			if err == nil {
				req.Header.Set("X-Webhook-Signature", sig)
			}
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		d.ResponseStatus = resp.StatusCode
		d.ResponseBody = string(respBody)
		return nil
	}

	var callErr error
	if e.breaker != nil {
		callErr = e.breaker.Call(ctx, send)
	} else {
		callErr = send(ctx)
	}
	if callErr != nil {
		return 0, "", callErr
	}
	return d.ResponseStatus, d.ResponseBody, nil
}

// ProcessDueRetries performs the out-of-band retry pass: for every delivery
// whose next_retry_at has elapsed, it creates a new Delivery row for the
// next attempt (carrying forward the job/event/target/payload, with Attempt
// incremented) and attempts it, so repo.ListByJob returns the full ordered
// history of every attempt rather than a single row mutated in place. The
// superseded row keeps its "retrying" state as a historical record but has
// its next_retry_at cleared so a later sweep doesn't pick it up again.
func (e *Engine) ProcessDueRetries(ctx context.Context) (int, error) {
	due, err := e.repo.ListDueRetries(ctx, timeNow())
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, d := range due {
		next := &Delivery{
			ID:        uuid.NewString(),
			JobID:     d.JobID,
			Event:     d.Event,
			TargetURL: d.TargetURL,
			Payload:   d.Payload,
			Attempt:   d.Attempt + 1,
			State:     StatePending,
			CreatedAt: timeNow(),
		}
		if err := e.repo.Create(ctx, next); err != nil {
			e.logger.Error(err, "failed to create retry delivery record", "job_id", d.JobID)
			continue
		}

		d.NextRetryAt = nil
		if err := e.repo.Update(ctx, d); err != nil {
			e.logger.Error(err, "failed to clear superseded delivery's retry schedule", "job_id", d.JobID)
		}

		if _, err := e.attempt(ctx, next, true); err != nil {
			e.logger.Error(err, "webhook retry attempt failed", "job_id", d.JobID)
		}
		processed++
	}
	return processed, nil
}

// PurgeOldDeliveries removes deliveries older than retention (spec §4.E's
// 7-day default retention sweep).
func (e *Engine) PurgeOldDeliveries(ctx context.Context, retention time.Duration) (int, error) {
	return e.repo.PurgeOlderThan(ctx, timeNow().Add(-retention))
}

// Statistics returns the current aggregate delivery statistics.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	return e.repo.Statistics(ctx)
}
