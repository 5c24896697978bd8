package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/lock"
	"github.com/fluxcode/transcoder/pkg/webhook"
)

const (
	defaultLockTTL         = 30 * time.Second
	defaultLockWaitTimeout = 5 * time.Second
)

// Coordinator runs the Batch Coordinator's enqueue, scheduler tick, and
// cancellation flows (spec §4.J). Children are ordinary job.Job rows;
// dispatch is delegated to the same Dispatcher the Job Orchestrator uses,
// so the worker pipeline never needs to know a job belongs to a batch.
type Coordinator struct {
	repo       Repository
	jobs       job.Repository
	dispatcher job.Dispatcher
	locks      *lock.Manager
	webhooks   *webhook.Engine
	logger     logr.Logger

	lockTTL         time.Duration
	lockWaitTimeout time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewCoordinator wires a Coordinator. webhooks may be nil, in which case
// final batch status is never pushed anywhere (polling via List/Get still
// works).
func NewCoordinator(repo Repository, jobs job.Repository, dispatcher job.Dispatcher, locks *lock.Manager, webhooks *webhook.Engine, logger logr.Logger) *Coordinator {
	return &Coordinator{
		repo:            repo,
		jobs:            jobs,
		dispatcher:      dispatcher,
		locks:           locks,
		webhooks:        webhooks,
		logger:          logger,
		lockTTL:         defaultLockTTL,
		lockWaitTimeout: defaultLockWaitTimeout,
		active:          make(map[string]context.CancelFunc),
	}
}

func lockKey(batchID string) string { return "batch:" + batchID }

// Enqueue validates the request and persists the batch together with all
// of its children as queued jobs, ready for the next scheduler tick to
// start promoting them.
func (c *Coordinator) Enqueue(ctx context.Context, req EnqueueRequest) (*Batch, error) {
	if len(req.Children) == 0 {
		return nil, apperrors.NewValidationError("a batch requires at least one child job")
	}
	if req.ConcurrencyCap <= 0 {
		return nil, apperrors.NewValidationError("concurrency_cap must be positive")
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	now := time.Now()
	b := &Batch{
		ID:             uuid.NewString(),
		CredentialID:   req.CredentialID,
		State:          StateQueued,
		ConcurrencyCap: req.ConcurrencyCap,
		MaxRetries:     maxRetries,
		CallbackURL:    req.CallbackURL,
		TotalChildren:  len(req.Children),
		QueuedCount:    len(req.Children),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	req.MaxRetries = maxRetries
	if err := c.repo.Create(ctx, b, req); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns a batch by ID.
func (c *Coordinator) Get(ctx context.Context, id string) (*Batch, error) {
	return c.repo.Get(ctx, id)
}

// List returns a page of batches.
func (c *Coordinator) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return c.repo.List(ctx, filter)
}

// Tick runs one scheduler pass for a batch, serialized per batch ID so
// concurrent callers (multiple worker processes polling the same batch)
// never double-promote a child (spec §4.J, lock per §4.B).
func (c *Coordinator) Tick(ctx context.Context, batchID string) error {
	return c.locks.WithLock(ctx, lockKey(batchID), c.lockTTL, c.lockWaitTimeout, func(ctx context.Context) error {
		return c.tick(ctx, batchID)
	})
}

func (c *Coordinator) tick(ctx context.Context, batchID string) error {
	b, err := c.repo.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.State.Terminal() {
		return nil
	}

	children, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return err
	}

	retriedAny := false
	for _, child := range children {
		if child.State != job.StateFailed || child.RetryCount >= b.MaxRetries {
			continue
		}
		if err := c.retryChild(ctx, child); err != nil {
			return err
		}
		retriedAny = true
	}
	if retriedAny {
		if children, err = c.jobs.ListByBatch(ctx, batchID); err != nil {
			return err
		}
	}

	var queued, processing []*job.Job
	completed, failed, cancelled := 0, 0, 0
	for _, child := range children {
		switch child.State {
		case job.StateQueued:
			queued = append(queued, child)
		case job.StateProcessing:
			processing = append(processing, child)
		case job.StateCompleted:
			completed++
		case job.StateFailed:
			failed++
		case job.StateCancelled:
			cancelled++
		}
	}

	if completed+failed+cancelled == len(children) {
		return c.finalize(ctx, b, completed, failed, cancelled)
	}

	promoted := c.promoteQueued(ctx, b, queued, len(processing))

	b.QueuedCount = len(queued) - promoted
	b.ProcessingCount = len(processing) + promoted
	b.CompletedCount, b.FailedCount, b.CancelledCount = completed, failed, cancelled
	b.State = StateProcessing
	b.UpdatedAt = time.Now()
	return c.repo.Update(ctx, b)
}

// retryChild resets a failed child back to queued, keeping its identity
// (spec §4.J "resets the child's processing epoch but keeps identity").
func (c *Coordinator) retryChild(ctx context.Context, child *job.Job) error {
	child.State = job.StateQueued
	child.RetryCount++
	child.StartedAt = time.Time{}
	child.CompletedAt = time.Time{}
	child.ErrorMessage = ""
	child.Progress = 0
	child.Stage = ""
	child.WorkerID = ""
	child.UpdatedAt = time.Now()
	return c.jobs.Update(ctx, child)
}

func (c *Coordinator) promoteQueued(ctx context.Context, b *Batch, queued []*job.Job, processingCount int) int {
	sort.SliceStable(queued, func(i, k int) bool {
		if queued[i].Priority != queued[k].Priority {
			return queued[i].Priority > queued[k].Priority
		}
		return queued[i].CreatedAt.Before(queued[k].CreatedAt)
	})

	free := b.ConcurrencyCap - processingCount
	promoted := 0
	for i := 0; i < free && i < len(queued); i++ {
		child := queued[i]
		child.State = job.StateProcessing
		child.UpdatedAt = time.Now()
		if err := c.jobs.Update(ctx, child); err != nil {
			c.logger.Error(err, "failed to promote batch child", "job_id", child.ID)
			continue
		}
		c.dispatch(child)
		promoted++
	}
	return promoted
}

// dispatch runs a promoted child asynchronously, tracked so Cancel can
// stop it mid-flight. This mirrors job.Service's own dispatch loop since
// batch children bypass Service.Submit's per-credential dispatch path.
func (c *Coordinator) dispatch(child *job.Job) {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.active[child.ID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.active, child.ID)
			c.mu.Unlock()
			cancel()
		}()
		if err := c.dispatcher.Dispatch(runCtx, child); err != nil {
			c.logger.Error(err, "batch child dispatch returned an error", "job_id", child.ID)
		}
	}()
}

func (c *Coordinator) finalize(ctx context.Context, b *Batch, completed, failed, cancelled int) error {
	b.CompletedCount, b.FailedCount, b.CancelledCount = completed, failed, cancelled
	b.QueuedCount, b.ProcessingCount = 0, 0
	switch {
	case failed > 0:
		b.State = StateFailed
	case cancelled == b.TotalChildren:
		b.State = StateCancelled
	default:
		b.State = StateCompleted
	}
	b.CompletedAt = time.Now()
	b.UpdatedAt = b.CompletedAt
	if err := c.repo.Update(ctx, b); err != nil {
		return err
	}
	c.emitFinal(ctx, b)
	return nil
}

// Cancel marks every non-terminal child cancelled and the batch itself
// cancelled, refusing any further dispatch (spec §4.J "Cancellation").
func (c *Coordinator) Cancel(ctx context.Context, batchID string) error {
	b, err := c.repo.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.State.Terminal() {
		return apperrors.NewValidationError("batch is already in a terminal state")
	}

	children, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return err
	}

	completed, failed, cancelled := 0, 0, 0
	for _, child := range children {
		switch child.State {
		case job.StateCompleted:
			completed++
			continue
		case job.StateFailed:
			failed++
			continue
		case job.StateCancelled:
			cancelled++
			continue
		}

		c.mu.Lock()
		cancelFn, running := c.active[child.ID]
		c.mu.Unlock()
		if running {
			cancelFn()
		}

		child.State = job.StateCancelled
		child.UpdatedAt = time.Now()
		if err := c.jobs.Update(ctx, child); err != nil {
			return err
		}
		cancelled++
	}

	b.CompletedCount, b.FailedCount, b.CancelledCount = completed, failed, cancelled
	b.QueuedCount, b.ProcessingCount = 0, 0
	b.State = StateCancelled
	b.CompletedAt = time.Now()
	b.UpdatedAt = b.CompletedAt
	if err := c.repo.Update(ctx, b); err != nil {
		return err
	}
	c.emitFinal(ctx, b)
	return nil
}

func (c *Coordinator) emitFinal(ctx context.Context, b *Batch) {
	if b.CallbackURL == "" || c.webhooks == nil {
		return
	}
	event := webhook.EventComplete
	if b.State == StateFailed {
		event = webhook.EventError
	}
	fields := map[string]interface{}{
		"state":           string(b.State),
		"total_children":  b.TotalChildren,
		"completed_count": b.CompletedCount,
		"failed_count":    b.FailedCount,
		"cancelled_count": b.CancelledCount,
	}
	if _, err := c.webhooks.Send(ctx, b.ID, event, b.CallbackURL, fields, true); err != nil {
		c.logger.Error(err, "failed to send batch status webhook", "batch_id", b.ID)
	}
}
