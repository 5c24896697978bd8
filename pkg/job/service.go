package job

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/cache"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
	"github.com/fluxcode/transcoder/pkg/storage"
)

// tracer emits the Job Orchestrator's spans (job.submit, job.dispatch).
var tracer = otel.Tracer("transcoder/job")

// defaultWorkerPoolSize is used when NewService is given a non-positive
// pool size, so a zero-value caller still gets a bounded pool rather than
// an accidental unlimited one.
const defaultWorkerPoolSize = 8

// Dispatcher runs a queued job to completion. The worker pipeline
// implements this; ctx is cancelled by Service.Cancel to signal the
// running pipeline to stop (spec §4.K "signals the worker to stop").
type Dispatcher interface {
	Dispatch(ctx context.Context, j *Job) error
}

// SubmitRequest is the HTTP-facing submission payload, validated and
// resolved into a persisted Job by Submit.
type SubmitRequest struct {
	CredentialID string
	InputLocator string
	OutputLocator string
	Options       map[string]interface{}
	Operations    []cmdbuilder.Operation
	CallbackURL   string
	Priority      int
	MaxConcurrent int // the resolved credential tier's concurrency cap
}

// Service is the HTTP-facing half of the Job Orchestrator (spec §4.K):
// accept submission, read/list with caching, cancel, and the admin sweep.
// Dispatch itself is delegated to a Dispatcher so this package has no
// compile-time dependency on the worker pipeline.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	storage    *storage.Registry
	whitelist  *cmdbuilder.Whitelist
	listCache  *cache.Cache[ListResult]
	jobCache   *cache.Cache[Job]
	logger     logr.Logger
	pool       *semaphore.Weighted

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewService wires a Service. listCache and jobCache are typically backed
// by the same remote cache client under different key prefixes/categories
// (job_list vs job_status per spec §4.A). poolSize bounds how many jobs this
// process dispatches concurrently, independent of any per-credential
// concurrency cap enforced in Submit; a non-positive value falls back to
// defaultWorkerPoolSize.
func NewService(repo Repository, dispatcher Dispatcher, registry *storage.Registry, whitelist *cmdbuilder.Whitelist, listCache *cache.Cache[ListResult], jobCache *cache.Cache[Job], logger logr.Logger, poolSize int) *Service {
	if poolSize <= 0 {
		poolSize = defaultWorkerPoolSize
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		storage:    registry,
		whitelist:  whitelist,
		listCache:  listCache,
		jobCache:   jobCache,
		logger:     logger,
		pool:       semaphore.NewWeighted(int64(poolSize)),
		active:     make(map[string]context.CancelFunc),
	}
}

// Submit validates locators and operations, enforces the credential's
// concurrency cap, persists the job as queued, and dispatches it
// asynchronously.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	ctx, span := tracer.Start(ctx, "job.submit", trace.WithAttributes(
		attribute.String("job.credential_id", req.CredentialID),
	))
	defer span.End()

	if req.InputLocator == "" || req.OutputLocator == "" {
		return nil, apperrors.NewValidationError("input and output locators are required")
	}
	if _, _, err := s.storage.Resolve(req.InputLocator); err != nil {
		return nil, err
	}
	if _, _, err := s.storage.Resolve(req.OutputLocator); err != nil {
		return nil, err
	}
	for _, op := range req.Operations {
		if err := cmdbuilder.ValidateOperation(op, s.whitelist); err != nil {
			return nil, err
		}
	}

	if req.MaxConcurrent > 0 {
		active, err := s.repo.CountActive(ctx, req.CredentialID)
		if err != nil {
			return nil, err
		}
		if active >= req.MaxConcurrent {
			return nil, apperrors.NewRateLimitError("concurrent job limit reached for this credential")
		}
	}

	now := time.Now()
	j := &Job{
		ID:            uuid.NewString(),
		CredentialID:  req.CredentialID,
		State:         StateQueued,
		InputLocator:  req.InputLocator,
		OutputLocator: req.OutputLocator,
		Options:       req.Options,
		Operations:    req.Operations,
		CallbackURL:   req.CallbackURL,
		Priority:      req.Priority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("job.id", j.ID))
	s.invalidateListCache(ctx, req.CredentialID)
	s.dispatch(ctx, j)
	return j, nil
}

// dispatch spawns the job's dispatch goroutine against a context detached
// from the submitting request (the job must keep running after the HTTP
// request returns), linking its own span back to the submission span that
// created it so the two still show up as one trace in a span-link-aware
// backend.
func (s *Service) dispatch(submitCtx context.Context, j *Job) {
	submitLink := trace.LinkFromContext(submitCtx)
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active[j.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, j.ID)
			s.mu.Unlock()
			cancel()
		}()
		runCtx, span := tracer.Start(runCtx, "job.dispatch",
			trace.WithLinks(submitLink),
			trace.WithAttributes(attribute.String("job.id", j.ID)),
		)
		defer span.End()

		// Bound how many jobs this process runs at once, on top of the
		// per-credential cap already enforced in Submit.
		if err := s.pool.Acquire(runCtx, 1); err != nil {
			s.logger.Error(err, "worker pool acquire failed, job stays queued for recovery", "job_id", j.ID)
			return
		}
		defer s.pool.Release(1)
		if err := s.dispatcher.Dispatch(runCtx, j); err != nil {
			s.logger.Error(err, "job dispatch returned an error", "job_id", j.ID)
		}
	}()
}

// Get is cache-then-repository, under the job_status category TTL.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if cached, ok := s.jobCache.Get(ctx, id); ok {
		return cached, nil
	}
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.jobCache.Set(ctx, id, *j, cache.DefaultTTLs[cache.CategoryJobStatus])
	return j, nil
}

// List is cache-then-repository keyed by credential+filter, under the
// job_list category TTL.
func (s *Service) List(ctx context.Context, filter Filter) (*ListResult, error) {
	key := cache.BuildKey("jobs", filter.CredentialID, string(filter.State), cache.HashValue(filter))
	if cached, ok := s.listCache.Get(ctx, key); ok {
		return cached, nil
	}
	result, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.listCache.Set(ctx, key, *result, cache.DefaultTTLs[cache.CategoryJobList])
	return result, nil
}

// Cancel only succeeds for a non-terminal job: it signals the dispatcher's
// context (if the job is currently running), then persists the cancelled
// state itself, since a job that is still queued has no running context to
// cancel.
func (s *Service) Cancel(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.State.Terminal() {
		return apperrors.NewValidationError("job is already in a terminal state")
	}

	s.mu.Lock()
	cancel, running := s.active[id]
	s.mu.Unlock()
	if running {
		cancel()
	}

	j.State = StateCancelled
	j.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, j); err != nil {
		return err
	}
	s.invalidateJobCache(ctx, id)
	s.invalidateListCache(ctx, j.CredentialID)
	return nil
}

// CleanupOlderThan deletes completed/failed/cancelled jobs last updated
// before the retention cutoff (SPEC_FULL.md §C admin cleanup sweep).
func (s *Service) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	stale, err := s.repo.ListOlderThan(ctx, []State{StateCompleted, StateFailed, StateCancelled}, cutoff)
	if err != nil {
		return 0, err
	}
	for _, j := range stale {
		if err := s.repo.Delete(ctx, j.ID); err != nil {
			s.logger.Error(err, "failed to delete stale job during cleanup sweep", "job_id", j.ID)
			continue
		}
	}
	return len(stale), nil
}

func (s *Service) invalidateJobCache(ctx context.Context, id string) {
	s.jobCache.Delete(ctx, id)
}

func (s *Service) invalidateListCache(ctx context.Context, credentialID string) {
	s.listCache.DeletePattern(ctx, "jobs:"+credentialID+":*")
}
