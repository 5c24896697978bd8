// Package progress throttles a worker's live processing callbacks down to
// the writes that actually matter, persisting them to the job record and
// invalidating any cache entry that mentions the job (spec §4.G).
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/internal/sanitize"
)

// DefaultUpdateInterval is the minimum time between persisted writes absent
// a large percentage jump or completion.
const DefaultUpdateInterval = 2 * time.Second

// deltaThreshold is the minimum |Δ percentage| that forces a write even
// before DefaultUpdateInterval has elapsed.
const deltaThreshold = 5.0

// Stats is the processing-statistics snapshot persisted alongside a
// progress write.
type Stats struct {
	CurrentFrame  int64
	FPS           float64
	Bitrate       string
	Speed         float64
	TimeProcessed float64
	LastUpdate    time.Time
}

// JobStore is the subset of job persistence the tracker needs. The job
// orchestrator's repository implements this.
type JobStore interface {
	UpdateProgress(ctx context.Context, jobID string, percentage float64, stage string, stats Stats) error
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, message string) error
}

// CacheInvalidator matches pkg/cache.Cache[T].DeletePattern for any T, so
// any instantiated cache can be passed here without the tracker needing to
// know the cached value type.
type CacheInvalidator interface {
	DeletePattern(ctx context.Context, glob string) int
}

type jobThrottleState struct {
	lastWrite      time.Time
	lastPercentage float64
}

// Tracker is the throttled writer from spec §4.G. One Tracker serves every
// job a worker process handles; per-job throttle state is keyed by job ID.
type Tracker struct {
	store          JobStore
	cache          CacheInvalidator
	logger         logr.Logger
	updateInterval time.Duration

	mu    sync.Mutex
	state map[string]*jobThrottleState
}

// NewTracker constructs a Tracker. A zero updateInterval selects
// DefaultUpdateInterval.
func NewTracker(store JobStore, cache CacheInvalidator, logger logr.Logger, updateInterval time.Duration) *Tracker {
	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}
	return &Tracker{
		store:          store,
		cache:          cache,
		logger:         logger,
		updateInterval: updateInterval,
		state:          make(map[string]*jobThrottleState),
	}
}

// OnProgress applies the throttling rule: a write happens when
// updateInterval has elapsed since the last write, |Δ percentage| ≥ 5, or
// percentage == 100. All other callbacks are discarded. Percentage is
// clamped to be monotonic non-decreasing within the job's processing epoch.
func (t *Tracker) OnProgress(ctx context.Context, jobID string, percentage float64, stage string, stats Stats) error {
	t.mu.Lock()
	st, ok := t.state[jobID]
	if !ok {
		st = &jobThrottleState{}
		t.state[jobID] = st
	}

	if percentage < st.lastPercentage {
		percentage = st.lastPercentage
	}

	elapsed := st.lastWrite.IsZero() || time.Since(st.lastWrite) >= t.updateInterval
	delta := percentage - st.lastPercentage
	if delta < 0 {
		delta = -delta
	}
	shouldWrite := elapsed || delta >= deltaThreshold || percentage == 100

	if !shouldWrite {
		t.mu.Unlock()
		return nil
	}

	st.lastWrite = time.Now()
	st.lastPercentage = percentage
	t.mu.Unlock()

	if stats.LastUpdate.IsZero() {
		stats.LastUpdate = time.Now()
	}

	if err := t.store.UpdateProgress(ctx, jobID, percentage, stage, stats); err != nil {
		t.logger.Error(err, "failed to persist progress", "job_id", jobID)
		return err
	}
	t.invalidate(ctx, jobID)
	return nil
}

// OnComplete writes 100% and stage "completed", per spec §4.G.
func (t *Tracker) OnComplete(ctx context.Context, jobID string) error {
	t.clearState(jobID)
	if err := t.store.Complete(ctx, jobID); err != nil {
		t.logger.Error(err, "failed to persist completion", "job_id", jobID)
		return err
	}
	t.invalidate(ctx, jobID)
	return nil
}

// OnError transitions the job to failed and stores the sanitized error
// message, per spec §4.G.
func (t *Tracker) OnError(ctx context.Context, jobID string, cause error) error {
	t.clearState(jobID)
	message := sanitize.String(cause.Error())
	if err := t.store.Fail(ctx, jobID, message); err != nil {
		t.logger.Error(err, "failed to persist failure", "job_id", jobID)
		return err
	}
	t.invalidate(ctx, jobID)
	return nil
}

func (t *Tracker) clearState(jobID string) {
	t.mu.Lock()
	delete(t.state, jobID)
	t.mu.Unlock()
}

// invalidate removes every cache entry whose key includes the job
// identifier, per spec §4.G's "after every persisted state change" rule.
func (t *Tracker) invalidate(ctx context.Context, jobID string) {
	if t.cache == nil {
		return
	}
	t.cache.DeletePattern(ctx, "*"+jobID+"*")
}
