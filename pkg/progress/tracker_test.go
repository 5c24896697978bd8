package progress_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/pkg/progress"
)

type progressWrite struct {
	percentage float64
	stage      string
	stats      progress.Stats
}

type fakeStore struct {
	mu        sync.Mutex
	writes    []progressWrite
	completed []string
	failed    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{failed: make(map[string]string)}
}

func (f *fakeStore) UpdateProgress(ctx context.Context, jobID string, percentage float64, stage string, stats progress.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, progressWrite{percentage, stage, stats})
	return nil
}

func (f *fakeStore) Complete(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, jobID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = message
	return nil
}

type fakeCache struct {
	mu       sync.Mutex
	patterns []string
}

func (f *fakeCache) DeletePattern(ctx context.Context, glob string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, glob)
	return 0
}

var _ = Describe("Tracker", func() {
	var (
		store   *fakeStore
		cache   *fakeCache
		tracker *progress.Tracker
		ctx     context.Context
	)

	BeforeEach(func() {
		store = newFakeStore()
		cache = &fakeCache{}
		ctx = context.Background()
		tracker = progress.NewTracker(store, cache, logr.Discard(), time.Hour)
	})

	It("discards a callback that is neither a big jump, 100%, nor past the interval", func() {
		Expect(tracker.OnProgress(ctx, "job-1", 10, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnProgress(ctx, "job-1", 12, "processing", progress.Stats{})).To(Succeed())
		Expect(store.writes).To(HaveLen(1), "second callback's |Δ| is only 2, below the 5-point threshold, and the interval hasn't elapsed")
	})

	It("writes when |Δ percentage| >= 5 even before the interval elapses", func() {
		Expect(tracker.OnProgress(ctx, "job-1", 10, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnProgress(ctx, "job-1", 16, "processing", progress.Stats{})).To(Succeed())
		Expect(store.writes).To(HaveLen(2))
		Expect(store.writes[1].percentage).To(Equal(16.0))
	})

	It("always writes on percentage == 100 regardless of delta or interval", func() {
		Expect(tracker.OnProgress(ctx, "job-1", 10, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnProgress(ctx, "job-1", 100, "processing", progress.Stats{})).To(Succeed())
		Expect(store.writes).To(HaveLen(2))
		Expect(store.writes[1].percentage).To(Equal(100.0))
	})

	It("enforces monotonic non-decreasing percentage within a processing epoch", func() {
		Expect(tracker.OnProgress(ctx, "job-1", 50, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnProgress(ctx, "job-1", 30, "processing", progress.Stats{})).To(Succeed())
		Expect(store.writes).To(HaveLen(1), "the regression itself isn't a qualifying delta once clamped to the last value")
	})

	It("invalidates every cache entry whose key includes the job identifier after a persisted write", func() {
		Expect(tracker.OnProgress(ctx, "job-42", 100, "processing", progress.Stats{})).To(Succeed())
		Expect(cache.patterns).To(ContainElement("*job-42*"))
	})

	It("writes 100% and stage completed on OnComplete", func() {
		Expect(tracker.OnComplete(ctx, "job-1")).To(Succeed())
		Expect(store.completed).To(ContainElement("job-1"))
		Expect(cache.patterns).To(ContainElement("*job-1*"))
	})

	It("transitions to failed with a sanitized error message on OnError", func() {
		err := tracker.OnError(ctx, "job-1", errors.New("db password=supersecret123 refused connection"))
		Expect(err).NotTo(HaveOccurred())
		Expect(store.failed["job-1"]).NotTo(ContainSubstring("supersecret123"))
	})

	It("resets throttle state between processing epochs so a retry's first write always lands", func() {
		Expect(tracker.OnProgress(ctx, "job-1", 90, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnError(ctx, "job-1", errors.New("boom"))).To(Succeed())

		Expect(tracker.OnProgress(ctx, "job-1", 5, "processing", progress.Stats{})).To(Succeed())
		Expect(store.writes).To(HaveLen(2), "a fresh epoch must not inherit the previous epoch's high-water mark")
	})

	It("keeps throttle state independent across jobs", func() {
		Expect(tracker.OnProgress(ctx, "job-a", 10, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnProgress(ctx, "job-b", 10, "processing", progress.Stats{})).To(Succeed())
		Expect(tracker.OnProgress(ctx, "job-a", 12, "processing", progress.Stats{})).To(Succeed())
		Expect(store.writes).To(HaveLen(2))
	})
})
