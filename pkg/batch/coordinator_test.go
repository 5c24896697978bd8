package batch_test

import (
	"context"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/pkg/batch"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/lock"
)

// fakeDispatcher returns immediately without changing a child's state,
// unless told to block or fail a specific input locator.
type fakeDispatcher struct {
	mu      sync.Mutex
	fail    map[string]bool
	block   map[string]chan struct{}
	started []string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{fail: map[string]bool{}, block: map[string]chan struct{}{}}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	f.started = append(f.started, j.ID)
	block := f.block[j.InputLocator]
	shouldFail := f.fail[j.InputLocator]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if shouldFail {
		return errFakeDispatch
	}
	return nil
}

var errFakeDispatch = fakeDispatchError("dispatch failed")

type fakeDispatchError string

func (e fakeDispatchError) Error() string { return string(e) }

func newCoordinator(jobs job.Repository, dispatcher job.Dispatcher, mr *miniredis.Miniredis) *batch.Coordinator {
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locks := lock.NewManager(rdb)
	repo := batch.NewMemoryRepository(jobs)
	return batch.NewCoordinator(repo, jobs, dispatcher, locks, nil, logr.Discard())
}

var _ = Describe("Coordinator", func() {
	var (
		mr   *miniredis.Miniredis
		jobs job.Repository
		ctx  context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		jobs = job.NewMemoryRepository()
		ctx = context.Background()
	})

	AfterEach(func() {
		mr.Close()
	})

	childSpecs := func(n int) []batch.ChildSpec {
		specs := make([]batch.ChildSpec, n)
		for i := range specs {
			specs[i] = batch.ChildSpec{InputLocator: "in", OutputLocator: "out"}
		}
		return specs
	}

	It("enqueues a batch and creates every child job as queued", func() {
		dispatcher := newFakeDispatcher()
		c := newCoordinator(jobs, dispatcher, mr)

		b, err := c.Enqueue(ctx, batch.EnqueueRequest{
			CredentialID:   "cred-1",
			ConcurrencyCap: 2,
			Children:       childSpecs(3),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.TotalChildren).To(Equal(3))
		Expect(b.MaxRetries).To(Equal(batch.DefaultMaxRetries))

		children, err := jobs.ListByBatch(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(children).To(HaveLen(3))
		for _, child := range children {
			Expect(child.State).To(Equal(job.StateQueued))
			Expect(child.BatchID).To(Equal(b.ID))
		}
	})

	It("rejects an empty batch", func() {
		c := newCoordinator(jobs, newFakeDispatcher(), mr)
		_, err := c.Enqueue(ctx, batch.EnqueueRequest{CredentialID: "cred-1", ConcurrencyCap: 1})
		Expect(err).To(HaveOccurred())
	})

	It("promotes only up to the concurrency cap on a tick", func() {
		dispatcher := newFakeDispatcher()
		block := make(chan struct{})
		dispatcher.block["in"] = block
		c := newCoordinator(jobs, dispatcher, mr)

		b, err := c.Enqueue(ctx, batch.EnqueueRequest{
			CredentialID:   "cred-1",
			ConcurrencyCap: 2,
			Children:       childSpecs(5),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Tick(ctx, b.ID)).To(Succeed())

		got, err := c.Get(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ProcessingCount).To(Equal(2))
		Expect(got.QueuedCount).To(Equal(3))

		close(block)
	})

	It("retries a failed child up to the batch's max retries", func() {
		dispatcher := newFakeDispatcher()
		dispatcher.fail["in"] = true
		c := newCoordinator(jobs, dispatcher, mr)

		b, err := c.Enqueue(ctx, batch.EnqueueRequest{
			CredentialID:   "cred-1",
			ConcurrencyCap: 1,
			MaxRetries:     2,
			Children:       childSpecs(1),
		})
		Expect(err).NotTo(HaveOccurred())

		children, _ := jobs.ListByBatch(ctx, b.ID)
		child := children[0]

		// Simulate the worker pipeline marking the dispatched child failed
		// (the fake dispatcher itself doesn't touch job state).
		markFailed := func() {
			current, err := jobs.Get(ctx, child.ID)
			Expect(err).NotTo(HaveOccurred())
			current.State = job.StateFailed
			current.ErrorMessage = "boom"
			Expect(jobs.Update(ctx, current)).To(Succeed())
		}

		Expect(c.Tick(ctx, b.ID)).To(Succeed()) // promotes to processing
		markFailed()

		Expect(c.Tick(ctx, b.ID)).To(Succeed()) // retries: failed -> queued, retry_count=1
		retried, err := jobs.Get(ctx, child.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(retried.State).To(Equal(job.StateQueued))
		Expect(retried.RetryCount).To(Equal(1))
	})

	It("marks the batch completed once every child reaches a terminal state", func() {
		dispatcher := newFakeDispatcher()
		c := newCoordinator(jobs, dispatcher, mr)

		b, err := c.Enqueue(ctx, batch.EnqueueRequest{
			CredentialID:   "cred-1",
			ConcurrencyCap: 5,
			Children:       childSpecs(2),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Tick(ctx, b.ID)).To(Succeed())
		Eventually(func() []string {
			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			return append([]string{}, dispatcher.started...)
		}, time.Second).Should(HaveLen(2))

		children, _ := jobs.ListByBatch(ctx, b.ID)
		for _, child := range children {
			child.State = job.StateCompleted
			Expect(jobs.Update(ctx, child)).To(Succeed())
		}

		Expect(c.Tick(ctx, b.ID)).To(Succeed())
		got, err := c.Get(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(batch.StateCompleted))
		Expect(got.CompletedAt).NotTo(BeZero())
	})

	It("marks the batch failed if any child exhausts its retries", func() {
		dispatcher := newFakeDispatcher()
		c := newCoordinator(jobs, dispatcher, mr)

		b, err := c.Enqueue(ctx, batch.EnqueueRequest{
			CredentialID:   "cred-1",
			ConcurrencyCap: 1,
			MaxRetries:     0,
			Children:       childSpecs(1),
		})
		Expect(err).NotTo(HaveOccurred())

		children, _ := jobs.ListByBatch(ctx, b.ID)
		child := children[0]
		child.State = job.StateFailed
		Expect(jobs.Update(ctx, child)).To(Succeed())

		Expect(c.Tick(ctx, b.ID)).To(Succeed())
		got, err := c.Get(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(batch.StateFailed))
	})

	It("cancels every non-terminal child and refuses further dispatch", func() {
		dispatcher := newFakeDispatcher()
		block := make(chan struct{})
		dispatcher.block["in"] = block
		defer close(block)
		c := newCoordinator(jobs, dispatcher, mr)

		b, err := c.Enqueue(ctx, batch.EnqueueRequest{
			CredentialID:   "cred-1",
			ConcurrencyCap: 5,
			Children:       childSpecs(3),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Tick(ctx, b.ID)).To(Succeed())

		Expect(c.Cancel(ctx, b.ID)).To(Succeed())

		got, err := c.Get(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(batch.StateCancelled))

		children, _ := jobs.ListByBatch(ctx, b.ID)
		for _, child := range children {
			Expect(child.State).To(Equal(job.StateCancelled))
		}

		Expect(c.Tick(ctx, b.ID)).To(Succeed())
		got, _ = c.Get(ctx, b.ID)
		Expect(got.State).To(Equal(batch.StateCancelled))
	})
})
