package job_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/pkg/cache"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/storage"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	started  []string
	block    chan struct{}
	canceled map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{block: make(chan struct{}), canceled: make(map[string]bool)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	f.started = append(f.started, j.ID)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		f.mu.Lock()
		f.canceled[j.ID] = true
		f.mu.Unlock()
	case <-f.block:
	}
	return nil
}

func newTestService(repo job.Repository, dispatcher job.Dispatcher) *job.Service {
	return newTestServiceWithPool(repo, dispatcher, 0)
}

func newTestServiceWithPool(repo job.Repository, dispatcher job.Dispatcher, poolSize int) *job.Service {
	registry := storage.NewRegistry()
	registry.Register(storage.NewLocalBackend("/tmp"))
	whitelist := cmdbuilder.NewDefaultWhitelist()
	listCache := cache.New[job.ListResult](nil, "test:jobs:list", time.Minute, 100, logr.Discard())
	jobCache := cache.New[job.Job](nil, "test:jobs:status", time.Minute, 100, logr.Discard())
	return job.NewService(repo, dispatcher, registry, whitelist, listCache, jobCache, logr.Discard(), poolSize)
}

var _ = Describe("Service", func() {
	var (
		repo       *job.MemoryRepository
		dispatcher *fakeDispatcher
		svc        *job.Service
		ctx        context.Context
	)

	BeforeEach(func() {
		repo = job.NewMemoryRepository()
		dispatcher = newFakeDispatcher()
		svc = newTestService(repo, dispatcher)
		ctx = context.Background()
	})

	It("persists a queued job and dispatches it asynchronously", func() {
		j, err := svc.Submit(ctx, job.SubmitRequest{
			CredentialID:  "cred-1",
			InputLocator:  "file:///in.mp4",
			OutputLocator: "file:///out.mp4",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(j.State).To(Equal(job.StateQueued))

		Eventually(func() []string {
			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			return dispatcher.started
		}).Should(ContainElement(j.ID))
	})

	It("rejects a submission referencing an unsupported storage scheme", func() {
		_, err := svc.Submit(ctx, job.SubmitRequest{
			InputLocator:  "ftp://host/in.mp4",
			OutputLocator: "file:///out.mp4",
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a submission whose operation fails validation", func() {
		_, err := svc.Submit(ctx, job.SubmitRequest{
			InputLocator:  "file:///in.mp4",
			OutputLocator: "file:///out.mp4",
			Operations:    []cmdbuilder.Operation{{Kind: cmdbuilder.OpTranscode, VideoCodec: "not_a_real_codec"}},
		})
		Expect(err).To(HaveOccurred())
	})

	It("bounds concurrent dispatches across jobs to the configured pool size", func() {
		d := newFakeDispatcher()
		pooled := newTestServiceWithPool(repo, d, 1)

		j1, err := pooled.Submit(ctx, job.SubmitRequest{InputLocator: "file:///a.mp4", OutputLocator: "file:///a-out.mp4"})
		Expect(err).NotTo(HaveOccurred())
		j2, err := pooled.Submit(ctx, job.SubmitRequest{InputLocator: "file:///b.mp4", OutputLocator: "file:///b-out.mp4"})
		Expect(err).NotTo(HaveOccurred())

		started := func() []string {
			d.mu.Lock()
			defer d.mu.Unlock()
			return append([]string(nil), d.started...)
		}

		Eventually(started).Should(ContainElement(j1.ID))
		Consistently(started, 200*time.Millisecond).ShouldNot(ContainElement(j2.ID))

		close(d.block)

		Eventually(started).Should(ContainElement(j2.ID))
	})

	It("rejects a submission once the credential is at its concurrency cap", func() {
		Expect(repo.Create(ctx, &job.Job{ID: "running", CredentialID: "cred-1", State: job.StateProcessing})).To(Succeed())

		_, err := svc.Submit(ctx, job.SubmitRequest{
			CredentialID: "cred-1", InputLocator: "file:///in.mp4", OutputLocator: "file:///out.mp4",
			MaxConcurrent: 1,
		})
		Expect(err).To(HaveOccurred())
	})

	It("cancels a running job by cancelling its dispatch context and marking it cancelled", func() {
		j, err := svc.Submit(ctx, job.SubmitRequest{
			CredentialID: "cred-1", InputLocator: "file:///in.mp4", OutputLocator: "file:///out.mp4",
		})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []string {
			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			return dispatcher.started
		}).Should(ContainElement(j.ID))

		Expect(svc.Cancel(ctx, j.ID)).To(Succeed())

		Eventually(func() bool {
			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			return dispatcher.canceled[j.ID]
		}).Should(BeTrue())

		got, err := svc.Get(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(job.StateCancelled))
	})

	It("refuses to cancel a job already in a terminal state", func() {
		Expect(repo.Create(ctx, &job.Job{ID: "done", State: job.StateCompleted})).To(Succeed())
		err := svc.Cancel(ctx, "done")
		Expect(err).To(HaveOccurred())
	})

	It("deletes terminal jobs older than the retention cutoff", func() {
		old := time.Now().Add(-72 * time.Hour)
		Expect(repo.Create(ctx, &job.Job{ID: "old", State: job.StateCompleted, UpdatedAt: old})).To(Succeed())
		Expect(repo.Create(ctx, &job.Job{ID: "fresh", State: job.StateCompleted, UpdatedAt: time.Now()})).To(Succeed())

		count, err := svc.CleanupOlderThan(ctx, 24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))

		_, err = repo.Get(ctx, "old")
		Expect(err).To(HaveOccurred())
		_, err = repo.Get(ctx, "fresh")
		Expect(err).NotTo(HaveOccurred())
	})
})
