package webhook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/webhook"
)

var _ = Describe("Engine", func() {
	var (
		repo *webhook.MemoryRepository
		ctx  context.Context
	)

	BeforeEach(func() {
		repo = webhook.NewMemoryRepository()
		ctx = context.Background()
	})

	It("records a successful delivery with a valid signature header (scenario 2 shape)", func() {
		var receivedSig string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedSig = r.Header.Get("X-Webhook-Signature")
			Expect(r.Header.Get("X-Webhook-Event")).To(Equal("complete"))
			Expect(r.Header.Get("X-Job-ID")).To(Equal("job-1"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		engine := webhook.NewEngine(repo, nil, logr.Discard(), webhook.WithSecret("topsecret"))
		ok, err := engine.Send(ctx, "job-1", webhook.EventComplete, srv.URL, map[string]interface{}{"status": "completed"}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(receivedSig).To(HavePrefix("sha256="))

		deliveries, err := repo.ListByJob(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(deliveries).To(HaveLen(1))
		Expect(deliveries[0].State).To(Equal(webhook.StateSent))
	})

	It("schedules a retry on a 500 response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		engine := webhook.NewEngine(repo, nil, logr.Discard())
		ok, err := engine.Send(ctx, "job-2", webhook.EventComplete, srv.URL, nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		deliveries, _ := repo.ListByJob(ctx, "job-2")
		Expect(deliveries[0].State).To(Equal(webhook.StateRetrying))
		Expect(deliveries[0].NextRetryAt).NotTo(BeNil())
	})

	It("does not retry on a non-retryable 4xx", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		engine := webhook.NewEngine(repo, nil, logr.Discard())
		ok, err := engine.Send(ctx, "job-3", webhook.EventComplete, srv.URL, nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		deliveries, _ := repo.ListByJob(ctx, "job-3")
		Expect(deliveries[0].State).To(Equal(webhook.StateFailed))
	})

	It("abandons after exhausting the retry schedule, keeping one delivery row per attempt (scenario 3)", func() {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		engine := webhook.NewEngine(repo, nil, logr.Discard(), webhook.WithMaxAttempts(5))
		ok, err := engine.Send(ctx, "job-4", webhook.EventComplete, srv.URL, nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		// Force whichever row is currently scheduled to retry due
		// immediately, instead of waiting out the real delay table.
		forceDue := func() {
			deliveries, _ := repo.ListByJob(ctx, "job-4")
			for _, d := range deliveries {
				if d.State == webhook.StateRetrying && d.NextRetryAt != nil {
					past := time.Now().Add(-time.Second)
					d.NextRetryAt = &past
					Expect(repo.Update(ctx, d)).To(Succeed())
				}
			}
		}

		for i := 0; i < 10; i++ {
			forceDue()
			engine.ProcessDueRetries(ctx)
		}

		deliveries, _ := repo.ListByJob(ctx, "job-4")
		Expect(deliveries).To(HaveLen(5))

		sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].Attempt < deliveries[j].Attempt })
		for i, d := range deliveries {
			Expect(d.Attempt).To(Equal(i + 1))
		}
		Expect(deliveries[4].State).To(Equal(webhook.StateAbandoned))
		Expect(int(atomic.LoadInt32(&attempts))).To(Equal(5))
	})

	It("reports a success rate consistent with successful/total (property 4)", func() {
		okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer okSrv.Close()
		badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer badSrv.Close()

		engine := webhook.NewEngine(repo, nil, logr.Discard())
		engine.Send(ctx, "job-5", webhook.EventComplete, okSrv.URL, nil, true)
		engine.Send(ctx, "job-6", webhook.EventError, badSrv.URL, nil, true)

		stats, err := engine.Statistics(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Total).To(Equal(int64(2)))
		Expect(stats.SuccessRate()).To(BeNumerically("~", 50.0, 0.01))
	})

	It("rejects a submission to a private-IP target before sending", func() {
		engine := webhook.NewEngine(repo, nil, logr.Discard())
		_, err := engine.Send(ctx, "job-7", webhook.EventComplete, "http://127.0.0.1/hook", nil, true)
		Expect(err).To(HaveOccurred())
	})
})
