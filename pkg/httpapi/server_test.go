package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/internal/config"
	"github.com/fluxcode/transcoder/pkg/batch"
	"github.com/fluxcode/transcoder/pkg/cache"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
	"github.com/fluxcode/transcoder/pkg/credential"
	"github.com/fluxcode/transcoder/pkg/httpapi"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/lock"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
	"github.com/fluxcode/transcoder/pkg/storage"
)

// instantDispatcher returns immediately without changing job state or
// touching the filesystem, exercising the orchestrator's queued->processing handoff
// without a real worker pipeline.
type instantDispatcher struct{}

func (instantDispatcher) Dispatch(ctx context.Context, j *job.Job) error { return nil }

func newTestServer() (*httptest.Server, *credential.Service, func()) {
	cfg := config.Default()
	cfg.Server.Port = 0

	registry := storage.NewRegistry()
	registry.Register(storage.NewLocalBackend("/tmp"))
	whitelist := cmdbuilder.NewDefaultWhitelist()

	jobRepo := job.NewMemoryRepository()
	jobSvc := job.NewService(
		jobRepo, instantDispatcher{}, registry, whitelist,
		cache.New[job.ListResult](nil, "test:jobs:list", time.Minute, 100, logr.Discard()),
		cache.New[job.Job](nil, "test:jobs:status", time.Minute, 100, logr.Discard()),
		logr.Discard(), 8,
	)

	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	batchRepo := batch.NewMemoryRepository(jobRepo)
	locks := lock.NewManager(rdb)
	batchCoord := batch.NewCoordinator(batchRepo, jobRepo, instantDispatcher{}, locks, nil, logr.Discard())

	credRepo := credential.NewMemoryRepository()
	credCache := cache.New[credential.Credential](nil, "test:cred", 300*time.Second, 100, logr.Discard())
	credSvc := credential.NewService(credRepo, credCache, logr.Discard())

	limiter := ratelimit.NewLimiter(nil, nil, logr.Discard())

	srv := httpapi.NewServer(cfg, jobSvc, batchCoord, credSvc, limiter, registry, logr.Discard())
	ts := httptest.NewServer(srv.Router())
	return ts, credSvc, func() {
		ts.Close()
		rdb.Close()
		mr.Close()
	}
}

func doJSON(method, url, token string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequest(method, url, &buf)
	Expect(err).NotTo(HaveOccurred())
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Server", func() {
	var (
		ts      *httptest.Server
		credSvc *credential.Service
		cleanup func()
		token   string
	)

	BeforeEach(func() {
		ts, credSvc, cleanup = newTestServer()
		raw, _, err := credSvc.Mint(context.Background(), "test", ratelimit.TierPremium, false)
		Expect(err).NotTo(HaveOccurred())
		token = raw
	})

	AfterEach(func() { cleanup() })

	It("rejects a request with no credential", func() {
		resp := doJSON("GET", ts.URL+"/api/v1/jobs/", "", nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		var env map[string]map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		Expect(env["error"]["code"]).To(Equal("ACCESS_DENIED"))
	})

	It("submits a job and reads it back", func() {
		resp := doJSON("POST", ts.URL+"/api/v1/jobs/", token, map[string]interface{}{
			"input_path":  "file:///in.mp4",
			"output_path": "file:///out.mp4",
			"operations": []map[string]interface{}{
				{"type": "transcode", "video_codec": "h264"},
			},
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		var created job.Job
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.ID).NotTo(BeEmpty())

		getResp := doJSON("GET", ts.URL+"/api/v1/jobs/"+created.ID, token, nil)
		defer getResp.Body.Close()
		Expect(getResp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects an unknown operation type", func() {
		resp := doJSON("POST", ts.URL+"/api/v1/jobs/", token, map[string]interface{}{
			"input_path":  "file:///in.mp4",
			"output_path": "file:///out.mp4",
			"operations": []map[string]interface{}{
				{"type": "bogus"},
			},
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("rejects a non-admin credential on the admin surface", func() {
		resp := doJSON("GET", ts.URL+"/api/v1/admin/storage/status", token, nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("allows an admin credential on the admin surface", func() {
		rawAdmin, _, err := credSvc.Mint(context.Background(), "ops", ratelimit.TierEnterprise, true)
		Expect(err).NotTo(HaveOccurred())

		resp := doJSON("GET", ts.URL+"/api/v1/admin/storage/status", rawAdmin, nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("enqueues a batch and reads it back", func() {
		resp := doJSON("POST", ts.URL+"/api/v1/batches/", token, map[string]interface{}{
			"concurrency_cap": 2,
			"children": []map[string]interface{}{
				{"input_path": "file:///a.mp4", "output_path": "file:///a-out.mp4"},
				{"input_path": "file:///b.mp4", "output_path": "file:///b-out.mp4"},
			},
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		var created batch.Batch
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.TotalChildren).To(Equal(2))
	})
})
