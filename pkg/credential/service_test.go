package credential_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	goredis "github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/cache"
	rediscache "github.com/fluxcode/transcoder/pkg/cache/redis"
	"github.com/fluxcode/transcoder/pkg/credential"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
)

func newTestService() (*credential.Service, *credential.MemoryRepository, func()) {
	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	client := rediscache.NewClient(&goredis.Options{Addr: mr.Addr()}, logr.Discard())
	credCache := cache.New[credential.Credential](client, "cred", 300*time.Second, 1000, logr.Discard())
	repo := credential.NewMemoryRepository()
	svc := credential.NewService(repo, credCache, logr.Discard())
	return svc, repo, func() { client.Close(); mr.Close() }
}

var _ = Describe("Service", func() {
	var (
		svc     *credential.Service
		repo    *credential.MemoryRepository
		cleanup func()
		ctx     context.Context
	)

	BeforeEach(func() {
		svc, repo, cleanup = newTestService()
		ctx = context.Background()
	})

	AfterEach(func() { cleanup() })

	It("mints a credential and resolves it back by its raw secret", func() {
		raw, c, err := svc.Mint(ctx, "ci", ratelimit.TierPremium, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).NotTo(BeEmpty())
		Expect(c.Tier).To(Equal(ratelimit.TierPremium))

		resolved, err := svc.Resolve(ctx, raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.ID).To(Equal(c.ID))
		Expect(resolved.Tier).To(Equal(ratelimit.TierPremium))
	})

	It("rejects an unknown token", func() {
		_, err := svc.Resolve(ctx, "not-a-real-secret")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a revoked credential even when cached", func() {
		raw, c, err := svc.Mint(ctx, "ci", ratelimit.TierFree, false)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Resolve(ctx, raw) // warm the cache
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Revoke(ctx, c.ID)).To(Succeed())

		_, err = svc.Resolve(ctx, raw)
		Expect(err).To(HaveOccurred())
	})

	It("serves a repeat lookup from the cache without hitting the repository again", func() {
		raw, _, err := svc.Mint(ctx, "ci", ratelimit.TierFree, false)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Resolve(ctx, raw)
		Expect(err).NotTo(HaveOccurred())

		hash := credential.HashSecret(raw)
		stored, err := repo.GetByHash(ctx, hash)
		Expect(err).NotTo(HaveOccurred())
		stored.Active = false
		Expect(repo.Update(ctx, stored)).To(Succeed())

		// The cached copy (still active) should still resolve.
		resolved, err := svc.Resolve(ctx, raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.Active).To(BeTrue())
	})

	It("rejects an empty token", func() {
		_, err := svc.Resolve(ctx, "")
		Expect(err).To(HaveOccurred())
	})
})
