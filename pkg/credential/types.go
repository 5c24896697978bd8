// Package credential owns the API Credential entity (spec §3) and the
// resolve/mint/revoke operations the HTTP surface's authentication
// middleware depends on.
package credential

import (
	"time"

	"github.com/fluxcode/transcoder/pkg/ratelimit"
)

// Credential is an authenticated principal. The raw secret is never
// persisted; only its unkeyed SHA-256 digest is. Tier reuses ratelimit.Tier directly: this is the "proper tier
// column on the credential record" spec §9 recommends in place of
// ratelimit.ResolveTier's prefix inference, which remains only as the
// compatibility fallback a rate-limit check can use before a full
// credential lookup completes.
type Credential struct {
	ID         string
	SecretHash string
	Label      string
	Tier       ratelimit.Tier
	Active     bool
	Admin      bool
	RevokedAt  time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Usable reports whether the credential may currently authenticate a
// request: active, not revoked, and not expired.
func (c *Credential) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.RevokedAt.IsZero() {
		return false
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return false
	}
	return true
}

// ConcurrencyCap returns the per-tier concurrency cap enforced by the Job
// Orchestrator on submission.
func (c *Credential) ConcurrencyCap() int {
	cfg, ok := ratelimit.DefaultTierConfigs[c.Tier]
	if !ok {
		cfg = ratelimit.DefaultTierConfigs[ratelimit.TierFree]
	}
	return cfg.MaxConcurrentJobs
}
