package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/cache"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
)

const secretByteLength = 32

// Service resolves raw API tokens into Credential records (cache-then-
// database per spec §4.L) and mints/revokes credentials for the admin
// CLI.
type Service struct {
	repo   Repository
	cache  *cache.Cache[Credential]
	logger logr.Logger
}

// NewService wires a Service. cache is typically backed by the remote
// cache client under the api_key category TTL (spec §4.A).
func NewService(repo Repository, credCache *cache.Cache[Credential], logger logr.Logger) *Service {
	return &Service{repo: repo, cache: credCache, logger: logger}
}

// HashSecret returns the hex-encoded SHA-256 digest of raw (no secret key is
// mixed in), which is what a raw token resolves to. Exported so
// the admin CLI can hash a freshly minted secret the same way Resolve
// looks one up.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Resolve validates a raw token extracted from the request (spec §4.L:
// X-API-Key header or Authorization: Bearer) and returns the usable
// credential it names.
func (s *Service) Resolve(ctx context.Context, rawToken string) (*Credential, error) {
	if rawToken == "" {
		return nil, apperrors.NewAuthError("missing API credential")
	}
	hash := HashSecret(rawToken)

	if cached, ok := s.cache.Get(ctx, hash); ok {
		if !cached.Usable(time.Now()) {
			return nil, apperrors.NewAuthError("credential is not active")
		}
		cp := *cached
		return &cp, nil
	}

	c, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, apperrors.NewAuthError("invalid API credential")
	}
	s.cache.Set(ctx, hash, *c, cache.DefaultTTLs[cache.CategoryAPIKey])
	if !c.Usable(time.Now()) {
		return nil, apperrors.NewAuthError("credential is not active")
	}
	return c, nil
}

// Mint generates a new random secret, persists its hash, and returns the
// raw secret exactly once (SPEC_FULL.md §C admin create-key).
func (s *Service) Mint(ctx context.Context, label string, tier ratelimit.Tier, admin bool) (rawSecret string, c *Credential, err error) {
	rawSecret, err = generateSecret()
	if err != nil {
		return "", nil, apperrors.NewProcessingError("generating credential secret", err)
	}

	now := time.Now()
	c = &Credential{
		ID:         uuid.NewString(),
		SecretHash: HashSecret(rawSecret),
		Label:      label,
		Tier:       tier,
		Active:     true,
		Admin:      admin,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return "", nil, err
	}
	return rawSecret, c, nil
}

// Revoke marks a credential revoked and invalidates its cache entry.
func (s *Service) Revoke(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	c.Active = false
	c.RevokedAt = time.Now()
	c.UpdatedAt = c.RevokedAt
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.cache.Delete(ctx, c.SecretHash)
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
