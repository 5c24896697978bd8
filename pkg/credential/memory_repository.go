package credential

import (
	"context"
	"sync"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// MemoryRepository is an in-process Repository, used by tests.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*Credential
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Credential)}
}

func (r *MemoryRepository) Create(ctx context.Context, c *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByHash(ctx context.Context, secretHash string) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.SecretHash == secretHash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("credential not found")
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("credential not found")
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) Update(ctx context.Context, c *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; !ok {
		return apperrors.NewNotFoundError("credential not found")
	}
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}
