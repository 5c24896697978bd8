package batch

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/job"
)

// MemoryRepository is an in-process Repository, used by tests. Child jobs
// are created through the same job.Repository the rest of the system
// uses, so a batch's children are ordinary jobs from any other package's
// point of view.
type MemoryRepository struct {
	mu      sync.Mutex
	batches map[string]*Batch
	jobs    job.Repository
}

// NewMemoryRepository constructs an empty MemoryRepository backed by jobs
// for child persistence.
func NewMemoryRepository(jobs job.Repository) *MemoryRepository {
	return &MemoryRepository{batches: make(map[string]*Batch), jobs: jobs}
}

func (r *MemoryRepository) Create(ctx context.Context, b *Batch, req EnqueueRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := make([]string, 0, len(req.Children))
	for _, spec := range req.Children {
		child := &job.Job{
			ID:            uuid.NewString(),
			CredentialID:  req.CredentialID,
			State:         job.StateQueued,
			InputLocator:  spec.InputLocator,
			OutputLocator: spec.OutputLocator,
			Options:       spec.Options,
			Operations:    spec.Operations,
			BatchID:       b.ID,
			Priority:      spec.Priority,
			CreatedAt:     b.CreatedAt,
			UpdatedAt:     b.CreatedAt,
		}
		if err := r.jobs.Create(ctx, child); err != nil {
			for _, id := range created {
				_ = r.jobs.Delete(ctx, id)
			}
			return err
		}
		created = append(created, child.ID)
	}

	cp := *b
	r.batches[b.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("batch not found")
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) Update(ctx context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.ID]; !ok {
		return apperrors.NewNotFoundError("batch not found")
	}
	cp := *b
	r.batches[b.ID] = &cp
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Batch
	for _, b := range r.batches {
		if filter.CredentialID != "" && b.CredentialID != filter.CredentialID {
			continue
		}
		if filter.State != "" && b.State != filter.State {
			continue
		}
		cp := *b
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.After(matched[k].CreatedAt) })

	total := len(matched)
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &ListResult{Batches: matched[start:end], Total: total}, nil
}
