package job

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// MemoryRepository is an in-process Repository, used by tests.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

func (r *MemoryRepository) Create(ctx context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job not found")
	}
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) Update(ctx context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		return apperrors.NewNotFoundError("job not found")
	}
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Job
	for _, j := range r.jobs {
		if filter.CredentialID != "" && j.CredentialID != filter.CredentialID {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		cp := *j
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
	return &ListResult{Jobs: matched[start:end], Total: total}, nil
}

func (r *MemoryRepository) ListOlderThan(ctx context.Context, states []State, olderThan time.Time) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[State]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	var out []*Job
	for _, j := range r.jobs {
		if wanted[j.State] && j.UpdatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListByBatch(ctx context.Context, batchID string) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Job
	for _, j := range r.jobs {
		if j.BatchID == batchID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CountActive(ctx context.Context, credentialID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, j := range r.jobs {
		if j.CredentialID == credentialID && j.State == StateProcessing {
			count++
		}
	}
	return count, nil
}
