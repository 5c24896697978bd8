package webhook

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository, used by tests and by the
// engine's own unit tests in place of the Postgres-backed implementation.
type MemoryRepository struct {
	mu         sync.Mutex
	deliveries map[string]*Delivery
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deliveries: make(map[string]*Delivery)}
}

func (r *MemoryRepository) Create(ctx context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListByJob(ctx context.Context, jobID string) ([]*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Delivery
	for _, d := range r.deliveries {
		if d.JobID == jobID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListDueRetries(ctx context.Context, before time.Time) ([]*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Delivery
	for _, d := range r.deliveries {
		if d.State == StateRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(before) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) PurgeOlderThan(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, d := range r.deliveries {
		if d.CreatedAt.Before(before) {
			delete(r.deliveries, id)
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) Statistics(ctx context.Context) (Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Statistics
	for _, d := range r.deliveries {
		s.Total++
		switch d.State {
		case StateSent:
			s.Successes++
		case StateFailed:
			s.Failures++
		case StatePending:
			s.Pending++
		case StateRetrying:
			s.Retrying++
		case StateAbandoned:
			s.Abandoned++
		}
	}
	return s, nil
}
