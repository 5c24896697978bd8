package job

import (
	"context"
	"time"
)

// Repository persists Job records. MemoryRepository backs tests;
// PostgresRepository is the production implementation.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, j *Job) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	// ListOlderThan returns jobs in any of states whose UpdatedAt is before
	// olderThan, for the cleanup sweep.
	ListOlderThan(ctx context.Context, states []State, olderThan time.Time) ([]*Job, error)
	// CountActive returns the number of jobs in state=processing for a
	// credential, for the per-tier concurrency cap.
	CountActive(ctx context.Context, credentialID string) (int, error)
	// ListByBatch returns every child job belonging to a batch, in
	// creation order, for the batch coordinator's scheduler tick.
	ListByBatch(ctx context.Context, batchID string) ([]*Job, error)
}
