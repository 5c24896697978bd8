package batch

import "context"

// Repository persists Batch records. Creating a batch also creates its
// child jobs as one transactional unit, since a batch with no children
// persisted is meaningless and the reverse (children with no batch row)
// would leave the coordinator unable to schedule them.
type Repository interface {
	Create(ctx context.Context, b *Batch, req EnqueueRequest) error
	Get(ctx context.Context, id string) (*Batch, error)
	Update(ctx context.Context, b *Batch) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}
