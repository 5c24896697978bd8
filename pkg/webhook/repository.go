package webhook

import (
	"context"
	"time"
)

// Statistics is the aggregate delivery-outcome summary from spec §4.E.
type Statistics struct {
	Total       int64
	Successes   int64
	Failures    int64
	Pending     int64
	Retrying    int64
	Abandoned   int64
}

// SuccessRate returns successful/total*100, or 0 when there are no
// deliveries yet. Spec §8 property 4 requires this within ±0.01.
func (s Statistics) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total) * 100
}

// Repository persists Delivery records. Production code uses the Postgres
// implementation; tests use the in-memory one.
type Repository interface {
	Create(ctx context.Context, d *Delivery) error
	Update(ctx context.Context, d *Delivery) error
	ListByJob(ctx context.Context, jobID string) ([]*Delivery, error)
	ListDueRetries(ctx context.Context, before time.Time) ([]*Delivery, error)
	PurgeOlderThan(ctx context.Context, before time.Time) (int, error)
	Statistics(ctx context.Context) (Statistics, error)
}
