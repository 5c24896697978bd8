package credential

import "context"

// Repository persists Credential records, keyed by their hashed secret for
// the authentication lookup path and by ID for admin management.
type Repository interface {
	Create(ctx context.Context, c *Credential) error
	GetByHash(ctx context.Context, secretHash string) (*Credential, error)
	Get(ctx context.Context, id string) (*Credential, error)
	Update(ctx context.Context, c *Credential) error
}
