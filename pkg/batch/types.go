// Package batch implements the Batch Coordinator (spec §4.J): grouping a
// set of child jobs behind a shared concurrency cap, retry policy, and
// aggregate lifecycle, reusing the Job Orchestrator's own repository and
// dispatcher for the children themselves.
package batch

import (
	"time"

	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

// State is the aggregate lifecycle state of a batch.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further scheduler tick should act on this
// batch.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// DefaultMaxRetries is used when a batch is enqueued without an explicit
// retry budget.
const DefaultMaxRetries = 3

// Batch is the aggregate entity grouping a set of child jobs.
type Batch struct {
	ID              string    `json:"id"`
	CredentialID    string    `json:"credential_id"`
	State           State     `json:"state"`
	ConcurrencyCap  int       `json:"concurrency_cap"` // max children in state=processing at once
	MaxRetries      int       `json:"max_retries"`     // per-child retry budget; DefaultMaxRetries if unset
	CallbackURL     string    `json:"webhook_url,omitempty"`
	TotalChildren   int       `json:"total_children"`
	QueuedCount     int       `json:"queued_count"`
	ProcessingCount int       `json:"processing_count"`
	CompletedCount  int       `json:"completed_count"`
	FailedCount     int       `json:"failed_count"`
	CancelledCount  int       `json:"cancelled_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
}

// ChildSpec describes one job to create as part of a batch enqueue.
type ChildSpec struct {
	InputLocator  string
	OutputLocator string
	Options       map[string]interface{}
	Operations    []cmdbuilder.Operation
	Priority      int
}

// EnqueueRequest creates a batch and its children in a single
// transactional unit (spec §4.J "Enqueue").
type EnqueueRequest struct {
	CredentialID   string
	ConcurrencyCap int
	MaxRetries     int
	CallbackURL    string
	Children       []ChildSpec
}

// ListResult is a page of batches plus the total matching count.
type ListResult struct {
	Batches []*Batch `json:"batches"`
	Total   int      `json:"total"`
}

// Filter narrows a paginated List call.
type Filter struct {
	CredentialID string
	State        State
	Page         int
	PageSize     int
}
