// Package job owns the Job entity and its persistence, plus the submission/
// lifecycle service that is the HTTP-facing half of spec §4.K's Job
// Orchestrator (dispatch itself is delegated to a Dispatcher so this
// package never imports the worker pipeline).
package job

import (
	"time"

	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

// State is one of the job lifecycle states from spec §3.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further state transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Stats is the processing-statistics snapshot reported by the progress
// tracker (spec §4.G).
type Stats struct {
	CurrentFrame  int64     `json:"current_frame" db:"current_frame"`
	FPS           float64   `json:"fps" db:"fps"`
	Bitrate       string    `json:"bitrate" db:"bitrate"`
	Speed         float64   `json:"speed" db:"speed"`
	TimeProcessed float64   `json:"time_processed" db:"time_processed"`
	LastUpdate    time.Time `json:"last_update" db:"last_update"`
}

// QualityScores is the summary persisted on the job record; the full
// per-metric report (percentiles, raw scores) lives with the quality
// analyzer's output artifact, not on the job row itself.
type QualityScores struct {
	VMAFMean float64 `json:"vmaf_mean" db:"vmaf_mean"`
	PSNR     float64 `json:"psnr" db:"psnr"`
	SSIM     float64 `json:"ssim" db:"ssim"`
	Grade    string  `json:"grade" db:"grade"`
}

// Job is the unit of work from spec §3.
type Job struct {
	ID             string                 `json:"id"`
	CredentialID   string                 `json:"credential_id"`
	State          State                  `json:"state"`
	InputLocator   string                 `json:"input_path"`
	OutputLocator  string                 `json:"output_path"`
	Options        map[string]interface{} `json:"options,omitempty"`
	Operations     []cmdbuilder.Operation `json:"-"`
	BatchID        string                 `json:"batch_id,omitempty"` // empty when not part of a batch
	CallbackURL    string                 `json:"webhook_url,omitempty"`
	Priority       int                    `json:"priority"`
	Progress       float64                `json:"progress"`
	Stage          string                 `json:"stage,omitempty"`
	Message        string                 `json:"message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      time.Time              `json:"started_at,omitempty"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
	WorkerID       string                 `json:"worker_id,omitempty"`
	ErrorMessage   string                 `json:"error,omitempty"`
	Quality        *QualityScores         `json:"quality,omitempty"`
	ProcessingStats *Stats                `json:"processing_stats,omitempty"`
	RetryCount     int                    `json:"retry_count"`
}

// Filter narrows a paginated List call.
type Filter struct {
	CredentialID string
	State        State // empty means any state
	Page         int
	PageSize     int
}

// ListResult is a page of jobs plus the total matching count, for
// pagination headers.
type ListResult struct {
	Jobs  []*Job `json:"jobs"`
	Total int    `json:"total"`
}
