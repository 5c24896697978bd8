package worker

import (
	"context"
	"time"

	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/progress"
)

// repositoryJobStore adapts job.Repository to progress.JobStore, so the
// tracker (pkg/progress) never needs to import the job package. It handles
// only the fields a throttled progress write touches; the pipeline itself
// owns the structural lifecycle writes (state=processing, started_at,
// worker_id, output locator, quality, processing_time).
type repositoryJobStore struct {
	repo job.Repository
}

func newRepositoryJobStore(repo job.Repository) *repositoryJobStore {
	return &repositoryJobStore{repo: repo}
}

func (s *repositoryJobStore) UpdateProgress(ctx context.Context, jobID string, percentage float64, stage string, stats progress.Stats) error {
	j, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	j.Progress = percentage
	j.Stage = stage
	j.ProcessingStats = &job.Stats{
		CurrentFrame:  stats.CurrentFrame,
		FPS:           stats.FPS,
		Bitrate:       stats.Bitrate,
		Speed:         stats.Speed,
		TimeProcessed: stats.TimeProcessed,
		LastUpdate:    stats.LastUpdate,
	}
	j.UpdatedAt = time.Now()
	return s.repo.Update(ctx, j)
}

func (s *repositoryJobStore) Complete(ctx context.Context, jobID string) error {
	j, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	j.Progress = 100
	j.Stage = "completed"
	j.UpdatedAt = time.Now()
	return s.repo.Update(ctx, j)
}

func (s *repositoryJobStore) Fail(ctx context.Context, jobID string, message string) error {
	j, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	j.State = job.StateFailed
	j.ErrorMessage = message
	j.UpdatedAt = time.Now()
	return s.repo.Update(ctx, j)
}
