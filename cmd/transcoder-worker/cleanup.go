package main

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/internal/bootstrap"
)

const cleanupInterval = time.Hour

// runCleanupLoop periodically sweeps completed/failed/cancelled jobs past
// their retention window, freeing the database of rows no client will ever
// poll again.
func runCleanupLoop(ctx context.Context, svc *bootstrap.Services, retention time.Duration, logger logr.Logger) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				cleanupJobs(loopCtx, svc, retention, logger)
			}
		}
	}()
	return cancel
}

func cleanupJobs(ctx context.Context, svc *bootstrap.Services, retention time.Duration, logger logr.Logger) {
	n, err := svc.Jobs.CleanupOlderThan(ctx, retention)
	if err != nil {
		logger.Error(err, "job cleanup sweep failed")
		return
	}
	if n > 0 {
		logger.Info("cleaned up retained jobs", "count", n)
	}
}
