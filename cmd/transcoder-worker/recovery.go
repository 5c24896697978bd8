package main

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/internal/bootstrap"
	"github.com/fluxcode/transcoder/pkg/job"
)

const (
	recoverySweepInterval = 10 * time.Second
	recoveryGracePeriod   = 30 * time.Second
	// recoveryLockTTL is intentionally generous: it only needs to outlive
	// realistic transcodes long enough that no second replica picks up the
	// same job mid-dispatch. A crashed holder's lock still expires and
	// frees the job for the next sweep.
	recoveryLockTTL  = 30 * time.Minute
	recoveryLockWait = 2 * time.Second
)

func recoveryLockKey(jobID string) string { return "job-recovery:" + jobID }

// runRecoveryLoop periodically redispatches queued jobs older than
// recoveryGracePeriod, guarding each with a short-lived lock so a
// concurrently running API replica's own in-process dispatch (or another
// transcoder-worker replica) never races it.
func runRecoveryLoop(ctx context.Context, svc *bootstrap.Services, logger logr.Logger) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(recoverySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				sweepStuckJobs(loopCtx, svc, logger)
			}
		}
	}()
	return cancel
}

func sweepStuckJobs(ctx context.Context, svc *bootstrap.Services, logger logr.Logger) {
	result, err := svc.Jobs.List(ctx, job.Filter{State: job.StateQueued, Page: 1, PageSize: 100})
	if err != nil {
		logger.Error(err, "failed to list queued jobs for recovery")
		return
	}

	cutoff := time.Now().Add(-recoveryGracePeriod)
	for _, j := range result.Jobs {
		if j.CreatedAt.After(cutoff) {
			continue
		}
		redispatchStuckJob(ctx, svc, j, logger)
	}
}

func redispatchStuckJob(ctx context.Context, svc *bootstrap.Services, j *job.Job, logger logr.Logger) {
	err := svc.Locks.WithLock(ctx, recoveryLockKey(j.ID), recoveryLockTTL, recoveryLockWait, func(ctx context.Context) error {
		return svc.Pipeline.Dispatch(ctx, j)
	})
	if err != nil {
		logger.Error(err, "recovery dispatch failed", "job_id", j.ID)
		return
	}
	logger.Info("recovered stuck queued job", "job_id", j.ID)
}
