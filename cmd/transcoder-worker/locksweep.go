package main

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/internal/bootstrap"
)

const lockSweepInterval = 5 * time.Minute

// lockSweepPatterns lists every key namespace pkg/lock.Manager.Acquire is
// called against in this codebase (cmd/transcoder-worker's own recovery
// lock and pkg/batch's per-batch tick lock), so the sweep only ever
// touches keys this package itself wrote.
var lockSweepPatterns = []string{"job-recovery:*", "batch:*"}

// runLockSweepLoop periodically removes orphaned lock keys: ones acquired
// with no TTL whose holder crashed before releasing them, per spec §4.B.
func runLockSweepLoop(ctx context.Context, svc *bootstrap.Services, logger logr.Logger) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(lockSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				sweepOrphanLocks(loopCtx, svc, logger)
			}
		}
	}()
	return cancel
}

func sweepOrphanLocks(ctx context.Context, svc *bootstrap.Services, logger logr.Logger) {
	for _, pattern := range lockSweepPatterns {
		n, err := svc.Locks.SweepOrphans(ctx, pattern)
		if err != nil {
			logger.Error(err, "lock orphan sweep failed", "pattern", pattern)
			continue
		}
		if n > 0 {
			logger.Info("removed orphaned lock keys", "pattern", pattern, "count", n)
		}
	}
}
