package main

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/internal/bootstrap"
	"github.com/fluxcode/transcoder/pkg/batch"
)

const (
	batchTickInterval    = 5 * time.Second
	webhookRetryInterval = 15 * time.Second
)

// runBackgroundLoops starts the periodic work no HTTP request drives:
// promoting queued batch children (spec §4.J "ready for the next scheduler
// tick") and retrying due webhook deliveries. The job retention cleanup
// sweep runs from cmd/transcoder-worker instead, alongside that process's
// other periodic maintenance work. It returns a function that stops every
// loop.
func runBackgroundLoops(ctx context.Context, svc *bootstrap.Services, logger logr.Logger) func() {
	loopCtx, cancel := context.WithCancel(ctx)

	go tickBatches(loopCtx, svc.Batches, logger)
	go retryWebhooks(loopCtx, svc, logger)

	return cancel
}

func tickBatches(ctx context.Context, coordinator *batch.Coordinator, logger logr.Logger) {
	ticker := time.NewTicker(batchTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, err := listActiveBatches(ctx, coordinator)
			if err != nil {
				logger.Error(err, "failed to list active batches")
				continue
			}
			for _, id := range active {
				if err := coordinator.Tick(ctx, id); err != nil {
					logger.Error(err, "batch tick failed", "batch_id", id)
				}
			}
		}
	}
}

func listActiveBatches(ctx context.Context, coordinator *batch.Coordinator) ([]string, error) {
	var ids []string
	for _, state := range []batch.State{batch.StateQueued, batch.StateProcessing} {
		result, err := coordinator.List(ctx, batch.Filter{State: state, Page: 1, PageSize: 200})
		if err != nil {
			return nil, err
		}
		for _, b := range result.Batches {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

func retryWebhooks(ctx context.Context, svc *bootstrap.Services, logger logr.Logger) {
	ticker := time.NewTicker(webhookRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := svc.Webhooks.ProcessDueRetries(ctx); err != nil {
				logger.Error(err, "webhook retry sweep failed")
			} else if n > 0 {
				logger.Info("processed due webhook retries", "count", n)
			}
		}
	}
}
