// Command transcoder-worker is a standalone maintenance process: it does
// not serve HTTP traffic. Every job dispatch normally happens in-process
// inside whichever transcoder-api replica accepted the submission
// (job.Service spawns the dispatch goroutine synchronously against its own
// Dispatcher). That leaves one gap this process fills: a job left in the
// queued state because the API replica that created it crashed before its
// dispatch goroutine ran. transcoder-worker periodically sweeps for queued
// jobs older than a grace period and redispatches them directly through its
// own pipeline, guarded by a distributed lock so multiple worker replicas
// never redispatch the same job twice. It also runs the job retention
// cleanup sweep and the distributed lock orphan sweep, since neither needs
// an HTTP surface either.
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxcode/transcoder/internal/bootstrap"
	"github.com/fluxcode/transcoder/internal/config"
	"github.com/fluxcode/transcoder/internal/tracing"
	applog "github.com/fluxcode/transcoder/pkg/log"
	"github.com/fluxcode/transcoder/pkg/metrics"
)

func main() {
	configPath := flag.String("config", envOr("TRANSCODER_CONFIG", "/etc/transcoder/config.yaml"), "path to the service YAML config")
	workerID := flag.String("worker-id", envOr("TRANSCODER_WORKER_ID", hostnameOr("transcoder-worker")), "identifier recorded on jobs this process dispatches")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("loading config: %v", err)
	}

	logger, err := applog.NewLogger(applog.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		stdlog.Fatalf("constructing logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, shutdownTracing, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		logger.Error(err, "failed to wire tracing")
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	svc, err := bootstrap.New(ctx, cfg, *workerID, logger)
	if err != nil {
		logger.Error(err, "failed to wire services")
		os.Exit(1)
	}
	defer svc.Close()

	metricsServer := metrics.NewServer(cfg.MetricsPort, logger)
	metricsServer.StartAsync()
	logger.Info("metrics server started", "port", cfg.MetricsPort)

	stopRecovery := runRecoveryLoop(ctx, svc, logger)
	stopCleanup := runCleanupLoop(ctx, svc, time.Duration(cfg.JobRetentionDays)*24*time.Hour, logger)
	stopLockSweep := runLockSweepLoop(ctx, svc, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stopRecovery()
	stopCleanup()
	stopLockSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "metrics server shutdown error")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
