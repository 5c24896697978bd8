// Command transcoder-api serves the HTTP Surface (spec §4.L) and, since job
// dispatch runs in-process against whichever service instance accepted the
// submission, also hosts the real worker pipeline, the batch coordinator's
// promotion loop, and the webhook retry sweep. See DESIGN.md's "Process
// topology" entry for why this single binary combines those roles.
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
	"github.com/fluxcode/transcoder/pkg/httpapi"
	applog "github.com/fluxcode/transcoder/pkg/log"
	"github.com/fluxcode/transcoder/pkg/metrics"
)

func main() {
	configPath := flag.String("config", envOr("TRANSCODER_CONFIG", "/etc/transcoder/config.yaml"), "path to the service YAML config")
	workerID := flag.String("worker-id", envOr("TRANSCODER_WORKER_ID", hostnameOr("transcoder-api")), "identifier recorded on jobs this process dispatches")
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

	server := httpapi.NewServer(cfg, svc.Jobs, svc.Batches, svc.Credentials, svc.Limiter, svc.Storage, logger)
	server.StartAsync()
	logger.Info("http surface started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	metricsServer := metrics.NewServer(cfg.MetricsPort, logger)
	metricsServer.StartAsync()
	logger.Info("metrics server started", "port", cfg.MetricsPort)

	stopBackground := runBackgroundLoops(ctx, svc, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "http surface shutdown error")
	}
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
