// Package bootstrap wires the Postgres pool, Redis clients, and every core
// component (cache, lock, rate limiter, circuit breaker, storage, command
// builder, progress tracker, webhook engine, job orchestrator, batch
// coordinator) from a loaded config.Config, so cmd/transcoder-api and
// cmd/transcoder-worker share one construction path instead of duplicating
// it.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fluxcode/transcoder/internal/config"
	"github.com/fluxcode/transcoder/internal/database"
	"github.com/fluxcode/transcoder/pkg/batch"
	"github.com/fluxcode/transcoder/pkg/breaker"
	"github.com/fluxcode/transcoder/pkg/cache"
	rediscache "github.com/fluxcode/transcoder/pkg/cache/redis"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
	"github.com/fluxcode/transcoder/pkg/credential"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/lock"
	"github.com/fluxcode/transcoder/pkg/progress"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
	"github.com/fluxcode/transcoder/pkg/storage"
	"github.com/fluxcode/transcoder/pkg/webhook"
	"github.com/fluxcode/transcoder/pkg/worker"

	"github.com/jmoiron/sqlx"
)

// Services bundles every wired component a process needs, so api/worker
// mains each take only the slice of this they actually use.
type Services struct {
	DB          *sqlx.DB
	Redis       *goredis.Client
	RedisCache  *rediscache.Client
	Breakers    *breaker.Registry
	Locks       *lock.Manager
	Limiter     *ratelimit.Limiter
	Storage     *storage.Registry
	Whitelist   *cmdbuilder.Whitelist
	Prober      cmdbuilder.Prober
	Webhooks    *webhook.Engine
	Tracker     *progress.Tracker
	Pipeline    *worker.Pipeline
	Jobs        *job.Service
	Batches     *batch.Coordinator
	Credentials *credential.Service

	whitelistWatcher *fsnotify.Watcher
}

// New connects to Postgres and Redis, applies pending migrations, and wires
// every component named in SPEC_FULL.md from cfg.
func New(ctx context.Context, cfg *config.Config, workerID string, logger logr.Logger) (*Services, error) {
	dbCfg := &database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port,
		User: cfg.Database.User, Password: cfg.Database.Password,
		Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
	}
	dbCfg.MaxOpenConns, dbCfg.MaxIdleConns = 25, 5
	dbCfg.ConnMaxLifetime, dbCfg.ConnMaxIdleTime = 5*time.Minute, 5*time.Minute

	db, err := database.Connect(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	redisCache := rediscache.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)

	breakers := breaker.NewRegistry(breaker.Settings{})
	locks := lock.NewManager(rdb)
	limiter := ratelimit.NewLimiter(rdb, ratelimit.DefaultTierConfigs, logger)

	registry, err := buildStorageRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jobRepo := job.NewPostgresRepository(db)
	batchRepo := batch.NewPostgresRepository(db, jobRepo)
	credRepo := credential.NewPostgresRepository(db)
	webhookRepo := webhook.NewPostgresRepository(db)

	jobCache := cache.New[job.Job](redisCache, "job", cache.DefaultTTLs[cache.CategoryJobStatus], cfg.Cache.MaxFallbackSize, logger)
	jobListCache := cache.New[job.ListResult](redisCache, "job-list", cache.DefaultTTLs[cache.CategoryJobList], cfg.Cache.MaxFallbackSize, logger)
	credCache := cache.New[credential.Credential](redisCache, "credential", cache.DefaultTTLs[cache.CategoryAPIKey], cfg.Cache.MaxFallbackSize, logger)

	whitelist := cmdbuilder.NewDefaultWhitelist()
	var whitelistWatcher *fsnotify.Watcher
	if cfg.Media.WhitelistPath != "" {
		whitelistWatcher, err = cmdbuilder.WatchFile(whitelist, cfg.Media.WhitelistPath, logger, os.ReadFile)
		if err != nil {
			return nil, fmt.Errorf("watching command builder whitelist file: %w", err)
		}
	}
	var prober cmdbuilder.Prober = cmdbuilder.NewCachedProber(&cmdbuilder.ExecProber{FFmpegPath: cfg.Media.FFmpegPath})

	webhookBreaker := breakers.GetOrCreate("webhook-delivery", breaker.Settings{})
	var webhookOpts []webhook.Option
	if cfg.Webhook.Secret != "" {
		webhookOpts = append(webhookOpts, webhook.WithSecret(cfg.Webhook.Secret))
	}
	webhookOpts = append(webhookOpts, webhook.WithMaxAttempts(cfg.Webhook.MaxRetries))
	if cfg.Webhook.SlackOpsURL != "" {
		webhookOpts = append(webhookOpts, webhook.WithOpsAlerter(webhook.NewSlackOpsAlerter(cfg.Webhook.SlackOpsURL)))
	}
	webhooks := webhook.NewEngine(webhookRepo, webhookBreaker, logger, webhookOpts...)

	tracker := progress.NewTracker(worker.NewRepositoryJobStore(jobRepo), jobCache, logger, progress.DefaultUpdateInterval)

	pipelineCfg := worker.Config{
		WorkerID:     workerID,
		WorkspaceDir: "/var/lib/transcoder/workspace",
		FFmpegPath:   cfg.Media.FFmpegPath,
		VMAFModelDir: cfg.Media.VMAFModelDir,
	}
	pipeline := worker.NewPipeline(
		pipelineCfg, jobRepo, registry, whitelist, prober,
		&worker.FFProbeAnalyzer{FFprobePath: cfg.Media.FFprobePath},
		&worker.ExecRunner{Path: cfg.Media.FFmpegPath},
		tracker, jobCache, webhooks, logger,
	)

	jobs := job.NewService(jobRepo, pipeline, registry, whitelist, jobListCache, jobCache, logger, cfg.WorkerPoolSize)
	batches := batch.NewCoordinator(batchRepo, jobRepo, pipeline, locks, webhooks, logger)
	credentials := credential.NewService(credRepo, credCache, logger)

	return &Services{
		DB: db, Redis: rdb, RedisCache: redisCache,
		Breakers: breakers, Locks: locks, Limiter: limiter,
		Storage: registry, Whitelist: whitelist, Prober: prober,
		Webhooks: webhooks, Tracker: tracker, Pipeline: pipeline,
		Jobs: jobs, Batches: batches, Credentials: credentials,
		whitelistWatcher: whitelistWatcher,
	}, nil
}

func buildStorageRegistry(ctx context.Context, cfg *config.Config) (*storage.Registry, error) {
	registry := storage.NewRegistry()
	registry.Register(storage.NewLocalBackend(cfg.Storage.LocalBaseDir))

	if cfg.Storage.DefaultBackend == "s3" || cfg.Storage.S3Bucket != "" {
		s3Backend, err := newS3Backend(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("constructing s3 backend: %w", err)
		}
		registry.Register(s3Backend)
	}
	return registry, nil
}

// newS3Backend loads the default AWS config and, when the storage config
// names a region or a non-AWS endpoint (e.g. a MinIO/S3-compatible store),
// overrides the client options built from it.
func newS3Backend(ctx context.Context, sc config.StorageConfig) (*storage.S3Backend, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if sc.S3Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(sc.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3BackendWithClient(client, sc.S3Bucket), nil
}

// Close releases the pooled connections. Safe to call even if some fields
// were never populated.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.RedisCache != nil {
		s.RedisCache.Close()
	}
	if s.whitelistWatcher != nil {
		s.whitelistWatcher.Close()
	}
}
