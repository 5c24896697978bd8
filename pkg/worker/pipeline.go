// Package worker runs one job through the ordered Start → Download →
// Analyze → Process → Upload → Finalize stage sequence (spec §4.H),
// wiring together storage, the command builder, progress tracking, quality
// analysis, and webhook delivery. It implements job.Dispatcher so it can be
// handed straight to job.NewService without that package ever importing it.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/internal/sanitize"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/progress"
	"github.com/fluxcode/transcoder/pkg/quality"
	"github.com/fluxcode/transcoder/pkg/storage"
	"github.com/fluxcode/transcoder/pkg/webhook"
)

// tracer emits one span per Worker Pipeline stage (download, analyze,
// process, upload), nested under the span job.Service's dispatch() starts.
var tracer = otel.Tracer("transcoder/worker")

// Config bundles Pipeline's tunables.
type Config struct {
	WorkerID     string
	WorkspaceDir string // base dir for per-job scoped workspaces
	FFmpegPath   string
	VMAFModelDir string
}

// Pipeline is the worker-side implementation of spec §4.H.
type Pipeline struct {
	cfg       Config
	repo      job.Repository
	storage   *storage.Registry
	whitelist *cmdbuilder.Whitelist
	prober    cmdbuilder.Prober
	analyzer  MediaAnalyzer
	runner    CommandRunner
	tracker   *progress.Tracker
	cache     progress.CacheInvalidator // invalidated after writes the tracker itself doesn't cover
	webhooks  *webhook.Engine
	logger    logr.Logger
}

// NewPipeline wires a Pipeline. tracker should be constructed with a
// repositoryJobStore wrapping the same repo passed here, so live progress
// writes and structural lifecycle writes land on the same record. cache
// should be the same cache instance the tracker invalidates against, so
// structural writes (start/finalize/cancel) the tracker's contract doesn't
// cover still bust stale reads.
func NewPipeline(cfg Config, repo job.Repository, registry *storage.Registry, whitelist *cmdbuilder.Whitelist, prober cmdbuilder.Prober, analyzer MediaAnalyzer, runner CommandRunner, tracker *progress.Tracker, cache progress.CacheInvalidator, webhooks *webhook.Engine, logger logr.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		repo:      repo,
		storage:   registry,
		whitelist: whitelist,
		prober:    prober,
		analyzer:  analyzer,
		runner:    runner,
		tracker:   tracker,
		cache:     cache,
		webhooks:  webhooks,
		logger:    logger,
	}
}

// invalidateJobCache busts any cache entry mentioning jobID, for the
// structural lifecycle writes (start/finalize/cancel) that bypass the
// tracker's own invalidation.
func (p *Pipeline) invalidateJobCache(ctx context.Context, jobID string) {
	if p.cache != nil {
		p.cache.DeletePattern(ctx, "*"+jobID+"*")
	}
}

// NewRepositoryJobStore exposes the progress.JobStore adapter so callers
// wiring up a Tracker for this Pipeline's repo don't need their own.
func NewRepositoryJobStore(repo job.Repository) progress.JobStore {
	return newRepositoryJobStore(repo)
}

// Dispatch runs j through every stage, persisting state transitions
// directly and routing live processing metrics through the tracker. It
// satisfies job.Dispatcher.
func (p *Pipeline) Dispatch(ctx context.Context, j *job.Job) error {
	ctx, span := tracer.Start(ctx, "worker.dispatch", trace.WithAttributes(
		attribute.String("job.id", j.ID),
		attribute.String("worker.id", p.cfg.WorkerID),
	))
	defer span.End()

	err := p.dispatch(ctx, j)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) dispatch(ctx context.Context, j *job.Job) error {
	workspace, cleanup, err := newWorkspace(p.cfg.WorkspaceDir, j.ID)
	if err != nil {
		return p.fail(ctx, j, apperrors.NewProcessingError("creating job workspace failed", err))
	}
	defer cleanup()

	if err := p.start(ctx, j); err != nil {
		return p.fail(ctx, j, err)
	}

	inPath, err := p.download(ctx, j, workspace)
	if err != nil {
		return p.handleStageErr(ctx, j, err)
	}

	info, err := p.analyze(ctx, j, inPath)
	if err != nil {
		return p.handleStageErr(ctx, j, err)
	}

	outPath, err := p.process(ctx, j, inPath, workspace, info)
	if err != nil {
		return p.handleStageErr(ctx, j, err)
	}

	if err := p.upload(ctx, j, workspace, outPath); err != nil {
		return p.handleStageErr(ctx, j, err)
	}

	return p.finalize(ctx, j, inPath, outPath)
}

// handleStageErr distinguishes a cancelled context (emits the cancelled
// webhook, no further retry) from a genuine stage failure.
func (p *Pipeline) handleStageErr(ctx context.Context, j *job.Job, err error) error {
	if ctx.Err() == context.Canceled {
		return p.cancel(context.WithoutCancel(ctx), j)
	}
	return p.fail(context.WithoutCancel(ctx), j, err)
}

// start sets state=processing, started_at, worker_id (spec §4.H stage 1).
// These structural fields sit outside the progress tracker's JobStore
// contract, so the pipeline persists them directly.
func (p *Pipeline) start(ctx context.Context, j *job.Job) error {
	now := time.Now()
	j.State = job.StateProcessing
	j.StartedAt = now
	j.WorkerID = p.cfg.WorkerID
	j.Progress = 0
	j.Stage = "start"
	j.UpdatedAt = now
	if err := p.repo.Update(ctx, j); err != nil {
		return err
	}
	p.invalidateJobCache(ctx, j.ID)
	return nil
}

// download resolves j's input locator and streams it into the workspace.
func (p *Pipeline) download(ctx context.Context, j *job.Job, workspace string) (string, error) {
	ctx, span := tracer.Start(ctx, "worker.download")
	defer span.End()

	backend, path, err := p.storage.Resolve(j.InputLocator)
	if err != nil {
		return "", err
	}
	dest := inputPath(workspace, filepath.Ext(path))
	if err := backend.Download(ctx, path, dest); err != nil {
		return "", apperrors.NewProcessingError("downloading input failed", err)
	}
	if err := p.tracker.OnProgress(ctx, j.ID, 10, "download", progress.Stats{}); err != nil {
		p.logger.Error(err, "progress write failed", "job_id", j.ID, "stage", "download")
	}
	return dest, nil
}

// analyze probes the input, rejects it unless the probe reports a positive
// duration, and hands back the MediaInfo the Process stage's timeout clamp
// needs. Stream types and the container format are not checked.
func (p *Pipeline) analyze(ctx context.Context, j *job.Job, inPath string) (MediaInfo, error) {
	ctx, span := tracer.Start(ctx, "worker.analyze")
	defer span.End()

	info, err := p.analyzer.Analyze(ctx, inPath)
	if err != nil {
		return MediaInfo{}, err
	}
	if info.DurationSeconds <= 0 {
		return MediaInfo{}, apperrors.NewValidationError("input media has no usable duration")
	}
	if err := p.tracker.OnProgress(ctx, j.ID, 20, "analyze", progress.Stats{}); err != nil {
		p.logger.Error(err, "progress write failed", "job_id", j.ID, "stage", "analyze")
	}
	return info, nil
}

// process builds argv from j's operations, invokes the media tool under a
// clamped timeout, and pipes parsed stderr progress into the tracker.
func (p *Pipeline) process(ctx context.Context, j *job.Job, inPath, workspace string, info MediaInfo) (string, error) {
	ctx, span := tracer.Start(ctx, "worker.process")
	defer span.End()

	var surcharge time.Duration
	for _, op := range j.Operations {
		surcharge += operationSurcharge(string(op.Kind))
	}
	timeout := ClampTimeout(info.DurationSeconds, surcharge)
	procCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var available []cmdbuilder.Accelerator
	if p.prober != nil {
		available, _ = p.prober.AvailableAccelerators(procCtx)
	}

	outExt := filepath.Ext(j.OutputLocator)
	if outExt == "" {
		outExt = filepath.Ext(inPath)
	}
	outPath := outputPath(workspace, outExt)

	argv, err := cmdbuilder.Build(cmdbuilder.BuildRequest{
		Input:      inPath,
		Output:     outPath,
		Operations: j.Operations,
		Options:    cmdbuilder.Options(j.Options),
		Whitelist:  p.whitelist,
		Available:  available,
	})
	if err != nil {
		return "", err
	}

	onLine := func(line string) {
		stats, ok := parseFFmpegProgressLine(line)
		if !ok {
			return
		}
		stats.LastUpdate = time.Now()
		pct := mapProcessPercentage(stats.TimeProcessed, info.DurationSeconds)
		if err := p.tracker.OnProgress(ctx, j.ID, pct, "process", stats); err != nil {
			p.logger.Error(err, "progress write failed", "job_id", j.ID, "stage", "process")
		}
	}

	if err := p.runner.Run(procCtx, argv, onLine); err != nil {
		if procCtx.Err() == context.DeadlineExceeded {
			return "", apperrors.NewTimeoutError("media tool exceeded its processing timeout")
		}
		if ctx.Err() == context.Canceled {
			return "", ctx.Err()
		}
		return "", apperrors.NewProcessingError("media tool invocation failed", err)
	}

	if err := p.tracker.OnProgress(ctx, j.ID, 90, "process", progress.Stats{LastUpdate: time.Now()}); err != nil {
		p.logger.Error(err, "progress write failed", "job_id", j.ID, "stage", "process")
	}
	return outPath, nil
}

// upload streams the produced artifact(s) to the output backend. Streaming
// formats (HLS/DASH) produce a directory of segment files rather than one
// output path; those are walked and uploaded preserving relative paths.
func (p *Pipeline) upload(ctx context.Context, j *job.Job, workspace, outPath string) error {
	ctx, span := tracer.Start(ctx, "worker.upload")
	defer span.End()

	backend, destPath, err := p.storage.Resolve(j.OutputLocator)
	if err != nil {
		return err
	}

	if isStreamingOutput(j.Operations) {
		segmentDir := filepath.Dir(outPath)
		if err := uploadTree(ctx, backend, segmentDir, destPath); err != nil {
			return apperrors.NewProcessingError("uploading streaming output failed", err)
		}
	} else {
		if err := backend.Upload(ctx, outPath, destPath); err != nil {
			return apperrors.NewProcessingError("uploading output failed", err)
		}
	}

	return p.tracker.OnProgress(ctx, j.ID, 100, "upload", progress.Stats{})
}

func isStreamingOutput(ops []cmdbuilder.Operation) bool {
	for _, op := range ops {
		if op.Kind == cmdbuilder.OpStreamMap {
			return true
		}
	}
	return false
}

// uploadTree walks dir and uploads each file, preserving its path relative
// to dir under destPrefix.
func uploadTree(ctx context.Context, backend storage.Backend, dir, destPrefix string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destPrefix, rel)
		return backend.Upload(ctx, path, dest)
	})
}

// finalize marks the job completed, captures quality metrics when
// requested, and emits the completion webhook.
func (p *Pipeline) finalize(ctx context.Context, j *job.Job, inPath, outPath string) error {
	now := time.Now()
	j.State = job.StateCompleted
	j.Progress = 100
	j.Stage = "completed"
	j.CompletedAt = now
	j.UpdatedAt = now

	if shouldAnalyzeQuality(j.Options) {
		if report, err := p.analyzeQuality(ctx, inPath, outPath); err != nil {
			p.logger.Error(err, "quality analysis failed, job still completes", "job_id", j.ID)
		} else {
			j.Quality = &job.QualityScores{
				VMAFMean: report.VMAF.Mean,
				PSNR:     report.PSNR.Average,
				SSIM:     report.SSIM.Average,
				Grade:    string(report.Grade),
			}
		}
	}

	if err := p.repo.Update(ctx, j); err != nil {
		return err
	}
	p.invalidateJobCache(ctx, j.ID)

	p.sendWebhook(ctx, j, webhook.EventComplete, map[string]interface{}{
		"state":           string(j.State),
		"processing_time": j.CompletedAt.Sub(j.StartedAt).Seconds(),
	})
	return nil
}

// shouldAnalyzeQuality reads the submission's opt-in flag; VMAF/PSNR/SSIM
// comparison is not free, so it only runs when explicitly requested.
func shouldAnalyzeQuality(options map[string]interface{}) bool {
	v, ok := options["analyze_quality"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// analyzeQuality runs VMAF, PSNR, and SSIM comparisons between the
// original input and the produced output.
func (p *Pipeline) analyzeQuality(ctx context.Context, refPath, testPath string) (quality.Report, error) {
	vmafLogPath := testPath + ".vmaf.json"
	defer os.Remove(vmafLogPath)

	modelPath, builtin := quality.ResolveModelPath(p.cfg.VMAFModelDir, quality.DefaultModel, p.logger)
	modelArg := "version=vmaf_v0.6.1"
	if !builtin {
		modelArg = "path=" + modelPath
	}
	vmafFilter := fmt.Sprintf("libvmaf=log_fmt=json:log_path=%s:model=%s", vmafLogPath, modelArg)
	if err := p.runner.Run(ctx, []string{"-i", testPath, "-i", refPath, "-lavfi", vmafFilter, "-f", "null", "-"}, nil); err != nil {
		return quality.Report{}, apperrors.NewProcessingError("vmaf analysis failed", err)
	}
	data, err := os.ReadFile(vmafLogPath)
	if err != nil {
		return quality.Report{}, err
	}
	vmafReport, err := quality.ParseVMAFLog(data, string(quality.DefaultModel))
	if err != nil {
		return quality.Report{}, err
	}

	// PSNR and SSIM are independent ffmpeg invocations over the same two
	// inputs, so they run concurrently rather than back to back.
	var psnrStderr, ssimStderr string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.runner.Run(gctx, []string{"-i", testPath, "-i", refPath, "-lavfi", "psnr", "-f", "null", "-"}, func(line string) { psnrStderr += line + "\n" })
	})
	g.Go(func() error {
		return p.runner.Run(gctx, []string{"-i", testPath, "-i", refPath, "-lavfi", "ssim", "-f", "null", "-"}, func(line string) { ssimStderr += line + "\n" })
	})
	_ = g.Wait() // a tool failure here still leaves a parseable (if empty) summary line

	psnrReport, err := quality.ParsePSNR(psnrStderr)
	if err != nil {
		return quality.Report{}, err
	}

	ssimReport, err := quality.ParseSSIM(ssimStderr)
	if err != nil {
		return quality.Report{}, err
	}

	refStat, _ := os.Stat(refPath)
	testStat, _ := os.Stat(testPath)
	var refSize, testSize int64
	if refStat != nil {
		refSize = refStat.Size()
	}
	if testStat != nil {
		testSize = testStat.Size()
	}
	bitrate := quality.NewBitrateComparison(refSize, testSize, 0, 0)

	report := quality.BuildReport(vmafReport, psnrReport, ssimReport, bitrate, nil)
	return report, nil
}

// fail transitions j to failed, routes the sanitized error through the
// tracker, and emits the error webhook.
func (p *Pipeline) fail(ctx context.Context, j *job.Job, cause error) error {
	if err := p.tracker.OnError(ctx, j.ID, cause); err != nil {
		p.logger.Error(err, "failed to persist job failure", "job_id", j.ID)
	}
	p.sendWebhook(ctx, j, webhook.EventError, map[string]interface{}{
		"state":  string(job.StateFailed),
		"reason": sanitize.String(cause.Error()),
	})
	return cause
}

// cancel transitions j to cancelled directly: cancellation is a third
// terminal state the tracker's Complete/Fail pair doesn't model.
func (p *Pipeline) cancel(ctx context.Context, j *job.Job) error {
	j.State = job.StateCancelled
	j.UpdatedAt = time.Now()
	if err := p.repo.Update(ctx, j); err != nil {
		p.logger.Error(err, "failed to persist job cancellation", "job_id", j.ID)
	}
	p.invalidateJobCache(ctx, j.ID)
	p.sendWebhook(ctx, j, webhook.EventError, map[string]interface{}{
		"state":  string(job.StateCancelled),
		"reason": "cancelled",
	})
	return context.Canceled
}

func (p *Pipeline) sendWebhook(ctx context.Context, j *job.Job, event webhook.Event, fields map[string]interface{}) {
	if j.CallbackURL == "" || p.webhooks == nil {
		return
	}
	if _, err := p.webhooks.Send(ctx, j.ID, event, j.CallbackURL, fields, true); err != nil {
		p.logger.Error(err, "webhook send failed", "job_id", j.ID, "event", string(event))
	}
}
