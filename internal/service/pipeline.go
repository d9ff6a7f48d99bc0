package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/metrics"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

// Pipeline stage names used in logs and metrics.
const (
	StageStart    = "start"
	StageFetch    = "fetch"
	StageGenerate = "generate"
	StagePersist  = "persist"
	StageNotify   = "notify"
	StageFinish   = "finish"
)

// PipelineExecutorOptions groups dependencies for PipelineExecutor.
type PipelineExecutorOptions struct {
	Jobs      core.AnalysisJobRepository // Required
	Outputs   core.OutputRepository      // Required
	Repos     core.RepoRepository        // Required: notification settings
	Fetcher   core.SnapshotFetcher       // Required
	Generator core.Generator             // Required
	Notifier  core.CompletionNotifier    // Optional: user-facing completion notices
	Gate      *Gate                      // Optional: primes the recent success cache
	// MinCommits is the smallest snapshot worth generating from. Defaults to model.MinCommitsForAnalysis.
	MinCommits int
	Metrics    statsd.Sink
	Logger     *slog.Logger
}

// PipelineExecutor runs Fetch, Generate, Persist, and Notify for one analysis job.
type PipelineExecutor struct {
	jobs       core.AnalysisJobRepository
	outputs    core.OutputRepository
	repos      core.RepoRepository
	fetcher    core.SnapshotFetcher
	generator  core.Generator
	notifier   core.CompletionNotifier
	gate       *Gate
	minCommits int
	metrics    statsd.Sink
	logger     *slog.Logger
}

// NewPipelineExecutor constructs a PipelineExecutor.
func NewPipelineExecutor(opts PipelineExecutorOptions) (*PipelineExecutor, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("AnalysisJobRepository is required")
	case opts.Outputs == nil:
		return nil, errors.New("OutputRepository is required")
	case opts.Repos == nil:
		return nil, errors.New("RepoRepository is required")
	case opts.Fetcher == nil:
		return nil, errors.New("SnapshotFetcher is required")
	case opts.Generator == nil:
		return nil, errors.New("generator is required")
	}
	if opts.MinCommits <= 0 {
		opts.MinCommits = model.MinCommitsForAnalysis
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PipelineExecutor{
		jobs:       opts.Jobs,
		outputs:    opts.Outputs,
		repos:      opts.Repos,
		fetcher:    opts.Fetcher,
		generator:  opts.Generator,
		notifier:   opts.Notifier,
		gate:       opts.Gate,
		minCommits: opts.MinCommits,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "pipeline_executor"),
	}, nil
}

// ExecuteRequest is one delivery of an analysis payload.
type ExecuteRequest struct {
	Payload model.AnalysisPayload
	// FinalAttempt is true when the queue will not redeliver after a failure.
	FinalAttempt bool
}

// NotifyResult reports the outcome of the notification stage. It never carries a panic.
type NotifyResult struct {
	Attempted bool
	Err       error
}

// stageError tags an error with the stage that produced it. Its message is the original one.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// run carries per-delivery state through the stages.
type run struct {
	payload  model.AnalysisPayload
	job      *model.AnalysisJob
	progress int
}

// IsPermanentFailure reports whether redelivering the work cannot succeed.
func IsPermanentFailure(err error) bool {
	return errors.Is(err, model.ErrInsufficientData) ||
		errors.Is(err, model.ErrPayloadInvalid) ||
		errors.Is(err, model.ErrPayloadKind) ||
		errors.Is(err, model.ErrInvalidTransition) ||
		retry.IsPermanent(err)
}

// Execute runs one delivery of the pipeline. A job already in a terminal state is acknowledged
// without running. On failure the job is marked failed only when no redelivery will follow; the
// error is always returned so the queue can apply its retry policy.
func (e *PipelineExecutor) Execute(ctx context.Context, req ExecuteRequest) error {
	job, err := e.jobs.GetByID(ctx, req.Payload.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", req.Payload.JobID, err)
	}
	if job.Status.Terminal() {
		e.logger.InfoContext(ctx, "skipping delivery of finished job",
			"job_id", job.ID,
			"status", job.Status,
		)
		return nil
	}

	r := &run{payload: req.Payload, job: job, progress: job.Progress}
	err = e.run(ctx, r)
	if err == nil {
		return nil
	}

	stage := StageStart
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	if req.FinalAttempt || IsPermanentFailure(err) {
		e.markFailed(ctx, r, err)
		e.logger.ErrorContext(ctx, "analysis failed",
			"job_id", job.ID,
			"repo_id", job.RepoID,
			"stage", stage,
			"progress", r.progress,
			"error", err,
		)
		return err
	}

	e.logger.WarnContext(ctx, "analysis attempt failed, will be redelivered",
		"job_id", job.ID,
		"repo_id", job.RepoID,
		"stage", stage,
		"error", err,
	)
	return err
}

func (e *PipelineExecutor) run(ctx context.Context, r *run) error {
	if err := e.stage(ctx, StageStart, func(ctx context.Context) error {
		return e.report(ctx, r, model.JobStatusRunning, model.ProgressStarted)
	}); err != nil {
		return err
	}

	var snapshot *model.Snapshot
	if err := e.stage(ctx, StageFetch, func(ctx context.Context) error {
		var err error
		snapshot, err = e.fetcher.FetchSnapshot(ctx, model.SnapshotRequest{
			Owner:          r.payload.Owner,
			Repo:           r.payload.Name,
			Branch:         r.payload.Branch,
			Depth:          r.payload.Depth,
			IgnorePaths:    r.payload.IgnorePaths,
			InstallationID: r.payload.InstallationID,
		})
		if err != nil {
			return err
		}
		return e.report(ctx, r, model.JobStatusRunning, model.ProgressFetched)
	}); err != nil {
		return err
	}

	var outputs []model.GeneratedOutput
	if err := e.stage(ctx, StageGenerate, func(ctx context.Context) error {
		if snapshot == nil || len(snapshot.Commits) < e.minCommits {
			return model.ErrInsufficientData
		}
		var err error
		outputs, err = e.generator.Generate(ctx, snapshot, r.payload.Tone)
		if err != nil {
			return err
		}
		return e.report(ctx, r, model.JobStatusRunning, model.ProgressGenerated)
	}); err != nil {
		return err
	}

	if err := e.stage(ctx, StagePersist, func(ctx context.Context) error {
		if err := e.outputs.SaveOutputs(ctx, core.SaveOutputsParams{
			JobID:   r.job.ID,
			RepoID:  r.job.RepoID,
			Outputs: outputs,
		}); err != nil {
			return err
		}
		return e.report(ctx, r, model.JobStatusRunning, model.ProgressPersisted)
	}); err != nil {
		return err
	}

	if res := e.attemptNotify(ctx, r); res.Err != nil {
		e.logger.WarnContext(ctx, "completion notification failed",
			"job_id", r.job.ID,
			"repo_id", r.job.RepoID,
			"error", res.Err,
		)
	}

	if err := e.stage(ctx, StageFinish, func(ctx context.Context) error {
		return e.report(ctx, r, model.JobStatusSucceeded, model.ProgressDone)
	}); err != nil {
		return err
	}

	e.gate.RememberSuccess(ctx, r.job)
	e.logger.InfoContext(ctx, "analysis succeeded",
		"job_id", r.job.ID,
		"repo_id", r.job.RepoID,
		"outputs", len(outputs),
	)
	return nil
}

// stage times fn and tags any error with the stage name. A panic in fn becomes the stage error so
// the failed transition still happens.
func (e *PipelineExecutor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := callStage(ctx, name, fn)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitPipelineStage(e.metrics, metrics.StageMetric{
		Stage:    name,
		Result:   result,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return &stageError{stage: name, err: err}
	}
	return nil
}

func callStage(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s stage panic: %v", name, p)
		}
	}()
	return fn(ctx)
}

// report moves the job forward. Progress never goes below the last reported value.
func (e *PipelineExecutor) report(ctx context.Context, r *run, status model.JobStatus, progress int) error {
	if progress < r.progress {
		progress = r.progress
	}
	job, err := e.jobs.UpdateStatus(ctx, model.StatusUpdate{
		JobID:    r.job.ID,
		Status:   status,
		Progress: &progress,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return retry.Permanent(err)
		}
		return err
	}
	r.job = job
	if job.Progress > progress {
		progress = job.Progress
	}
	r.progress = progress
	return nil
}

// markFailed records the single failed transition, keeping the last known progress.
func (e *PipelineExecutor) markFailed(ctx context.Context, r *run, cause error) {
	msg := cause.Error()
	progress := r.progress
	job, err := e.jobs.UpdateStatus(ctx, model.StatusUpdate{
		JobID:        r.job.ID,
		Status:       model.JobStatusFailed,
		Progress:     &progress,
		ErrorMessage: &msg,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record job failure",
			"job_id", r.job.ID,
			"error", err,
			"cause", cause,
		)
		return
	}
	r.job = job
}

// attemptNotify delivers completion notices. Errors and panics stay inside it.
func (e *PipelineExecutor) attemptNotify(ctx context.Context, r *run) (res NotifyResult) {
	if e.notifier == nil {
		return NotifyResult{}
	}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = NotifyResult{Attempted: true, Err: fmt.Errorf("notifier panic: %v", p)}
		}
		result := metrics.ResultSuccess
		if res.Err != nil {
			result = metrics.ResultError
		}
		metrics.EmitPipelineStage(e.metrics, metrics.StageMetric{
			Stage:    StageNotify,
			Result:   result,
			Duration: time.Since(start),
			Err:      res.Err,
		})
	}()

	repo, err := e.repos.GetWithSettings(ctx, r.job.RepoID)
	if err != nil {
		return NotifyResult{Err: fmt.Errorf("load notification settings: %w", err)}
	}
	return NotifyResult{Attempted: true, Err: e.notifier.NotifyCompletion(ctx, r.job, repo)}
}
