package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/adapters/jobrunner"
	"github.com/devion-industries/maintainer-brief/internal/adapters/reaper"
	schedrunner "github.com/devion-industries/maintainer-brief/internal/adapters/scheduler"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/service"
)

// AnalysisRunnerConfig contains configuration for the analysis worker pool.
type AnalysisRunnerConfig struct {
	Queue       *service.QueueService
	Pipeline    *service.PipelineExecutor
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	Metrics     statsd.Sink
}

// RunAnalysisRunner consumes analysis queue entries until ctx is canceled.
func RunAnalysisRunner(ctx context.Context, cfg AnalysisRunnerConfig) error {
	if cfg.Queue == nil || cfg.Pipeline == nil {
		return errors.New("analysis runner requires a queue and a pipeline")
	}
	return runJobRunner(ctx, jobrunner.RunnerOptions{
		Queue:       cfg.Queue,
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		Kind:        model.QueueKindAnalysis,
		Analysis:    cfg.Pipeline,
		Metrics:     cfg.Metrics,
	})
}

// ExportRunnerConfig contains configuration for the export worker pool.
type ExportRunnerConfig struct {
	Queue       *service.QueueService
	Exports     *service.ExportService
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	Metrics     statsd.Sink
}

// RunExportRunner consumes export queue entries until ctx is canceled.
func RunExportRunner(ctx context.Context, cfg ExportRunnerConfig) error {
	if cfg.Queue == nil || cfg.Exports == nil {
		return errors.New("export runner requires a queue and an export service")
	}
	return runJobRunner(ctx, jobrunner.RunnerOptions{
		Queue:       cfg.Queue,
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		Kind:        model.QueueKindExport,
		Export:      cfg.Exports,
		Metrics:     cfg.Metrics,
	})
}

// runJobRunner centralizes job runner setup so individual runners only pass kind-specific options.
func runJobRunner(ctx context.Context, opts jobrunner.RunnerOptions) error {
	label := jobRunnerLabel(opts.Kind)

	runner, err := jobrunner.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create %s runner: %w", label, err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run %s runner: %w", label, runErr)
	}
	return nil
}

func jobRunnerLabel(kind model.QueueKind) string {
	switch kind {
	case model.QueueKindAnalysis:
		return "analysis"
	case model.QueueKindExport:
		return "export"
	}
	if kind == "" {
		return "job"
	}
	return string(kind)
}

// SchedulerConfig contains configuration for the recurring-analysis sweep loop.
type SchedulerConfig struct {
	Scheduler *service.SchedulerService
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// RunScheduler sweeps scheduled repositories on every tick until ctx is canceled.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	if cfg.Scheduler == nil {
		return errors.New("scheduler service is required")
	}
	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		Scheduler:      cfg.Scheduler,
		Interval:       cfg.Interval,
		RunImmediately: true,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}
	return runner.Run(ctx)
}

// ReaperConfig contains configuration for the queue reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Repos   *serviceRepositories
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts queue retention and stale entry cleanup.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	opts := reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	}
	if cfg.Repos != nil {
		opts.Queue = cfg.Repos.Queue
		opts.Jobs = cfg.Repos.Jobs
		opts.Exports = cfg.Repos.Exports
	}
	runner, err := reaper.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}
	return runner.Run(ctx)
}
