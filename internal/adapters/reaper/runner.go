// Package reaper provides the adapter that runs queue retention.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/service"
)

// Runner constructs the reaper service and runs its cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB // Required unless Queue and Jobs are both injected
	Config config.ReaperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Queue   core.QueueReaperRepository
	Jobs    core.AnalysisJobRepository
	Exports core.ExportRepository
	Metrics statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Queue == nil || opts.Jobs == nil) {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.Sanitize()
	return nil
}

func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	queue := opts.Queue
	if queue == nil {
		queue = data.NewQueueRepo(opts.DB, data.QueueRepoConfig{Logger: opts.Logger})
	}
	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewAnalysisJobRepo(opts.DB, data.AnalysisJobRepoConfig{Logger: opts.Logger})
	}
	exports := opts.Exports
	if exports == nil && opts.DB != nil {
		exports = data.NewExportRepo(opts.DB, nil)
	}

	return service.NewReaperService(service.ReaperServiceOptions{
		Queue:   queue,
		Jobs:    jobs,
		Exports: exports,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single cleanup pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.RunOnce(ctx)
}
