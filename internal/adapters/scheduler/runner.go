// Package scheduler provides the adapter that drives the recurring analysis sweep.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	obserrors "github.com/devion-industries/maintainer-brief/internal/observability/errors"
	"github.com/devion-industries/maintainer-brief/internal/observability/metrics"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
)

// Runner runs a sweep loop with a configurable interval.
type Runner struct {
	scheduler core.AnalysisScheduler
	interval  time.Duration
	immediate bool
	now       func() time.Time
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler core.AnalysisScheduler // Required
	// Interval between sweeps. The sweep itself deduplicates within an hour slot, so anything
	// shorter than an hour only tightens the reaction to the window opening. Defaults to 5m.
	Interval time.Duration
	// RunImmediately sweeps once before waiting for the first tick.
	RunImmediately bool
	Logger         *slog.Logger
	Metrics        statsd.Sink
	Now            func() time.Time
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Runner{
		scheduler: opts.Scheduler,
		interval:  opts.Interval,
		immediate: opts.RunImmediately,
		now:       opts.Now,
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}
	return r, nil
}

// Run sweeps at the configured interval until the context is cancelled. Sweep errors are logged
// and never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	if r.immediate {
		r.Tick(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one sweep at the current time and reports its result.
func (r *Runner) Tick(ctx context.Context) core.SweepResult {
	start := time.Now()
	res, err := r.scheduler.Sweep(ctx, r.now())
	elapsed := time.Since(start)

	r.emitTickMetrics(res, elapsed, err)

	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "scheduler sweep error", "error", err)
	case res.Triggered > 0 || res.Failed > 0:
		r.logger.InfoContext(ctx, "scheduler sweep finished",
			"considered", res.Considered,
			"triggered", res.Triggered,
			"deduplicated", res.Deduplicated,
			"failed", res.Failed,
			"duration", elapsed,
		)
	}
	return res
}

func (r *Runner) emitTickMetrics(res core.SweepResult, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if res.Triggered == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.tick", 1, tags)

	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}

	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(r.now().Unix()), nil)
	}
}
