package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// DefaultIdempotencyWindow is how long a succeeded fingerprint suppresses new jobs.
const DefaultIdempotencyWindow = 24 * time.Hour

// GateOptions groups dependencies for Gate.
type GateOptions struct {
	Jobs   core.AnalysisJobRepository // Required
	Cache  *core.RecentSuccessCache   // Optional: read-through cache in front of Jobs
	Window time.Duration              // Optional: defaults to DefaultIdempotencyWindow
	Now    func() time.Time           // Optional: clock override for tests
	Logger *slog.Logger               // Optional
}

// Gate decides whether an analysis for a fingerprint already succeeded recently and creates jobs.
// It never deduplicates on its own; callers consult FindRecentSuccess first.
type Gate struct {
	jobs   core.AnalysisJobRepository
	cache  *core.RecentSuccessCache
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewGate constructs a Gate.
func NewGate(opts GateOptions) (*Gate, error) {
	if opts.Jobs == nil {
		return nil, errors.New("AnalysisJobRepository is required")
	}
	if opts.Window <= 0 {
		opts.Window = DefaultIdempotencyWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate{
		jobs:   opts.Jobs,
		cache:  opts.Cache,
		window: opts.Window,
		now:    opts.Now,
		logger: opts.Logger.With("component", "idempotency_gate"),
	}, nil
}

// Window returns the configured idempotency window.
func (g *Gate) Window() time.Duration { return g.window }

// RecentSuccessQuery selects a succeeded job for a fingerprint. A zero Window uses the gate default.
type RecentSuccessQuery struct {
	RepoID      string
	Fingerprint string
	Window      time.Duration
}

// FindRecentSuccess returns the newest succeeded job created inside the window.
func (g *Gate) FindRecentSuccess(ctx context.Context, q RecentSuccessQuery) (string, bool, error) {
	window := q.Window
	if window <= 0 {
		window = g.window
	}
	since := g.now().Add(-window)

	rec, err := g.cache.Lookup(ctx, q.RepoID, q.Fingerprint)
	if err != nil {
		g.logger.WarnContext(ctx, "recent success cache lookup failed",
			"repo_id", q.RepoID, "error", err)
	} else if rec != nil && !rec.CreatedAt.Before(since) {
		return rec.JobID, true, nil
	}

	job, err := g.jobs.FindRecentSuccess(ctx, core.FindRecentSuccessParams{
		RepoID:      q.RepoID,
		Fingerprint: q.Fingerprint,
		Since:       since,
	})
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find recent success: %w", err)
	}
	g.remember(ctx, job)
	return job.ID, true, nil
}

// CreateJobRequest groups the inputs to CreateJob.
type CreateJobRequest struct {
	RepoID      string
	UserID      string
	Fingerprint string
	Trigger     model.JobTrigger
}

// CreateJob inserts a queued job.
func (g *Gate) CreateJob(ctx context.Context, req CreateJobRequest) (*model.AnalysisJob, error) {
	job, err := g.jobs.Create(ctx, &model.CreateAnalysisJobRequest{
		RepoID:      req.RepoID,
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint,
		Trigger:     req.Trigger,
	})
	if err != nil {
		return nil, fmt.Errorf("create analysis job: %w", err)
	}
	return job, nil
}

// RememberSuccess primes the cache after a job succeeds. Cache errors are logged only. A nil Gate
// does nothing.
func (g *Gate) RememberSuccess(ctx context.Context, job *model.AnalysisJob) {
	if g == nil || job == nil || job.Status != model.JobStatusSucceeded {
		return
	}
	g.remember(ctx, job)
}

func (g *Gate) remember(ctx context.Context, job *model.AnalysisJob) {
	if g == nil {
		return
	}
	err := g.cache.Remember(ctx, job.RepoID, job.Fingerprint, core.SuccessRecord{
		JobID:     job.ID,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "recent success cache write failed", "job_id", job.ID, "error", err)
	}
}
