package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/domain/fingerprint"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	canceledMessage = "canceled before start"
)

// ErrInvalidTrigger wraps precondition failures of a trigger request.
var ErrInvalidTrigger = errors.New("invalid trigger request")

// JobQueue is the subset of QueueService used to hand analysis work to workers.
type JobQueue interface {
	Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.QueueEntry, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// AnalysisServiceOptions groups dependencies for AnalysisService.
type AnalysisServiceOptions struct {
	Repos       core.RepoRepository        // Required
	Jobs        core.AnalysisJobRepository // Required
	Gate        *Gate                      // Required
	Queue       JobQueue                   // Required
	Commits     core.CommitResolver        // Optional: resolves the branch head when a trigger has no commit
	MaxAttempts int                        // Optional: delivery attempts per job (default 3)
	Backoff     time.Duration              // Optional: base redelivery delay (default 5s)
	Logger      *slog.Logger               // Optional
}

// AnalysisService turns trigger requests into deduplicated, enqueued analysis jobs.
type AnalysisService struct {
	repos       core.RepoRepository
	jobs        core.AnalysisJobRepository
	gate        *Gate
	queue       JobQueue
	commits     core.CommitResolver
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewAnalysisService constructs an AnalysisService.
func NewAnalysisService(opts AnalysisServiceOptions) (*AnalysisService, error) {
	switch {
	case opts.Repos == nil:
		return nil, errors.New("RepoRepository is required")
	case opts.Jobs == nil:
		return nil, errors.New("AnalysisJobRepository is required")
	case opts.Gate == nil:
		return nil, errors.New("gate is required")
	case opts.Queue == nil:
		return nil, errors.New("queue is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AnalysisService{
		repos:       opts.Repos,
		jobs:        opts.Jobs,
		gate:        opts.Gate,
		queue:       opts.Queue,
		commits:     opts.Commits,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		logger:      opts.Logger.With("component", "analysis_service"),
	}, nil
}

// MustNewAnalysisService constructs an AnalysisService and panics on error.
func MustNewAnalysisService(opts AnalysisServiceOptions) *AnalysisService {
	svc, err := NewAnalysisService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AnalysisService: %v", err))
	}
	return svc
}

// TriggerRequest asks for an analysis of a repository at a specific commit.
type TriggerRequest struct {
	RepoID string
	// UserID defaults to the repository owner.
	UserID    string
	Trigger   model.JobTrigger
	CommitSHA string
}

// TriggerResult reports the job that covers the request.
type TriggerResult struct {
	JobID string
	// Deduplicated is true when an earlier succeeded job inside the window was returned.
	Deduplicated bool
	Status       model.JobStatus
	Fingerprint  string
}

// Trigger resolves the repository settings, consults the idempotency gate, and either returns the
// recent succeeded job or creates and enqueues a new one.
func (s *AnalysisService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if req.RepoID == "" {
		return nil, fmt.Errorf("%w: repo id is required", ErrInvalidTrigger)
	}
	if req.Trigger == "" {
		req.Trigger = model.TriggerManual
	}
	if !req.Trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", ErrInvalidTrigger, req.Trigger)
	}
	if req.CommitSHA != "" || s.commits == nil {
		if err := fingerprint.ValidateCommitRef(req.CommitSHA); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	}

	repo, err := s.repos.GetWithSettings(ctx, req.RepoID)
	if err != nil {
		return nil, fmt.Errorf("load repo %s: %w", req.RepoID, err)
	}
	userID := req.UserID
	if userID == "" {
		userID = repo.Repo.OwnerUserID
	}

	branch := repo.Settings.EffectiveBranch(&repo.Repo)
	if req.CommitSHA == "" {
		sha, rerr := s.commits.LatestCommit(ctx, core.CommitRef{
			Owner:          repo.Repo.Owner,
			Repo:           repo.Repo.Name,
			Branch:         branch,
			InstallationID: repo.Repo.InstallationID,
		})
		if rerr != nil {
			return nil, fmt.Errorf("resolve head of %s@%s: %w", repo.Repo.FullName, branch, rerr)
		}
		if err := fingerprint.ValidateCommitRef(sha); err != nil {
			return nil, fmt.Errorf("resolve head of %s@%s: %w", repo.Repo.FullName, branch, err)
		}
		req.CommitSHA = sha
	}
	depth := repo.Settings.Depth
	if !depth.Valid() {
		depth = model.DepthFast
	}
	tone := repo.Settings.Tone
	if !tone.Valid() {
		tone = model.ToneConcise
	}
	fp := fingerprint.Compute(req.RepoID, branch, req.CommitSHA, depth)

	existing, found, err := s.gate.FindRecentSuccess(ctx, RecentSuccessQuery{RepoID: req.RepoID, Fingerprint: fp})
	if err != nil {
		return nil, err
	}
	if found {
		s.logger.InfoContext(ctx, "analysis deduplicated",
			"repo_id", req.RepoID,
			"job_id", existing,
			"trigger", req.Trigger,
		)
		return &TriggerResult{JobID: existing, Deduplicated: true, Status: model.JobStatusSucceeded, Fingerprint: fp}, nil
	}

	job, err := s.gate.CreateJob(ctx, CreateJobRequest{
		RepoID:      req.RepoID,
		UserID:      userID,
		Fingerprint: fp,
		Trigger:     req.Trigger,
	})
	if err != nil {
		return nil, err
	}

	payload := model.NewAnalysisPayload(model.AnalysisPayload{
		JobID:          job.ID,
		RepoID:         req.RepoID,
		Owner:          repo.Repo.Owner,
		Name:           repo.Repo.Name,
		Branch:         branch,
		Depth:          depth,
		Tone:           tone,
		CommitSHA:      req.CommitSHA,
		IgnorePaths:    repo.Settings.IgnorePaths,
		InstallationID: repo.Repo.InstallationID,
	})
	if _, err := s.queue.Enqueue(ctx, &model.EnqueueRequest{
		ID:          job.ID,
		Payload:     payload,
		MaxAttempts: s.maxAttempts,
		Backoff:     s.backoff,
	}); err != nil {
		s.abandon(ctx, job.ID, "enqueue failed: "+err.Error())
		return nil, fmt.Errorf("enqueue analysis job %s: %w", job.ID, err)
	}

	s.logger.InfoContext(ctx, "analysis queued",
		"repo_id", req.RepoID,
		"job_id", job.ID,
		"trigger", req.Trigger,
		"branch", branch,
		"depth", depth,
	)
	return &TriggerResult{JobID: job.ID, Status: job.Status, Fingerprint: fp}, nil
}

// abandon marks a job that never reached the queue as failed.
func (s *AnalysisService) abandon(ctx context.Context, jobID, msg string) {
	if _, err := s.jobs.UpdateStatus(ctx, model.StatusUpdate{
		JobID:        jobID,
		Status:       model.JobStatusFailed,
		ErrorMessage: &msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark orphaned job failed", "job_id", jobID, "error", err)
	}
}

// Cancel removes a job that no worker has picked up and marks it failed. It returns false when the
// job is already running or finished.
func (s *AnalysisService) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusQueued {
		return false, nil
	}

	removed, err := s.queue.Remove(ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrQueueEntryNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("cancel %s: %w", jobID, err)
	}
	if !removed {
		return false, nil
	}

	msg := canceledMessage
	if _, err := s.jobs.UpdateStatus(ctx, model.StatusUpdate{
		JobID:        jobID,
		Status:       model.JobStatusFailed,
		ErrorMessage: &msg,
	}); err != nil {
		return true, fmt.Errorf("mark canceled job %s failed: %w", jobID, err)
	}
	s.logger.InfoContext(ctx, "analysis canceled", "job_id", jobID)
	return true, nil
}

// Status returns the externally visible state of a job.
func (s *AnalysisService) Status(ctx context.Context, jobID string) (model.JobStatusView, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return model.JobStatusView{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job.View(), nil
}

// ListJobs returns the newest jobs for a repository.
func (s *AnalysisService) ListJobs(ctx context.Context, repoID string, limit int) ([]*model.AnalysisJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	jobs, err := s.jobs.ListForRepo(ctx, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for repo %s: %w", repoID, err)
	}
	return jobs, nil
}
