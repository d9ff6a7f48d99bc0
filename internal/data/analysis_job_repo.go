package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	apperrors "github.com/devion-industries/maintainer-brief/internal/errors"
)

// AnalysisJobRepoConfig holds configuration options for AnalysisJobRepo.
type AnalysisJobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// AnalysisJobRepo is the Postgres Job Store. Every write is a single conditional UPDATE scoped to one
// job id so concurrent workers on different jobs never contend.
type AnalysisJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.AnalysisJobRepository = (*AnalysisJobRepo)(nil)

// NewAnalysisJobRepo creates an AnalysisJobRepo.
func NewAnalysisJobRepo(db *sql.DB, cfg AnalysisJobRepoConfig) *AnalysisJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisJobRepo{DB: db, timeProvider: tp, logger: logger.With("component", "analysis_job_repo")}
}

const analysisJobColumns = `
  id,
  repo_id,
  user_id,
  fingerprint,
  trigger,
  status,
  progress,
  error_message,
  created_at,
  started_at,
  finished_at
`

// Create inserts a queued job with progress 0.
func (r *AnalysisJobRepo) Create(ctx context.Context, req *model.CreateAnalysisJobRequest) (*model.AnalysisJob, error) {
	if req == nil {
		return nil, errors.New("create analysis job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO analysis_jobs (repo_id, user_id, fingerprint, trigger, status, progress, created_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5)
		RETURNING `+analysisJobColumns,
		req.RepoID, req.UserID, req.Fingerprint, req.Trigger, nowUTC(r.timeProvider))
	job, err := scanAnalysisJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert analysis job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// GetByID returns one job or ErrJobNotFound.
func (r *AnalysisJobRepo) GetByID(ctx context.Context, id string) (*model.AnalysisJob, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+analysisJobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	job, err := scanAnalysisJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return job, nil
}

// FindRecentSuccess returns the newest succeeded job for the fingerprint created at or after Since.
// Ties on created_at resolve to the highest id so the answer is stable.
func (r *AnalysisJobRepo) FindRecentSuccess(
	ctx context.Context,
	params core.FindRecentSuccessParams,
) (*model.AnalysisJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+analysisJobColumns+`
		FROM analysis_jobs
		WHERE repo_id = $1
		  AND fingerprint = $2
		  AND status = 'succeeded'
		  AND created_at >= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, params.RepoID, params.Fingerprint, params.Since.UTC())
	job, err := scanAnalysisJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent success: %w", err)
	}
	return job, nil
}

// updateStatusSQL applies a transition with field-level conditions: started_at is written once,
// finished_at only on a terminal status, and progress never decreases. Rows already terminal, or a
// move back to queued, do not match.
const updateStatusSQL = `
  UPDATE analysis_jobs
  SET
    status = $2,
    progress = CASE WHEN $3::integer IS NULL THEN progress ELSE GREATEST(progress, $3::integer) END,
    error_message = COALESCE($4::text, error_message),
    started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, $5) ELSE started_at END,
    finished_at = CASE WHEN $2 IN ('succeeded', 'failed') THEN $5 ELSE finished_at END
  WHERE id = $1
    AND status NOT IN ('succeeded', 'failed')
    AND NOT ($2 = 'queued' AND status <> 'queued')
  RETURNING ` + analysisJobColumns

// UpdateStatus applies one transition. It returns ErrInvalidTransition when the job is terminal or the
// move is backwards, and ErrJobNotFound when the id does not exist.
func (r *AnalysisJobRepo) UpdateStatus(ctx context.Context, update model.StatusUpdate) (*model.AnalysisJob, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	var progress sql.NullInt64
	if update.Progress != nil {
		progress = sql.NullInt64{Int64: int64(*update.Progress), Valid: true}
	}
	var errMsg sql.NullString
	if update.ErrorMessage != nil {
		errMsg = sql.NullString{String: *update.ErrorMessage, Valid: true}
	}

	row := r.DB.QueryRowContext(ctx, updateStatusSQL,
		update.JobID, update.Status, progress, errMsg, nowUTC(r.timeProvider))
	job, err := scanAnalysisJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update analysis job status: %w", err)
	}

	current, gerr := r.GetByID(ctx, update.JobID)
	if gerr != nil {
		return nil, gerr
	}
	r.logger.DebugContext(ctx, "status update rejected",
		"job_id", update.JobID,
		"current_status", current.Status,
		"requested_status", update.Status,
	)
	return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Status, update.Status)
}

// LatestForRepo returns the most recently created job for the repository, or ErrJobNotFound.
func (r *AnalysisJobRepo) LatestForRepo(ctx context.Context, repoID string) (*model.AnalysisJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+analysisJobColumns+`
		FROM analysis_jobs
		WHERE repo_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, repoID)
	job, err := scanAnalysisJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest analysis job: %w", err)
	}
	return job, nil
}

// ListForRepo returns up to limit jobs for the repository, newest first.
func (r *AnalysisJobRepo) ListForRepo(ctx context.Context, repoID string, limit int) ([]*model.AnalysisJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+analysisJobColumns+`
		FROM analysis_jobs
		WHERE repo_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.AnalysisJob
	for rows.Next() {
		job, err := scanAnalysisJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis jobs: %w", err)
	}
	return out, nil
}

func scanAnalysisJob(scanner rowScanner) (*model.AnalysisJob, error) {
	var (
		job                   model.AnalysisJob
		errMsg                sql.NullString
		startedAt, finishedAt sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.RepoID,
		&job.UserID,
		&job.Fingerprint,
		&job.Trigger,
		&job.Status,
		&job.Progress,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.ErrorMessage = cloneNullableString(errMsg)
	job.StartedAt = cloneNullableTime(startedAt)
	job.FinishedAt = cloneNullableTime(finishedAt)
	return &job, nil
}
