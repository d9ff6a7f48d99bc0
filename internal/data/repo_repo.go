package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data/pgxutil"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// RepoRepo reads connected repositories joined with their settings, owner email, and the owner's
// GitHub App installation.
type RepoRepo struct {
	DB *sql.DB
}

var _ core.RepoRepository = (*RepoRepo)(nil)

// NewRepoRepo creates a RepoRepo.
func NewRepoRepo(db *sql.DB) *RepoRepo {
	return &RepoRepo{DB: db}
}

// Repos without a settings row read as the column defaults.
const repoSelect = `
  SELECT
    r.id, r.user_id, r.github_repo_id, r.owner, r.name, r.full_name, r.default_branch,
    ga.installation_id, r.created_at,
    COALESCE(s.branch, ''),
    COALESCE(s.analysis_depth, 'fast'),
    COALESCE(s.output_tone, 'concise'),
    COALESCE(s.ignore_paths, '{}'::text[]),
    COALESCE(s.schedule, 'manual'),
    COALESCE(s.notify_email, FALSE),
    COALESCE(s.notify_slack, FALSE),
    s.slack_webhook_url_encrypted,
    u.email`

const repoFrom = `
  FROM repos r
  JOIN users u ON u.id = r.user_id
  LEFT JOIN repo_settings s ON s.repo_id = r.id
  LEFT JOIN github_accounts ga ON ga.user_id = r.user_id`

// GetWithSettings returns one repository or ErrRepoNotFound.
func (r *RepoRepo) GetWithSettings(ctx context.Context, repoID string) (*model.RepoWithSettings, error) {
	var out *model.RepoWithSettings
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		row := conn.QueryRow(ctx, repoSelect+repoFrom+` WHERE r.id = $1`, repoID)
		rws, err := scanRepoWithSettings(row, false)
		if err != nil {
			return err
		}
		out = &rws.RepoWithSettings
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repo: %w", err)
	}
	return out, nil
}

// ListScheduled returns every active repository whose schedule is not manual, with the creation
// time of its most recent analysis job.
func (r *RepoRepo) ListScheduled(ctx context.Context) ([]*model.ScheduledRepo, error) {
	var out []*model.ScheduledRepo
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, repoSelect+`,
    (SELECT max(j.created_at) FROM analysis_jobs j WHERE j.repo_id = r.id)`+repoFrom+`
  WHERE r.status = 'active'
    AND s.schedule IN ('weekly', 'biweekly')
  ORDER BY r.created_at, r.id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rws, err := scanRepoWithSettings(rows, true)
			if err != nil {
				return err
			}
			out = append(out, rws)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list scheduled repos: %w", err)
	}
	return out, nil
}

func scanRepoWithSettings(scanner rowScanner, withLastJob bool) (*model.ScheduledRepo, error) {
	var (
		out            model.ScheduledRepo
		installationID *int64
		webhook        *string
		lastJobAt      sql.NullTime
	)
	repo := &out.Repo
	settings := &out.Settings
	dest := []any{
		&repo.ID, &repo.OwnerUserID, &repo.GitHubRepoID, &repo.Owner, &repo.Name, &repo.FullName, &repo.DefaultBranch,
		&installationID, &repo.CreatedAt,
		&settings.Branch, &settings.Depth, &settings.Tone, &settings.IgnorePaths, &settings.Schedule,
		&settings.NotifyEmail, &settings.NotifySlack, &webhook,
		&out.OwnerEmail,
	}
	if withLastJob {
		dest = append(dest, &lastJobAt)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	repo.InstallationID = installationID
	settings.RepoID = repo.ID
	settings.SlackWebhookURLEncrypted = webhook
	out.LastJobAt = cloneNullableTime(lastJobAt)
	return &out, nil
}
