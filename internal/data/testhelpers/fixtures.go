// Package testhelpers seeds database fixtures for repository integration tests.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// RepoFixture describes a repository row and its settings.
type RepoFixture struct {
	Owner          string
	Name           string
	Schedule       model.Recurrence
	Status         string
	InstallationID *int64
	NotifySlack    bool
	WebhookCipher  *string
}

// SeededRepo holds the ids written by SeedRepo.
type SeededRepo struct {
	UserID string
	RepoID string
	Email  string
}

// SeedRepo inserts a user, GitHub account, repository and settings row.
func SeedRepo(t *testing.T, db *sql.DB, f RepoFixture) SeededRepo {
	t.Helper()
	ctx := context.Background()

	if f.Owner == "" {
		f.Owner = "acme"
	}
	if f.Name == "" {
		f.Name = "widget-" + uuid.NewString()[:8]
	}
	if f.Schedule == "" {
		f.Schedule = model.RecurrenceManual
	}
	if f.Status == "" {
		f.Status = "active"
	}

	out := SeededRepo{Email: fmt.Sprintf("%s@example.com", uuid.NewString()[:8])}
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO users (email) VALUES ($1) RETURNING id`, out.Email).Scan(&out.UserID))
	_, err := db.ExecContext(ctx,
		`INSERT INTO github_accounts (user_id, github_login, installation_id) VALUES ($1, $2, $3)`,
		out.UserID, f.Owner, f.InstallationID)
	require.NoError(t, err)
	require.NoError(t, db.QueryRowContext(ctx, `
		INSERT INTO repos (user_id, github_repo_id, owner, name, full_name, default_branch, status)
		VALUES ($1, $2, $3, $4, $5, 'main', $6)
		RETURNING id`,
		out.UserID, time.Now().UnixNano(), f.Owner, f.Name, f.Owner+"/"+f.Name, f.Status,
	).Scan(&out.RepoID))
	_, err = db.ExecContext(ctx, `
		INSERT INTO repo_settings (repo_id, schedule, notify_email, notify_slack, slack_webhook_url_encrypted)
		VALUES ($1, $2, TRUE, $3, $4)`,
		out.RepoID, f.Schedule, f.NotifySlack, f.WebhookCipher)
	require.NoError(t, err)
	return out
}
