package model

import (
	"fmt"
	"strings"
	"time"
)

// AnalysisDepth controls how much history a snapshot covers.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AnalysisDepth string

// OutputTone controls the verbosity of generated documents.
type OutputTone string

// Recurrence is a repository's automatic analysis policy.
type Recurrence string

const (
	// DepthFast covers 50 commits and a 30 day pull request window.
	DepthFast AnalysisDepth = "fast"
	// DepthDeep covers 200 commits and a 60 day pull request window.
	DepthDeep AnalysisDepth = "deep"

	// ToneConcise produces shorter documents.
	ToneConcise OutputTone = "concise"
	// ToneDetailed produces longer documents.
	ToneDetailed OutputTone = "detailed"

	// RecurrenceManual disables automatic runs.
	RecurrenceManual Recurrence = "manual"
	// RecurrenceWeekly runs once a week on the designated weekday.
	RecurrenceWeekly Recurrence = "weekly"
	// RecurrenceBiweekly runs on the designated weekday at most every other week.
	RecurrenceBiweekly Recurrence = "biweekly"
)

// UnmarshalText implements encoding.TextUnmarshaler for AnalysisDepth.
func (d *AnalysisDepth) UnmarshalText(text []byte) error {
	v := AnalysisDepth(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid AnalysisDepth: %q", v)
	}
	*d = v
	return nil
}

// Valid returns true if the depth is known.
func (d AnalysisDepth) Valid() bool { return d == DepthFast || d == DepthDeep }

// Valid returns true if the tone is known.
func (t OutputTone) Valid() bool { return t == ToneConcise || t == ToneDetailed }

// Valid returns true if the recurrence is known.
func (r Recurrence) Valid() bool {
	return r == RecurrenceManual || r == RecurrenceWeekly || r == RecurrenceBiweekly
}

// DepthLimits are the fetch bounds associated with a depth.
type DepthLimits struct {
	CommitLimit int
	PRWindow    time.Duration
}

// Limits returns the fetch bounds for d. Unknown depths are treated as fast.
func (d AnalysisDepth) Limits() DepthLimits {
	if d == DepthDeep {
		return DepthLimits{CommitLimit: 200, PRWindow: 60 * 24 * time.Hour}
	}
	return DepthLimits{CommitLimit: 50, PRWindow: 30 * 24 * time.Hour}
}

// Repo is a GitHub repository connected to the system.
type Repo struct {
	ID             string    `json:"id"                        db:"id"`
	OwnerUserID    string    `json:"owner_user_id"             db:"owner_user_id"`
	GitHubRepoID   int64     `json:"github_repo_id"            db:"github_repo_id"`
	Owner          string    `json:"owner"                     db:"owner"`
	Name           string    `json:"name"                      db:"name"`
	FullName       string    `json:"full_name"                 db:"full_name"`
	DefaultBranch  string    `json:"default_branch"            db:"default_branch"`
	InstallationID *int64    `json:"installation_id,omitempty" db:"installation_id"`
	CreatedAt      time.Time `json:"created_at"                db:"created_at"`
}

// RepoSettings are the per-repository analysis and notification preferences.
type RepoSettings struct {
	RepoID                   string        `json:"repo_id"                db:"repo_id"`
	Branch                   string        `json:"branch"                 db:"branch"`
	Depth                    AnalysisDepth `json:"analysis_depth"         db:"analysis_depth"`
	Tone                     OutputTone    `json:"output_tone"            db:"output_tone"`
	IgnorePaths              []string      `json:"ignore_paths"           db:"ignore_paths"`
	Schedule                 Recurrence    `json:"schedule"               db:"schedule"`
	NotifyEmail              bool          `json:"notify_email"           db:"notify_email"`
	NotifySlack              bool          `json:"notify_slack"           db:"notify_slack"`
	SlackWebhookURLEncrypted *string       `json:"-"                      db:"slack_webhook_url_encrypted"`
}

// EffectiveBranch returns the configured branch or the repository default.
func (s *RepoSettings) EffectiveBranch(r *Repo) string {
	if s != nil && strings.TrimSpace(s.Branch) != "" {
		return s.Branch
	}
	if r != nil && r.DefaultBranch != "" {
		return r.DefaultBranch
	}
	return "main"
}

// RepoWithSettings bundles a repository, its settings, and the owner's contact address.
type RepoWithSettings struct {
	Repo       Repo
	Settings   RepoSettings
	OwnerEmail string
}

// ScheduledRepo is a repository with a non-manual schedule and the creation time of its most recent job.
type ScheduledRepo struct {
	RepoWithSettings
	LastJobAt *time.Time
}
