package model

import "time"

// SnapshotRequest parameterizes a fetch of repository activity.
type SnapshotRequest struct {
	Owner          string
	Repo           string
	Branch         string
	Depth          AnalysisDepth
	IgnorePaths    []string
	InstallationID *int64
}

// RepoMetadata is the subset of repository metadata used for generation.
type RepoMetadata struct {
	Owner         string   `json:"owner"`
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	Language      string   `json:"language"`
	Stars         int      `json:"stargazers_count"`
	Forks         int      `json:"forks_count"`
	OpenIssues    int      `json:"open_issues_count"`
	DefaultBranch string   `json:"default_branch"`
	Topics        []string `json:"topics"`
}

// Commit is a commit summary.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Files   []string  `json:"files,omitempty"`
}

// PullRequest is a pull request summary.
type PullRequest struct {
	Number   int        `json:"number"`
	Title    string     `json:"title"`
	State    string     `json:"state"`
	MergedAt *time.Time `json:"merged_at,omitempty"`
	Author   string     `json:"author"`
	Body     string     `json:"body"`
	Labels   []string   `json:"labels"`
}

// Issue is an open issue summary.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
	Comments  int       `json:"comments"`
}

// Release is a published release summary.
type Release struct {
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Snapshot is the bundle of repository activity fed to generation.
type Snapshot struct {
	Repo         RepoMetadata  `json:"repo"`
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"prs"`
	Issues       []Issue       `json:"issues"`
	Releases     []Release     `json:"releases"`
	Readme       string        `json:"readme,omitempty"`
	Contributing string        `json:"contributing,omitempty"`
}
