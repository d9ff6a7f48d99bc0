package model

import (
	"strconv"
	"time"
)

// OutputKind identifies one of the generated documents.
type OutputKind string

const (
	OutputMaintainerBrief       OutputKind = "maintainer_brief"
	OutputContributorQuickstart OutputKind = "contributor_quickstart"
	OutputReleaseSummary        OutputKind = "release_summary"
	OutputGoodFirstIssues       OutputKind = "good_first_issues"
)

// MinCommitsForAnalysis is the smallest commit count a snapshot may carry into generation.
const MinCommitsForAnalysis = 5

const (
	maxCommitSources = 50
	maxPRSources     = 30
)

// OutputKinds lists every document produced by a successful run, in persistence order.
func OutputKinds() []OutputKind {
	return []OutputKind{
		OutputMaintainerBrief,
		OutputContributorQuickstart,
		OutputReleaseSummary,
		OutputGoodFirstIssues,
	}
}

// Valid returns true if the kind is known.
func (k OutputKind) Valid() bool {
	switch k {
	case OutputMaintainerBrief, OutputContributorQuickstart, OutputReleaseSummary, OutputGoodFirstIssues:
		return true
	}
	return false
}

// OutputSources records which inputs a document was derived from.
type OutputSources struct {
	Commits []string `json:"commits"`
	PRs     []int    `json:"prs"`
	Issues  []int    `json:"issues"`
}

// GeneratedOutput is a document produced by the generator, not yet persisted.
type GeneratedOutput struct {
	Kind       OutputKind    `json:"type"`
	Content    string        `json:"content"`
	Confidence float64       `json:"confidence"`
	Sources    OutputSources `json:"sources"`
}

// AnalysisOutput is a persisted document.
type AnalysisOutput struct {
	ID         string        `json:"id"         db:"id"`
	JobID      string        `json:"job_id"     db:"job_id"`
	RepoID     string        `json:"repo_id"    db:"repo_id"`
	Kind       OutputKind    `json:"type"       db:"type"`
	Content    string        `json:"content"    db:"content"`
	Confidence float64       `json:"confidence" db:"confidence"`
	Sources    OutputSources `json:"sources"    db:"sources"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// SourcesFor returns the provenance lists attached to every output of a snapshot.
func SourcesFor(s *Snapshot) OutputSources {
	src := OutputSources{Commits: []string{}, PRs: []int{}, Issues: []int{}}
	if s == nil {
		return src
	}
	for i, c := range s.Commits {
		if i >= maxCommitSources {
			break
		}
		src.Commits = append(src.Commits, c.SHA)
	}
	for i, pr := range s.PullRequests {
		if i >= maxPRSources {
			break
		}
		src.PRs = append(src.PRs, pr.Number)
	}
	for _, is := range s.Issues {
		src.Issues = append(src.Issues, is.Number)
	}
	return src
}

// ConfidenceFor scores how well the snapshot supports a given document, in [0, 1].
func ConfidenceFor(s *Snapshot, kind OutputKind) float64 {
	if s == nil {
		return 0
	}
	score := 0.5

	switch commits := len(s.Commits); {
	case commits >= 50:
		score += 0.2
	case commits >= 20:
		score += 0.1
	}

	switch prs := len(s.PullRequests); {
	case prs >= 10:
		score += 0.1
	case prs >= 5:
		score += 0.05
	}

	if s.Readme != "" {
		score += 0.1
	}
	if s.Contributing != "" {
		score += 0.05
	}

	switch kind {
	case OutputGoodFirstIssues:
		if len(s.Issues) >= 5 {
			score += 0.1
		} else if len(s.Issues) == 0 {
			score -= 0.2
		}
	case OutputReleaseSummary:
		if len(s.Releases) > 0 {
			score += 0.05
		}
	}

	return clampUnit(score)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	// Avoid float drift such as 0.8500000000000001 leaking into storage.
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 4, 64), 64)
	if err != nil {
		return v
	}
	return r
}
