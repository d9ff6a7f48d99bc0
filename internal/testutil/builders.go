// Package testutil provides test helpers shared across maintainer-brief packages.
package testutil

import (
	"fmt"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// SnapshotBuilder provides a fluent interface for building snapshots in tests.
type SnapshotBuilder struct {
	s   *model.Snapshot
	now time.Time
}

// NewSnapshot starts a snapshot for owner/name with no activity.
func NewSnapshot(owner, name string) *SnapshotBuilder {
	return &SnapshotBuilder{
		s: &model.Snapshot{
			Repo: model.RepoMetadata{
				Owner:         owner,
				Name:          name,
				FullName:      owner + "/" + name,
				DefaultBranch: "main",
			},
		},
		now: TestTime(),
	}
}

// WithCommits appends n commits with SHAs c000, c001, and so on, newest first.
func (b *SnapshotBuilder) WithCommits(n int) *SnapshotBuilder {
	for i := range n {
		b.s.Commits = append(b.s.Commits, model.Commit{
			SHA:     fmt.Sprintf("c%03d", len(b.s.Commits)),
			Message: fmt.Sprintf("change %d", i),
			Author:  "dev",
			Date:    b.now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return b
}

// WithPullRequests appends n merged pull requests numbered from 1.
func (b *SnapshotBuilder) WithPullRequests(n int) *SnapshotBuilder {
	for range n {
		merged := b.now.Add(-24 * time.Hour)
		num := len(b.s.PullRequests) + 1
		b.s.PullRequests = append(b.s.PullRequests, model.PullRequest{
			Number:   num,
			Title:    fmt.Sprintf("PR %d", num),
			State:    "closed",
			MergedAt: &merged,
			Author:   "dev",
		})
	}
	return b
}

// WithIssues appends n open issues numbered from 100.
func (b *SnapshotBuilder) WithIssues(n int) *SnapshotBuilder {
	for range n {
		num := 100 + len(b.s.Issues)
		b.s.Issues = append(b.s.Issues, model.Issue{
			Number:    num,
			Title:     fmt.Sprintf("Issue %d", num),
			State:     "open",
			Labels:    []string{"good first issue"},
			CreatedAt: b.now.Add(-48 * time.Hour),
		})
	}
	return b
}

// WithRelease appends a published release.
func (b *SnapshotBuilder) WithRelease(tag string) *SnapshotBuilder {
	published := b.now.Add(-72 * time.Hour)
	b.s.Releases = append(b.s.Releases, model.Release{TagName: tag, Name: tag, PublishedAt: &published})
	return b
}

// WithReadme sets README content.
func (b *SnapshotBuilder) WithReadme(content string) *SnapshotBuilder {
	b.s.Readme = content
	return b
}

// WithContributing sets CONTRIBUTING content.
func (b *SnapshotBuilder) WithContributing(content string) *SnapshotBuilder {
	b.s.Contributing = content
	return b
}

// Build returns the snapshot.
func (b *SnapshotBuilder) Build() *model.Snapshot {
	return b.s
}
