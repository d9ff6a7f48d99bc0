package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

func TestFileChurnAndDirectoryActivity(t *testing.T) {
	commits := []model.Commit{
		{Files: []string{"src/api/handler.go", "src/api/routes.go", "README.md"}},
		{Files: []string{"src/api/handler.go", "docs/guide.md"}},
		{Files: []string{"src/api/handler.go", "src/db/store.go"}},
	}

	churn := fileChurn(commits)
	assert.Equal(t, countEntry{name: "src/api/handler.go", count: 3}, churn[0])
	assert.Len(t, churn, 5)

	dirs := directoryActivity(commits)
	assert.Equal(t, []countEntry{
		{name: "src", count: 5},
		{name: ".", count: 1},
		{name: "docs", count: 1},
	}, dirs)

	assert.Equal(t, []string{"docs", "."}, stableAreas(dirs, 2))
}

func TestTopDir(t *testing.T) {
	assert.Equal(t, ".", topDir("go.mod"))
	assert.Equal(t, "cmd", topDir("cmd/app/main.go"))
	assert.Equal(t, "internal", topDir("internal/x.go"))
}

func TestExcerptAndFirstLine(t *testing.T) {
	assert.Equal(t, "none", excerpt("   ", 10, "none"))
	assert.Equal(t, "abc", excerpt("abcdef", 3, "none"))
	assert.Equal(t, "fix: thing", firstLine("fix: thing\n\nlong body"))
	assert.Equal(t, "abc1234", shortSHA("abc1234def"))
	assert.Equal(t, "abc", shortSHA("abc"))
}

func TestBuildPrompt_SectionsPerKind(t *testing.T) {
	s := snapshotWithCommits(5)
	s.Releases = []model.Release{{TagName: "v1.2.0", Name: "Spring"}}

	brief := buildPrompt(model.OutputMaintainerBrief, s, model.ToneConcise)
	assert.Contains(t, brief, "# Maintainer Brief")
	assert.Contains(t, brief, "## Risky Changes")
	assert.Contains(t, brief, "#12: Add retries by @dev [enhancement]")
	assert.Contains(t, brief, "short bullet points")

	quick := buildPrompt(model.OutputContributorQuickstart, s, model.ToneDetailed)
	assert.Contains(t, quick, "# Contributor Quickstart")
	assert.Contains(t, quick, "# Widgets")
	assert.Contains(t, quick, "No CONTRIBUTING guide found")
	assert.Contains(t, quick, "#3: Fix typo (good first issue)")

	release := buildPrompt(model.OutputReleaseSummary, s, model.ToneConcise)
	assert.Contains(t, release, "Last release: v1.2.0: Spring")
	assert.Contains(t, release, "## Breaking Changes")

	issues := buildPrompt(model.OutputGoodFirstIssues, s, model.ToneDetailed)
	assert.Contains(t, issues, "5 to 8")
	assert.Contains(t, issues, "#3: Fix typo")
}
