package openai

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

const (
	readmeExcerpt       = 3000
	contributingExcerpt = 1500
	stableThreshold     = 3
)

type countEntry struct {
	name  string
	count int
}

// fileChurn counts how many commits touched each file, most-changed first.
func fileChurn(commits []model.Commit) []countEntry {
	counts := map[string]int{}
	for _, c := range commits {
		for _, f := range c.Files {
			counts[f]++
		}
	}
	return sortedCounts(counts)
}

// directoryActivity counts file changes per top-level directory. Files at the root are grouped
// under ".".
func directoryActivity(commits []model.Commit) []countEntry {
	counts := map[string]int{}
	for _, c := range commits {
		for _, f := range c.Files {
			counts[topDir(f)]++
		}
	}
	return sortedCounts(counts)
}

func topDir(file string) string {
	dir := path.Dir(file)
	if dir == "." || dir == "/" {
		return "."
	}
	if i := strings.IndexByte(dir, '/'); i > 0 {
		return dir[:i]
	}
	return dir
}

func sortedCounts(counts map[string]int) []countEntry {
	out := make([]countEntry, 0, len(counts))
	for name, n := range counts {
		out = append(out, countEntry{name: name, count: n})
	}
	slices.SortFunc(out, func(a, b countEntry) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	return out
}

func stableAreas(dirs []countEntry, limit int) []string {
	var out []string
	for i := len(dirs) - 1; i >= 0 && len(out) < limit; i-- {
		if dirs[i].count <= stableThreshold {
			out = append(out, dirs[i].name)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func excerpt(s string, n int, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func toneInstruction(tone model.OutputTone, detailed, concise string) string {
	if tone == model.ToneDetailed {
		return detailed
	}
	return concise
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func buildPrompt(kind model.OutputKind, s *model.Snapshot, tone model.OutputTone) string {
	switch kind {
	case model.OutputContributorQuickstart:
		return contributorQuickstartPrompt(s, tone)
	case model.OutputReleaseSummary:
		return releaseSummaryPrompt(s, tone)
	case model.OutputGoodFirstIssues:
		return goodFirstIssuesPrompt(s, tone)
	default:
		return maintainerBriefPrompt(s, tone)
	}
}

func writeHeader(b *strings.Builder, s *model.Snapshot) {
	fmt.Fprintf(b, "Repository: %s\n", s.Repo.FullName)
	fmt.Fprintf(b, "Primary language: %s\n", orDefault(s.Repo.Language, "Multiple"))
	fmt.Fprintf(b, "Description: %s\n\n", orDefault(s.Repo.Description, "No description"))
}

func writeCommits(b *strings.Builder, commits []model.Commit, limit int) {
	fmt.Fprintf(b, "Recent commits (%d total):\n", len(commits))
	for i, c := range commits {
		if i >= limit {
			break
		}
		fmt.Fprintf(b, "- %s %s (%s)\n", shortSHA(c.SHA), firstLine(c.Message), c.Author)
	}
	b.WriteString("\n")
}

func writePRs(b *strings.Builder, prs []model.PullRequest, limit int) {
	fmt.Fprintf(b, "Merged pull requests (%d total):\n", len(prs))
	if len(prs) == 0 {
		b.WriteString("None in the analysis window\n")
	}
	for i, pr := range prs {
		if i >= limit {
			break
		}
		line := fmt.Sprintf("- #%d: %s by @%s", pr.Number, pr.Title, pr.Author)
		if len(pr.Labels) > 0 {
			line += " [" + strings.Join(pr.Labels, ", ") + "]"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
}

func writeCounts(b *strings.Builder, title string, entries []countEntry, limit int, suffix string) {
	b.WriteString(title + ":\n")
	if len(entries) == 0 {
		b.WriteString("No file data available\n")
	}
	for i, e := range entries {
		if i >= limit {
			break
		}
		fmt.Fprintf(b, "- %s%s (%d changes)\n", e.name, suffix, e.count)
	}
	b.WriteString("\n")
}

func maintainerBriefPrompt(s *model.Snapshot, tone model.OutputTone) string {
	var b strings.Builder
	b.WriteString("Write a Maintainer Brief that tells the maintainers what happened in this repository recently ")
	b.WriteString("and what needs their attention.\n\n")
	writeHeader(&b, s)
	writeCommits(&b, s.Commits, 50)
	writePRs(&b, s.PullRequests, 30)
	writeCounts(&b, "High churn files", fileChurn(s.Commits), 10, "")

	b.WriteString("Use these sections in order:\n")
	b.WriteString("# Maintainer Brief\n## Summary\n## What Changed\n## High Churn Files\n")
	b.WriteString("## Risky Changes\n## Contributor Patterns\n## Suggested Actions\n\n")
	b.WriteString(toneInstruction(tone,
		"Give complete technical detail and explain the reasoning behind each risk.",
		"Keep every section to short bullet points."))
	b.WriteString("\nReference commit SHAs and pull request numbers from the data above. Do not invent activity.")
	return b.String()
}

func contributorQuickstartPrompt(s *model.Snapshot, tone model.OutputTone) string {
	dirs := directoryActivity(s.Commits)
	var b strings.Builder
	b.WriteString("Write a contributor guide specific to this repository. Skip generic advice such as ")
	b.WriteString("cloning the repository; explain how this codebase is organized and where to begin.\n\n")
	writeHeader(&b, s)
	fmt.Fprintf(&b, "README:\n%s\n\n", excerpt(s.Readme, readmeExcerpt, "No README found"))
	fmt.Fprintf(&b, "CONTRIBUTING:\n%s\n\n", excerpt(s.Contributing, contributingExcerpt, "No CONTRIBUTING guide found"))
	writeCounts(&b, "Most active directories", dirs, 10, "/")
	writeCounts(&b, "Most frequently modified files", fileChurn(s.Commits), 15, "")

	b.WriteString("Low activity areas:\n")
	if stable := stableAreas(dirs, 5); len(stable) > 0 {
		for _, d := range stable {
			fmt.Fprintf(&b, "- %s/\n", d)
		}
	} else {
		b.WriteString("None identified\n")
	}
	b.WriteString("\n")
	writeCommits(&b, s.Commits, 30)
	writePRs(&b, s.PullRequests, 15)

	b.WriteString("Open issues tagged for contributors:\n")
	if len(s.Issues) == 0 {
		b.WriteString("No tagged issues found\n")
	}
	for i, is := range s.Issues {
		if i >= 8 {
			break
		}
		fmt.Fprintf(&b, "- #%d: %s (%s)\n", is.Number, is.Title, strings.Join(is.Labels, ", "))
	}

	b.WriteString("\nUse these sections in order:\n")
	b.WriteString("# Contributor Quickstart\n## Mental Model\n## Environment Setup\n## Start Here\n")
	b.WriteString("## Complexity Zones\n## Architecture\n## Recommended First Contributions\n\n")
	b.WriteString(toneInstruction(tone,
		"Use comprehensive technical detail.",
		"Be concise but specific."))
	b.WriteString("\nEvery statement should point at real files or directories from the data above.")
	return b.String()
}

func releaseSummaryPrompt(s *model.Snapshot, tone model.OutputTone) string {
	var b strings.Builder
	b.WriteString("Write a Release Summary from the recent repository activity.\n\n")
	writeHeader(&b, s)
	writeCommits(&b, s.Commits, 30)
	writePRs(&b, s.PullRequests, 30)

	b.WriteString("Last release: ")
	if len(s.Releases) > 0 {
		fmt.Fprintf(&b, "%s: %s\n\n", s.Releases[0].TagName, orDefault(s.Releases[0].Name, s.Releases[0].TagName))
	} else {
		b.WriteString("No releases found\n\n")
	}

	b.WriteString("Use these sections in order:\n")
	b.WriteString("# Release Summary\n## Features\n## Fixes\n## Internal\n## Breaking Changes\n## Upgrade Notes\n\n")
	b.WriteString("Finish with a fenced code block of end-user release notes ready to paste into GitHub Releases, ")
	b.WriteString("and write nothing after it.\n")
	b.WriteString(toneInstruction(tone,
		"Use complete technical detail.",
		"Use concise bullet points."))
	b.WriteString("\nCite commit SHAs in parentheses like (abc1234).")
	return b.String()
}

func goodFirstIssuesPrompt(s *model.Snapshot, tone model.OutputTone) string {
	dirs := directoryActivity(s.Commits)
	churn := fileChurn(s.Commits)
	var b strings.Builder
	b.WriteString("Suggest good first issues for new contributors. Each suggestion must be safe, specific, ")
	b.WriteString("and name the files to change.\n\n")
	writeHeader(&b, s)

	b.WriteString("Existing issues labeled for newcomers:\n")
	if len(s.Issues) == 0 {
		b.WriteString("None\n")
	}
	for i, is := range s.Issues {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "- #%d: %s\n", is.Number, is.Title)
	}
	b.WriteString("\n")

	b.WriteString("Stable areas (prefer these):\n")
	if stable := stableAreas(dirs, 8); len(stable) > 0 {
		for _, d := range stable {
			fmt.Fprintf(&b, "- %s/\n", d)
		}
	} else {
		b.WriteString("None identified\n")
	}
	b.WriteString("\n")
	writeCounts(&b, "High churn files (avoid these)", churn, 10, "")
	writeCommits(&b, s.Commits, 20)

	count := toneInstruction(tone, "5 to 8", "3 to 5")
	fmt.Fprintf(&b, "Propose %s issues grouped under Documentation, Tests, Code Quality, and UX. ", count)
	b.WriteString("For each give a title, why it is safe, what to do, the files involved, any related issue number, ")
	b.WriteString("and a confidence rating out of 5.\n")
	b.WriteString("Documentation changes rate 5/5; core logic rates 2/5 at most.")
	return b.String()
}
