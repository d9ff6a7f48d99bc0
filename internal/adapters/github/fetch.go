package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

const (
	prPageSize      = 50
	issuePageSize   = 20
	releaseLimit    = 5
	commitDetailFan = 8
	unknownAuthor   = "Unknown"
)

// goodFirstIssueLabels are queried one by one; results are merged by issue number.
var goodFirstIssueLabels = []string{"good first issue", "help wanted", "beginner friendly"}

var contributingPaths = []string{"CONTRIBUTING.md", "CONTRIBUTING", ".github/CONTRIBUTING.md"}

// Projections from raw GitHub payloads onto the snapshot shapes.
const (
	repoProjection = `{owner: owner.login, name: name, full_name: full_name, description: description,
		language: language, stargazers_count: stargazers_count, forks_count: forks_count,
		open_issues_count: open_issues_count, default_branch: default_branch, topics: topics}`
	commitProjection = `{sha: sha, message: commit.message, author: commit.author.name,
		date: commit.author.date, files: files[].filename}`
	pullProjection = `[?merged_at != null].{number: number, title: title, state: state,
		merged_at: merged_at, author: user.login, body: body, labels: labels[].name}`
	issueProjection = `[?pull_request == null].{number: number, title: title, state: state, body: body,
		labels: labels[].name, created_at: created_at, comments: comments}`
	releaseProjection = `[].{tag_name: tag_name, name: name, body: body,
		published_at: published_at || created_at}`
)

var (
	_ core.SnapshotFetcher = (*Client)(nil)
	_ core.CommitResolver  = (*Client)(nil)
)

// FetchSnapshot pulls metadata, recent commits, merged pull requests, good first issues, releases,
// README, and CONTRIBUTING concurrently. Metadata, commit, and pull request failures fail the
// snapshot; the remaining sub-fetches degrade to empty.
func (c *Client) FetchSnapshot(ctx context.Context, req model.SnapshotRequest) (*model.Snapshot, error) {
	ts := c.tokenSource(req.InstallationID)
	limits := req.Depth.Limits()
	ignore, err := compileIgnore(req.IgnorePaths)
	if err != nil {
		return nil, err
	}
	f := &fetch{c: c, ts: ts, owner: req.Owner, repo: req.Repo}

	snap := &model.Snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := f.metadata(gctx)
		if err != nil {
			return fmt.Errorf("fetch repo metadata: %w", err)
		}
		snap.Repo = meta
		return nil
	})
	g.Go(func() error {
		commits, err := f.commits(gctx, req.Branch, limits.CommitLimit, ignore)
		if err != nil {
			return fmt.Errorf("fetch commits: %w", err)
		}
		snap.Commits = commits
		return nil
	})
	g.Go(func() error {
		prs, err := f.mergedPulls(gctx, time.Now().Add(-limits.PRWindow))
		if err != nil {
			return fmt.Errorf("fetch pull requests: %w", err)
		}
		snap.PullRequests = prs
		return nil
	})
	g.Go(func() error {
		snap.Issues = f.goodFirstIssues(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Releases = f.releases(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Readme = f.readme(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Contributing = f.contributing(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if snap.Repo.Owner == "" {
		snap.Repo.Owner = req.Owner
	}
	if snap.Repo.Name == "" {
		snap.Repo.Name = req.Repo
	}
	return snap, nil
}

// LatestCommit returns the head commit SHA of a branch.
func (c *Client) LatestCommit(ctx context.Context, ref core.CommitRef) (string, error) {
	branch := ref.Branch
	if branch == "" {
		branch = "HEAD"
	}
	var out struct {
		SHA string `json:"sha"`
	}
	path := repoPath(ref.Owner, ref.Repo) + "/commits/" + url.PathEscape(branch)
	if err := c.getJSON(ctx, c.tokenSource(ref.InstallationID), path, nil, &out); err != nil {
		return "", fmt.Errorf("resolve %s/%s@%s: %w", ref.Owner, ref.Repo, branch, err)
	}
	if out.SHA == "" {
		return "", fmt.Errorf("resolve %s/%s@%s: empty sha", ref.Owner, ref.Repo, branch)
	}
	return out.SHA, nil
}

type fetch struct {
	c     *Client
	ts    oauth2.TokenSource
	owner string
	repo  string
}

func (f *fetch) get(ctx context.Context, suffix string, query url.Values) (any, error) {
	var raw any
	if err := f.c.getJSON(ctx, f.ts, repoPath(f.owner, f.repo)+suffix, query, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (f *fetch) metadata(ctx context.Context) (model.RepoMetadata, error) {
	var meta model.RepoMetadata
	raw, err := f.get(ctx, "", nil)
	if err != nil {
		return meta, err
	}
	err = project(raw, repoProjection, &meta)
	return meta, err
}

func (f *fetch) commits(ctx context.Context, branch string, limit int, ignore *ignoreSet) ([]model.Commit, error) {
	q := url.Values{"per_page": {strconv.Itoa(min(limit, 100))}}
	if branch != "" {
		q.Set("sha", branch)
	}
	var shas []string
	for page := 1; len(shas) < limit; page++ {
		q.Set("page", strconv.Itoa(page))
		raw, err := f.get(ctx, "/commits", q)
		if err != nil {
			return nil, err
		}
		var batch []string
		if err := project(raw, "[].sha", &batch); err != nil {
			return nil, err
		}
		shas = append(shas, batch...)
		if len(batch) < min(limit, 100) {
			break
		}
	}
	if len(shas) > limit {
		shas = shas[:limit]
	}

	commits := make([]model.Commit, len(shas))
	keep := make([]bool, len(shas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(commitDetailFan)
	for i, sha := range shas {
		g.Go(func() error {
			raw, err := f.get(gctx, "/commits/"+sha, nil)
			if err != nil {
				return err
			}
			var cm model.Commit
			if err := project(raw, commitProjection, &cm); err != nil {
				return err
			}
			if cm.Author == "" {
				cm.Author = unknownAuthor
			}
			files, dropped := ignore.filter(cm.Files)
			cm.Files = files
			commits[i] = cm
			keep[i] = !(dropped && len(files) == 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := commits[:0]
	for i, cm := range commits {
		if keep[i] {
			out = append(out, cm)
		}
	}
	return out, nil
}

func (f *fetch) mergedPulls(ctx context.Context, since time.Time) ([]model.PullRequest, error) {
	raw, err := f.get(ctx, "/pulls", url.Values{
		"state":     {"closed"},
		"sort":      {"updated"},
		"direction": {"desc"},
		"per_page":  {strconv.Itoa(prPageSize)},
	})
	if err != nil {
		return nil, err
	}
	var prs []model.PullRequest
	if err := project(raw, pullProjection, &prs); err != nil {
		return nil, err
	}
	out := prs[:0]
	for _, pr := range prs {
		if pr.MergedAt == nil || pr.MergedAt.Before(since) {
			continue
		}
		if pr.Author == "" {
			pr.Author = unknownAuthor
		}
		out = append(out, pr)
	}
	return out, nil
}

func (f *fetch) goodFirstIssues(ctx context.Context) []model.Issue {
	var g errgroup.Group
	results := make([][]model.Issue, len(goodFirstIssueLabels))
	for i, label := range goodFirstIssueLabels {
		g.Go(func() error {
			raw, err := f.get(ctx, "/issues", url.Values{
				"state":    {"open"},
				"labels":   {label},
				"per_page": {strconv.Itoa(issuePageSize)},
			})
			if err == nil {
				var issues []model.Issue
				if err = project(raw, issueProjection, &issues); err == nil {
					results[i] = issues
				}
			}
			if err != nil {
				f.c.logger.WarnContext(ctx, "failed to fetch labelled issues", "label", label, "repo", f.owner+"/"+f.repo, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	byNum := map[int]model.Issue{}
	var order []int
	for _, issues := range results {
		for _, is := range issues {
			if _, seen := byNum[is.Number]; seen {
				continue
			}
			byNum[is.Number] = is
			order = append(order, is.Number)
		}
	}
	out := make([]model.Issue, 0, len(order))
	for _, n := range order {
		out = append(out, byNum[n])
	}
	return out
}

func (f *fetch) releases(ctx context.Context) []model.Release {
	raw, err := f.get(ctx, "/releases", url.Values{"per_page": {strconv.Itoa(releaseLimit)}})
	var rel []model.Release
	if err == nil {
		err = project(raw, releaseProjection, &rel)
	}
	if err != nil {
		f.c.logger.WarnContext(ctx, "failed to fetch releases", "repo", f.owner+"/"+f.repo, "error", err)
		return nil
	}
	return rel
}

func (f *fetch) readme(ctx context.Context) string {
	content, err := f.file(ctx, "/readme")
	if err != nil && !errors.Is(err, ErrNotFound) {
		f.c.logger.WarnContext(ctx, "failed to fetch readme", "repo", f.owner+"/"+f.repo, "error", err)
	}
	return content
}

func (f *fetch) contributing(ctx context.Context) string {
	for _, p := range contributingPaths {
		content, err := f.file(ctx, "/contents/"+p)
		if err == nil {
			return content
		}
		if !errors.Is(err, ErrNotFound) {
			f.c.logger.WarnContext(ctx, "failed to fetch contributing guide", "path", p, "error", err)
		}
	}
	return ""
}

// file fetches a contents-API object and decodes its base64 body.
func (f *fetch) file(ctx context.Context, suffix string) (string, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := f.c.getJSON(ctx, f.ts, repoPath(f.owner, f.repo)+suffix, nil, &out); err != nil {
		return "", err
	}
	if out.Encoding != "" && out.Encoding != "base64" {
		return out.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", suffix, err)
	}
	return string(decoded), nil
}

// project applies a JMESPath expression to a decoded GitHub payload and re-decodes the result
// into out.
func project(raw any, expr string, out any) error {
	res, err := jmespath.Search(expr, raw)
	if err != nil {
		return fmt.Errorf("project github payload: %w", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("project github payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("project github payload: %w", err)
	}
	return nil
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}
