package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

func noSleep(context.Context, time.Duration) error { return nil }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]string{"message": "Not Found"})
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*config.GitHubConfig)) *Client {
	t.Helper()
	cfg := config.GitHubConfig{
		APIURL:            srv.URL,
		Token:             "pat-token",
		RequestsPerSecond: 1000,
		Burst:             100,
		RetryAttempts:     3,
		RetryDelay:        time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(ClientOptions{Config: cfg, HTTPClient: srv.Client(), Sleep: noSleep})
	require.NoError(t, err)
	return c
}

func commitDetail(sha string, files ...string) map[string]any {
	fl := make([]map[string]any, 0, len(files))
	for _, f := range files {
		fl = append(fl, map[string]any{"filename": f})
	}
	return map[string]any{
		"sha": sha,
		"commit": map[string]any{
			"message": "change " + sha,
			"author":  map[string]any{"name": "Ada", "date": "2024-06-01T10:00:00Z"},
		},
		"files": fl,
	}
}

func snapshotMux(t *testing.T) *http.ServeMux {
	t.Helper()
	recent := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	old := time.Now().Add(-90 * 24 * time.Hour).UTC().Format(time.RFC3339)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat-token", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{
			"name": "widgets", "full_name": "acme/widgets", "owner": map[string]any{"login": "acme"},
			"description": "Widgets", "language": "Go", "stargazers_count": 42, "default_branch": "main",
			"topics": []string{"cli"},
		})
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		writeJSON(w, []map[string]any{{"sha": "c1"}, {"sha": "c2"}, {"sha": "c3"}})
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits/{sha}", func(w http.ResponseWriter, r *http.Request) {
		switch sha := r.PathValue("sha"); sha {
		case "c1":
			writeJSON(w, commitDetail(sha, "cmd/main.go", "docs/guide.md"))
		case "c2":
			writeJSON(w, commitDetail(sha, "docs/a.md", "docs/deep/b.md"))
		default:
			writeJSON(w, commitDetail(sha))
		}
	})
	mux.HandleFunc("GET /repos/acme/widgets/pulls", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"number": 7, "title": "Add flag", "state": "closed", "merged_at": recent,
				"user": map[string]any{"login": "bob"}, "labels": []map[string]any{{"name": "feature"}}},
			{"number": 6, "title": "Old", "state": "closed", "merged_at": old, "user": map[string]any{"login": "bob"}},
			{"number": 5, "title": "Closed unmerged", "state": "closed", "merged_at": nil},
		})
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("labels") {
		case "good first issue":
			writeJSON(w, []map[string]any{
				{"number": 11, "title": "Typo", "state": "open", "created_at": recent, "comments": 1,
					"labels": []map[string]any{{"name": "good first issue"}}},
				{"number": 12, "title": "PR masquerading", "state": "open", "created_at": recent,
					"pull_request": map[string]any{"url": "x"}},
			})
		case "help wanted":
			writeJSON(w, []map[string]any{
				{"number": 11, "title": "Typo", "state": "open", "created_at": recent},
				{"number": 13, "title": "Docs", "state": "open", "created_at": recent},
			})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("GET /repos/acme/widgets/releases", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{{"tag_name": "v1.0.0", "name": "One", "created_at": recent}})
	})
	mux.HandleFunc("GET /repos/acme/widgets/readme", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Widgets\n")),
		})
	})
	mux.HandleFunc("GET /repos/acme/widgets/contents/CONTRIBUTING.md", notFound)
	mux.HandleFunc("GET /repos/acme/widgets/contents/CONTRIBUTING", notFound)
	mux.HandleFunc("GET /repos/acme/widgets/contents/.github/CONTRIBUTING.md", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"encoding": "base64", "content": base64.StdEncoding.EncodeToString([]byte("be kind"))})
	})
	return mux
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(snapshotMux(t))
	defer srv.Close()
	c := newTestClient(t, srv, nil)

	snap, err := c.FetchSnapshot(context.Background(), model.SnapshotRequest{
		Owner: "acme", Repo: "widgets", Branch: "main", Depth: model.DepthFast,
		IgnorePaths: []string{"docs/**"},
	})
	require.NoError(t, err)

	assert.Equal(t, "acme/widgets", snap.Repo.FullName)
	assert.Equal(t, "acme", snap.Repo.Owner)
	assert.Equal(t, 42, snap.Repo.Stars)

	require.Len(t, snap.Commits, 2, "commit touching only ignored paths is dropped")
	assert.Equal(t, "c1", snap.Commits[0].SHA)
	assert.Equal(t, []string{"cmd/main.go"}, snap.Commits[0].Files)
	assert.Equal(t, "Ada", snap.Commits[0].Author)
	assert.Equal(t, "c3", snap.Commits[1].SHA, "commit without files is kept")

	require.Len(t, snap.PullRequests, 1)
	assert.Equal(t, 7, snap.PullRequests[0].Number)
	assert.Equal(t, []string{"feature"}, snap.PullRequests[0].Labels)

	nums := []int{}
	for _, is := range snap.Issues {
		nums = append(nums, is.Number)
	}
	assert.ElementsMatch(t, []int{11, 13}, nums)

	require.Len(t, snap.Releases, 1)
	require.NotNil(t, snap.Releases[0].PublishedAt, "falls back to created_at")
	assert.Equal(t, "# Widgets\n", snap.Readme)
	assert.Equal(t, "be kind", snap.Contributing)
}

func TestFetchSnapshot_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	mux := snapshotMux(t)
	limited := http.NewServeMux()
	limited.HandleFunc("GET /repos/acme/widgets/commits", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]string{"message": "API rate limit exceeded for installation"})
	})
	limited.Handle("/", mux)
	srv := httptest.NewServer(limited)
	defer srv.Close()
	c := newTestClient(t, srv, nil)

	_, err := c.FetchSnapshot(context.Background(), model.SnapshotRequest{
		Owner: "acme", Repo: "widgets", Branch: "main", Depth: model.DepthFast,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchSnapshot_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		notFound(w, r)
	}))
	defer srv.Close()
	c := newTestClient(t, srv, nil)

	_, err := c.LatestCommit(context.Background(), core.CommitRef{Owner: "acme", Repo: "gone", Branch: "main"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLatestCommit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/commits/{ref}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "develop", r.PathValue("ref"))
		writeJSON(w, map[string]any{"sha": "abc123"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv, nil)

	sha, err := c.LatestCommit(context.Background(), core.CommitRef{Owner: "acme", Repo: "widgets", Branch: "develop"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)
}

func TestLatestCommit_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"sha": "def456"})
	}))
	defer srv.Close()
	c := newTestClient(t, srv, nil)

	sha, err := c.LatestCommit(context.Background(), core.CommitRef{Owner: "acme", Repo: "widgets", Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, "def456", sha)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInstallationAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var exchanges atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "1234", claims.Issuer)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"token": "inst-token", "expires_at": time.Now().Add(time.Hour).Format(time.RFC3339)})
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits/{ref}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer inst-token", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"sha": "abc123"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *config.GitHubConfig) {
		cfg.AppID = 1234
		cfg.PrivateKey = string(keyPEM)
	})
	installation := int64(42)
	for range 2 {
		sha, err := c.LatestCommit(context.Background(), core.CommitRef{
			Owner: "acme", Repo: "widgets", Branch: "main", InstallationID: &installation,
		})
		require.NoError(t, err)
		assert.Equal(t, "abc123", sha)
	}
	assert.Equal(t, int32(1), exchanges.Load(), "installation token is reused until expiry")
}

func TestNewClient_RejectsBadPrivateKey(t *testing.T) {
	_, err := NewClient(ClientOptions{Config: config.GitHubConfig{AppID: 1, PrivateKey: "not a key"}})
	require.Error(t, err)
}

func TestEndpointTag(t *testing.T) {
	for path, want := range map[string]string{
		"/repos/acme/widgets":                "repos.get",
		"/repos/acme/widgets/commits/abc":    "repos.commits",
		"/app/installations/1/access_tokens": "app",
	} {
		assert.Equal(t, want, endpointTag(path), fmt.Sprintf("path %s", path))
	}
}
