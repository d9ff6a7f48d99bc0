package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

type completionServer struct {
	mu       sync.Mutex
	requests []goopenai.ChatCompletionRequest
	calls    atomic.Int32
	// respond decides the reply for the n-th call, counting from 1.
	respond func(n int32, w http.ResponseWriter, req goopenai.ChatCompletionRequest)
}

func (s *completionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req goopenai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	s.respond(s.calls.Add(1), w, req)
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4-turbo-preview",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
	})
}

func replyError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	})
}

// echoHeading answers with the document title the prompt asks for.
func echoHeading(_ int32, w http.ResponseWriter, req goopenai.ChatCompletionRequest) {
	prompt := req.Messages[len(req.Messages)-1].Content
	for _, title := range []string{"# Maintainer Brief", "# Contributor Quickstart", "# Release Summary"} {
		if strings.Contains(prompt, "\n"+title+"\n") {
			reply(w, title)
			return
		}
	}
	reply(w, "# Good First Issues")
}

func newTestGenerator(t *testing.T, srv *httptest.Server, sink statsd.Sink) *Generator {
	t.Helper()
	g, err := NewGenerator(GeneratorOptions{
		Config: config.OpenAIConfig{
			APIKey:            "sk-test",
			BaseURL:           srv.URL + "/v1/",
			Model:             "gpt-4-turbo-preview",
			Temperature:       0.7,
			RequestsPerMinute: 60000,
			RetryAttempts:     3,
		},
		HTTPClient: srv.Client(),
		Metrics:    sink,
		Sleep:      noSleep,
	})
	require.NoError(t, err)
	return g
}

func snapshotWithCommits(n int) *model.Snapshot {
	s := &model.Snapshot{
		Repo:   model.RepoMetadata{Owner: "acme", Name: "widgets", FullName: "acme/widgets", Language: "Go"},
		Readme: "# Widgets",
		PullRequests: []model.PullRequest{
			{Number: 12, Title: "Add retries", Author: "dev", Labels: []string{"enhancement"}},
		},
		Issues: []model.Issue{{Number: 3, Title: "Fix typo", Labels: []string{"good first issue"}}},
	}
	for i := range n {
		s.Commits = append(s.Commits, model.Commit{
			SHA:     fmt.Sprintf("%040d", i),
			Message: fmt.Sprintf("commit %d\n\nbody", i),
			Author:  "dev",
			Files:   []string{"internal/app/file.go", "docs/readme.md"},
		})
	}
	return s
}

func TestNewGenerator_RequiresAPIKey(t *testing.T) {
	_, err := NewGenerator(GeneratorOptions{Config: config.OpenAIConfig{APIKey: "  "}})
	require.Error(t, err)
}

func TestGenerate_ProducesAllOutputsInOrder(t *testing.T) {
	cs := &completionServer{respond: echoHeading}
	srv := httptest.NewServer(cs)
	defer srv.Close()
	rec := &statsd.Recorder{}
	g := newTestGenerator(t, srv, rec)

	snap := snapshotWithCommits(6)
	outputs, err := g.Generate(context.Background(), snap, model.ToneDetailed)
	require.NoError(t, err)
	require.Len(t, outputs, 4)

	assert.Equal(t, model.OutputKinds(), []model.OutputKind{
		outputs[0].Kind, outputs[1].Kind, outputs[2].Kind, outputs[3].Kind,
	})
	assert.Equal(t, "# Maintainer Brief", outputs[0].Content)
	assert.Equal(t, "# Contributor Quickstart", outputs[1].Content)
	assert.Equal(t, "# Release Summary", outputs[2].Content)
	for _, out := range outputs {
		assert.Equal(t, model.ConfidenceFor(snap, out.Kind), out.Confidence)
		assert.Len(t, out.Sources.Commits, 6)
		assert.Equal(t, []int{12}, out.Sources.PRs)
		assert.Equal(t, []int{3}, out.Sources.Issues)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.Len(t, cs.requests, 4)
	tokens := map[int]int{}
	for _, req := range cs.requests {
		assert.Equal(t, "gpt-4-turbo-preview", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 0.001)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, goopenai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, systemPrompt, req.Messages[0].Content)
		assert.Contains(t, req.Messages[1].Content, "acme/widgets")
		tokens[req.MaxTokens]++
	}
	assert.Equal(t, map[int]int{3000: 3, 2500: 1}, tokens)
	assert.Equal(t, int64(4), rec.Sum("openai.completion", map[string]string{"result": "success"}))
}

func TestGenerate_InsufficientDataSkipsAPI(t *testing.T) {
	cs := &completionServer{respond: echoHeading}
	srv := httptest.NewServer(cs)
	defer srv.Close()
	g := newTestGenerator(t, srv, nil)

	_, err := g.Generate(context.Background(), snapshotWithCommits(model.MinCommitsForAnalysis-1), model.ToneConcise)
	require.ErrorIs(t, err, model.ErrInsufficientData)

	_, err = g.Generate(context.Background(), nil, model.ToneConcise)
	require.ErrorIs(t, err, model.ErrInsufficientData)
	assert.Zero(t, cs.calls.Load())
}

func TestGenerate_RetriesRateLimit(t *testing.T) {
	cs := &completionServer{respond: func(n int32, w http.ResponseWriter, req goopenai.ChatCompletionRequest) {
		if n == 1 {
			replyError(w, http.StatusTooManyRequests, "Rate limit reached")
			return
		}
		echoHeading(n, w, req)
	}}
	srv := httptest.NewServer(cs)
	defer srv.Close()
	g := newTestGenerator(t, srv, nil)

	outputs, err := g.Generate(context.Background(), snapshotWithCommits(5), model.ToneConcise)
	require.NoError(t, err)
	assert.Len(t, outputs, 4)
	assert.Equal(t, int32(5), cs.calls.Load())

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, req := range cs.requests {
		assert.Contains(t, []int{2000, 1500}, req.MaxTokens)
	}
}

func TestGenerate_ServerErrorExhaustsAttempts(t *testing.T) {
	cs := &completionServer{respond: func(_ int32, w http.ResponseWriter, _ goopenai.ChatCompletionRequest) {
		replyError(w, http.StatusBadGateway, "upstream unavailable")
	}}
	srv := httptest.NewServer(cs)
	defer srv.Close()
	g := newTestGenerator(t, srv, nil)

	_, err := g.Generate(context.Background(), snapshotWithCommits(5), model.ToneConcise)
	require.Error(t, err)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.False(t, retry.IsPermanent(err))
	assert.LessOrEqual(t, cs.calls.Load(), int32(12))
}

func TestGenerate_ClientErrorIsPermanent(t *testing.T) {
	cs := &completionServer{respond: func(_ int32, w http.ResponseWriter, _ goopenai.ChatCompletionRequest) {
		replyError(w, http.StatusBadRequest, "maximum context length exceeded")
	}}
	srv := httptest.NewServer(cs)
	defer srv.Close()
	g := newTestGenerator(t, srv, nil)

	_, err := g.Generate(context.Background(), snapshotWithCommits(5), model.ToneConcise)
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Contains(t, err.Error(), "maximum context length exceeded")
	assert.LessOrEqual(t, cs.calls.Load(), int32(4))
}

func TestGenerate_EmptyChoices(t *testing.T) {
	cs := &completionServer{respond: func(_ int32, w http.ResponseWriter, _ goopenai.ChatCompletionRequest) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}}
	srv := httptest.NewServer(cs)
	defer srv.Close()
	g := newTestGenerator(t, srv, nil)

	_, err := g.Generate(context.Background(), snapshotWithCommits(5), model.ToneConcise)
	require.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestMaxTokens(t *testing.T) {
	assert.Equal(t, 3000, maxTokens(model.OutputMaintainerBrief, model.ToneDetailed))
	assert.Equal(t, 2000, maxTokens(model.OutputReleaseSummary, model.ToneConcise))
	assert.Equal(t, 2500, maxTokens(model.OutputGoodFirstIssues, model.ToneDetailed))
	assert.Equal(t, 1500, maxTokens(model.OutputGoodFirstIssues, model.ToneConcise))
}
