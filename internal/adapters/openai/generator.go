// Package openai generates the analysis documents with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

const systemPrompt = "You are a technical documentation expert who analyzes GitHub repositories and " +
	"creates clear, actionable summaries for maintainers and contributors."

// ErrEmptyCompletion is returned when the API answers without any choices.
var ErrEmptyCompletion = errors.New("openai: completion returned no choices")

// GeneratorOptions configures Generator.
type GeneratorOptions struct {
	Config     config.OpenAIConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    statsd.Sink
	// Sleep overrides the wait between retries; tests use it to skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Generator produces the four analysis documents for a snapshot.
type Generator struct {
	client      *goopenai.Client
	model       string
	temperature float32
	limiter     *rate.Limiter
	policy      retry.Policy
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewGenerator constructs a Generator. An API key is required.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	cfg := opts.Config
	cfg.Sanitize()
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	if opts.HTTPClient != nil {
		clientCfg.HTTPClient = opts.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		// One token per request; the burst lets a whole document set start together.
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), len(model.OutputKinds())),
		policy: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   2 * time.Second,
			Multiplier:  1,
			MaxDelay:    2 * time.Second,
			Sleep:       opts.Sleep,
		},
		logger:  logger.With("component", "openai_generator"),
		metrics: opts.Metrics,
	}
	g.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.logger.Warn("retrying completion", "attempt", attempt, "delay", delay, "error", err)
	}
	return g, nil
}

// Generate produces every output kind in parallel. Snapshots with fewer than
// model.MinCommitsForAnalysis commits are rejected with model.ErrInsufficientData.
func (g *Generator) Generate(ctx context.Context, snapshot *model.Snapshot, tone model.OutputTone) ([]model.GeneratedOutput, error) {
	if snapshot == nil || len(snapshot.Commits) < model.MinCommitsForAnalysis {
		return nil, model.ErrInsufficientData
	}
	if !tone.Valid() {
		tone = model.ToneConcise
	}

	kinds := model.OutputKinds()
	outputs := make([]model.GeneratedOutput, len(kinds))
	sources := model.SourcesFor(snapshot)

	grp, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		grp.Go(func() error {
			content, err := g.complete(gctx, kind, buildPrompt(kind, snapshot, tone), maxTokens(kind, tone))
			if err != nil {
				return fmt.Errorf("generate %s: %w", kind, err)
			}
			outputs[i] = model.GeneratedOutput{
				Kind:       kind,
				Content:    content,
				Confidence: model.ConfidenceFor(snapshot, kind),
				Sources:    sources,
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "generated outputs",
		"repo", snapshot.Repo.FullName,
		"tone", tone,
		"commits", len(snapshot.Commits),
	)
	return outputs, nil
}

func (g *Generator) complete(ctx context.Context, kind model.OutputKind, prompt string, tokens int) (string, error) {
	start := time.Now()
	var content string
	err := retry.Do(ctx, g.policy, func(ctx context.Context, _ int) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
			Model:       g.model,
			Temperature: g.temperature,
			MaxTokens:   tokens,
			Messages: []goopenai.ChatCompletionMessage{
				{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: goopenai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return retry.Permanent(ErrEmptyCompletion)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	g.emit(kind, time.Since(start), err)
	return content, err
}

// classify maps API errors onto retry.StatusError. Only rate limiting and server errors are
// retried; transport errors are left to retry.DefaultShouldRetry.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		status := &retry.StatusError{Service: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		if retryableStatus(apiErr.HTTPStatusCode) {
			return status
		}
		return retry.Permanent(status)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		status := &retry.StatusError{Service: "openai", StatusCode: reqErr.HTTPStatusCode, Message: msg}
		if retryableStatus(reqErr.HTTPStatusCode) {
			return status
		}
		return retry.Permanent(status)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// maxTokens bounds the completion length per document and tone.
func maxTokens(kind model.OutputKind, tone model.OutputTone) int {
	if kind == model.OutputGoodFirstIssues {
		if tone == model.ToneDetailed {
			return 2500
		}
		return 1500
	}
	if tone == model.ToneDetailed {
		return 3000
	}
	return 2000
}

func (g *Generator) emit(kind model.OutputKind, d time.Duration, err error) {
	if g.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	tags := map[string]string{"output": string(kind), "result": result}
	g.metrics.Count("openai.completion", 1, tags)
	g.metrics.Timing("openai.completion_duration", d, tags)
}
