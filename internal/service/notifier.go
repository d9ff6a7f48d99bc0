package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
)

// EmailSender delivers completion emails.
type EmailSender interface {
	Configured() bool
	SendCompletion(ctx context.Context, to string, completion notify.Completion) error
}

// SlackSender posts completion messages to a per-repository webhook.
type SlackSender interface {
	SendCompletion(ctx context.Context, webhookURL string, completion notify.Completion) error
}

// CompletionNotifierOptions groups dependencies for CompletionNotifierService.
type CompletionNotifierOptions struct {
	Email   EmailSender          // Optional
	Slack   SlackSender          // Optional
	Secrets core.SecretDecryptor // Required when Slack is set
	BaseURL string               // Frontend base for output links
	Logger  *slog.Logger
	Now     func() time.Time
}

// CompletionNotifierService fans a completed analysis out to the channels enabled in the
// repository's settings.
type CompletionNotifierService struct {
	email   EmailSender
	slack   SlackSender
	secrets core.SecretDecryptor
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

var _ core.CompletionNotifier = (*CompletionNotifierService)(nil)

// NewCompletionNotifier constructs a CompletionNotifierService.
func NewCompletionNotifier(opts CompletionNotifierOptions) (*CompletionNotifierService, error) {
	if opts.Slack != nil && opts.Secrets == nil {
		return nil, errors.New("secret decryptor is required for slack notifications")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CompletionNotifierService{
		email:   opts.Email,
		slack:   opts.Slack,
		secrets: opts.Secrets,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  opts.Logger.With("component", "completion_notifier"),
		now:     opts.Now,
	}, nil
}

// NotifyCompletion sends to every enabled channel concurrently and joins their errors.
func (s *CompletionNotifierService) NotifyCompletion(
	ctx context.Context,
	job *model.AnalysisJob,
	repo *model.RepoWithSettings,
) error {
	if job == nil || repo == nil {
		return nil
	}
	completion := notify.Completion{
		JobID:        job.ID,
		RepoID:       repo.Repo.ID,
		RepoFullName: repo.Repo.FullName,
		OutputsURL:   s.baseURL + "/repos/" + repo.Repo.ID + "/outputs",
		OccurredAt:   s.now().UTC(),
	}

	var sends []func(context.Context) error
	if repo.Settings.NotifyEmail && s.email != nil && s.email.Configured() && repo.OwnerEmail != "" {
		sends = append(sends, func(ctx context.Context) error {
			if err := s.email.SendCompletion(ctx, repo.OwnerEmail, completion); err != nil {
				return fmt.Errorf("email: %w", err)
			}
			return nil
		})
	}
	if repo.Settings.NotifySlack && s.slack != nil && repo.Settings.SlackWebhookURLEncrypted != nil {
		sends = append(sends, func(ctx context.Context) error {
			url, err := s.secrets.Decrypt(*repo.Settings.SlackWebhookURLEncrypted)
			if err != nil {
				return fmt.Errorf("slack: decrypt webhook: %w", err)
			}
			if err := s.slack.SendCompletion(ctx, url, completion); err != nil {
				return fmt.Errorf("slack: %w", err)
			}
			return nil
		})
	}
	if len(sends) == 0 {
		return nil
	}

	errs := make([]error, len(sends))
	var wg sync.WaitGroup
	for i, send := range sends {
		wg.Add(1)
		go func(i int, send func(context.Context) error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("notification channel panic: %v", r)
				}
			}()
			errs[i] = send(ctx)
		}(i, send)
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err == nil {
		s.logger.InfoContext(ctx, "completion notices sent",
			"job_id", job.ID,
			"repo_id", repo.Repo.ID,
			"channels", len(sends),
		)
	}
	return err
}
