package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
)

type fakeEmail struct {
	mu         sync.Mutex
	configured bool
	err        error
	sent       map[string]notify.Completion
}

func (f *fakeEmail) Configured() bool { return f.configured }

func (f *fakeEmail) SendCompletion(_ context.Context, to string, c notify.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string]notify.Completion{}
	}
	f.sent[to] = c
	return f.err
}

type fakeSlack struct {
	mu   sync.Mutex
	err  error
	urls []string
}

func (f *fakeSlack) SendCompletion(_ context.Context, url string, _ notify.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.err
}

type reverseDecryptor struct{}

func (reverseDecryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", errors.New("empty ciphertext")
	}
	r := []rune(ciphertext)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

func reverse(s string) string {
	out, _ := reverseDecryptor{}.Decrypt(s)
	return out
}

func notifyFixture(t *testing.T) (*CompletionNotifierService, *fakeEmail, *fakeSlack, *model.RepoWithSettings) {
	t.Helper()
	email := &fakeEmail{configured: true}
	slack := &fakeSlack{}
	svc, err := NewCompletionNotifier(CompletionNotifierOptions{
		Email:   email,
		Slack:   slack,
		Secrets: reverseDecryptor{},
		BaseURL: "https://brief.example.test/",
		Now:     func() time.Time { return monday },
	})
	require.NoError(t, err)

	webhook := reverse("https://hooks.slack.test/T000/B000")
	repo := testRepo(model.RecurrenceManual, nil).RepoWithSettings
	repo.Settings.NotifyEmail = true
	repo.Settings.NotifySlack = true
	repo.Settings.SlackWebhookURLEncrypted = &webhook
	return svc, email, slack, &repo
}

func TestCompletionNotifier_FansOutToEnabledChannels(t *testing.T) {
	svc, email, slack, repo := notifyFixture(t)
	job := &model.AnalysisJob{ID: "job-1", RepoID: repo.Repo.ID}

	require.NoError(t, svc.NotifyCompletion(context.Background(), job, repo))

	require.Contains(t, email.sent, "owner@example.test")
	c := email.sent["owner@example.test"]
	assert.Equal(t, "acme/widgets", c.RepoFullName)
	assert.Equal(t, "https://brief.example.test/repos/"+repo.Repo.ID+"/outputs", c.OutputsURL)
	assert.Equal(t, []string{"https://hooks.slack.test/T000/B000"}, slack.urls)
}

func TestCompletionNotifier_RespectsSettings(t *testing.T) {
	svc, email, slack, repo := notifyFixture(t)
	repo.Settings.NotifyEmail = false
	repo.Settings.NotifySlack = false

	require.NoError(t, svc.NotifyCompletion(context.Background(), &model.AnalysisJob{ID: "job-1"}, repo))
	assert.Empty(t, email.sent)
	assert.Empty(t, slack.urls)
}

func TestCompletionNotifier_SkipsUnconfiguredEmail(t *testing.T) {
	svc, email, slack, repo := notifyFixture(t)
	email.configured = false

	require.NoError(t, svc.NotifyCompletion(context.Background(), &model.AnalysisJob{ID: "job-1"}, repo))
	assert.Empty(t, email.sent)
	assert.Len(t, slack.urls, 1)
}

func TestCompletionNotifier_JoinsChannelErrors(t *testing.T) {
	svc, email, slack, repo := notifyFixture(t)
	email.err = errors.New("550 mailbox unavailable")
	slack.err = errors.New("slack: http 404")

	err := svc.NotifyCompletion(context.Background(), &model.AnalysisJob{ID: "job-1"}, repo)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "email: 550 mailbox unavailable"))
	assert.True(t, strings.Contains(err.Error(), "slack: slack: http 404"))
	assert.Len(t, slack.urls, 1, "one channel failing does not stop the other")
}

func TestCompletionNotifier_DecryptFailure(t *testing.T) {
	svc, email, slack, repo := notifyFixture(t)
	empty := ""
	repo.Settings.SlackWebhookURLEncrypted = &empty

	err := svc.NotifyCompletion(context.Background(), &model.AnalysisJob{ID: "job-1"}, repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt webhook")
	assert.Len(t, email.sent, 1)
	assert.Empty(t, slack.urls)
}

func TestNewCompletionNotifier_SlackNeedsDecryptor(t *testing.T) {
	_, err := NewCompletionNotifier(CompletionNotifierOptions{Slack: &fakeSlack{}})
	assert.Error(t, err)
}
