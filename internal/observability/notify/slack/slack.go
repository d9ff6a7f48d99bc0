// Package slack posts job notifications to Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	// WebhookURL receives operator failure alerts. It may be empty when the client only delivers
	// completion notices to per-repository webhooks.
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	Retry      *retry.Policy
	Client     *http.Client
}

// Client delivers notifications to Slack webhooks.
type Client struct {
	webhookURL string
	channel    string
	username   string
	policy     retry.Policy
	client     *http.Client
}

// ErrWebhookRequired is returned when no webhook URL is available for a message.
var ErrWebhookRequired = errors.New("slack webhook url is required")

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	policy := retry.DefaultPolicy()
	policy.BaseDelay = 200 * time.Millisecond
	policy.MaxDelay = 2 * time.Second
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}

	return &Client{
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		channel:    strings.TrimSpace(cfg.Channel),
		username:   fallbackString(strings.TrimSpace(cfg.Username), "maintainer-brief"),
		policy:     policy,
		client:     hc,
	}
}

// SendJobFailure posts a formatted failure alert to the operator webhook.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	if c.webhookURL == "" {
		return ErrWebhookRequired
	}
	return c.send(ctx, c.webhookURL, c.formatFailure(payload))
}

// SendCompletion posts an analysis completion notice to webhookURL.
func (c *Client) SendCompletion(ctx context.Context, webhookURL string, completion notify.Completion) error {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return ErrWebhookRequired
	}
	return c.send(ctx, webhookURL, c.formatCompletion(completion))
}

func (c *Client) send(ctx context.Context, webhookURL string, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return retry.Do(ctx, c.policy, func(ctx context.Context, _ int) error {
		return c.post(ctx, webhookURL, body)
	})
}

func (c *Client) formatCompletion(completion notify.Completion) map[string]any {
	text := strings.Builder{}
	text.WriteString("✅ Analysis complete for *")
	text.WriteString(escapeSlackText(completion.RepoFullName))
	text.WriteByte('*')
	if completion.OutputsURL != "" {
		text.WriteString("\nView: ")
		text.WriteString(completion.OutputsURL)
	}
	return map[string]any{"text": text.String()}
}

func (c *Client) formatFailure(payload notify.JobFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	text := strings.Builder{}
	writeSlackHeader(&text, payload)
	appendSlackDetails(&text, payload)
	appendSlackMetadata(&text, payload.Metadata)
	writeSlackTimestamp(&text, timestamp)

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *Client) post(ctx context.Context, webhookURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &retry.StatusError{
			Service:    "slack",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain slack response body: %w", err)
	}
	return nil
}

func writeSlackHeader(text *strings.Builder, payload notify.JobFailurePayload) {
	text.WriteString("*Job failure alert*")
	if payload.JobID != "" {
		text.WriteString(" `")
		text.WriteString(payload.JobID)
		text.WriteByte('`')
	}
	if payload.JobKind != "" {
		text.WriteString(" (")
		text.WriteString(payload.JobKind)
		text.WriteByte(')')
	}
	text.WriteByte('\n')
}

func appendSlackDetails(text *strings.Builder, payload notify.JobFailurePayload) {
	attempts := ""
	if payload.Attempts > 0 {
		attempts = fmt.Sprintf("%d", payload.Attempts)
	}
	fields := []struct {
		label string
		value string
	}{
		{"Severity", fallbackString(payload.Severity, notify.SeverityCritical)},
		{"Repository", escapeSlackText(payload.RepoFullName)},
		{"Attempts", attempts},
		{"Error class", payload.ErrorClass},
		{"Error", payload.Error},
	}

	for _, field := range fields {
		appendSlackField(text, field.label, field.value)
	}
}

func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func appendSlackField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendSlackMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(metadata[k])
		text.WriteByte('\n')
	}
}

func writeSlackTimestamp(text *strings.Builder, timestamp time.Time) {
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))
}
