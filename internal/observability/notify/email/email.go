// Package email delivers completion notices over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

// ErrNotConfigured is returned when no SMTP host or sender address is configured.
var ErrNotConfigured = errors.New("smtp is not configured")

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From  string
	Retry *retry.Policy
	// Send overrides smtp.SendMail.
	Send SendFunc
	Now  func() time.Time
}

// Client sends mail through an SMTP relay.
type Client struct {
	host   string
	port   int
	auth   smtp.Auth
	from   string
	policy retry.Policy
	send   SendFunc
	now    func() time.Time
}

// NewClient builds a Client. An empty host yields a client whose Configured method reports false.
func NewClient(cfg Config) *Client {
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	c := &Client{
		host:   strings.TrimSpace(cfg.Host),
		port:   port,
		from:   from,
		policy: retry.DefaultPolicy(),
		send:   cfg.Send,
		now:    cfg.Now,
	}
	if cfg.Retry != nil {
		c.policy = *cfg.Retry
	}
	if c.send == nil {
		c.send = smtp.SendMail
	}
	if c.now == nil {
		c.now = time.Now
	}
	if cfg.Username != "" {
		c.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, c.host)
	}
	return c
}

// Configured reports whether the client can send.
func (c *Client) Configured() bool {
	return c != nil && c.host != "" && c.from != ""
}

// SendCompletion mails the analysis completion notice to a single recipient.
func (c *Client) SendCompletion(ctx context.Context, to string, completion notify.Completion) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("recipient address is required")
	}

	msg, err := c.buildMessage(to, completion)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	return retry.Do(ctx, c.policy, func(ctx context.Context, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.send(addr, c.auth, c.from, []string{to}, msg); err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	})
}

var completionBody = template.Must(template.New("completion").Parse(
	`<h2>Analysis complete</h2>
<p>Your analysis for <strong>{{.RepoFullName}}</strong> is ready.</p>
{{if .OutputsURL}}<p><a href="{{.OutputsURL}}">View outputs</a></p>{{end}}
`))

func (c *Client) buildMessage(to string, completion notify.Completion) ([]byte, error) {
	var body bytes.Buffer
	if err := completionBody.Execute(&body, completion); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	var msg bytes.Buffer
	headers := []struct{ k, v string }{
		{"From", c.from},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", "Analysis complete for "+completion.RepoFullName)},
		{"Date", c.now().UTC().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		msg.WriteString(h.k)
		msg.WriteString(": ")
		msg.WriteString(h.v)
		msg.WriteString("\r\n")
	}
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
