// Package notify delivers operator alert summaries to a notification
// channel. The production channel is a Microsoft Teams incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned by channels that are not configured. Callers
// record the alert delivery as skipped rather than failed.
var ErrDisabled = errors.New("notification channel not configured")

// Summary is what an operator sees for one raised alert.
type Summary struct {
	CallID      string
	CallerPhone string
	AlertType   string
	Reason      string
	Excerpt     string
	Details     string
	RaisedAt    time.Time
}

// Text renders s as a short plain-text message.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", s.Reason)
	fmt.Fprintf(&b, "Call: %s\n", s.CallID)
	if s.CallerPhone != "" {
		fmt.Fprintf(&b, "Caller: %s\n", s.CallerPhone)
	}
	if !s.RaisedAt.IsZero() {
		fmt.Fprintf(&b, "Raised: %s\n", s.RaisedAt.UTC().Format(time.RFC3339))
	}
	if s.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", s.Details)
	}
	if s.Excerpt != "" {
		fmt.Fprintf(&b, "Transcript: %s\n", s.Excerpt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Channel sends alert summaries.
type Channel interface {
	Notify(ctx context.Context, s Summary) error
}

// Nop is a disabled channel.
type Nop struct{}

// Notify always returns ErrDisabled.
func (Nop) Notify(context.Context, Summary) error { return ErrDisabled }

// Teams posts summaries to an incoming webhook as {"text": ...}.
type Teams struct {
	URL    string
	Client *http.Client
}

// NewTeams returns a Teams channel with a bounded HTTP client.
func NewTeams(url string, timeout time.Duration) *Teams {
	return &Teams{URL: url, Client: &http.Client{Timeout: timeout}}
}

// New returns a Teams channel for url, or Nop when url is empty.
func New(url string, timeout time.Duration) Channel {
	if strings.TrimSpace(url) == "" {
		return Nop{}
	}
	return NewTeams(url, timeout)
}

// Notify posts s. Any non-2xx response is an error.
func (t *Teams) Notify(ctx context.Context, s Summary) error {
	body, err := json.Marshal(map[string]string{"text": s.Text()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("teams webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
