package mail

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

// APIRelay sends through the SMTP2Go v3 HTTP API.
type APIRelay struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewAPIRelay returns an APIRelay with a bounded HTTP client.
func NewAPIRelay(url, apiKey string, timeout time.Duration) *APIRelay {
	return &APIRelay{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

type apiRequest struct {
	APIKey   string   `json:"api_key"`
	To       []string `json:"to"`
	Sender   string   `json:"sender"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
}

type apiResponse struct {
	RequestID string `json:"request_id"`
	Data      struct {
		Succeeded int      `json:"succeeded"`
		Failed    int      `json:"failed"`
		Failures  []string `json:"failures"`
		EmailID   string   `json:"email_id"`
		Error     string   `json:"error"`
		ErrorCode string   `json:"error_code"`
	} `json:"data"`
}

// Send posts msg to the API. Network errors, 429 and 5xx are transient;
// other 4xx responses and per-recipient failures are permanent.
func (r *APIRelay) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(apiRequest{
		APIKey:   r.APIKey,
		To:       []string{msg.To},
		Sender:   msg.From,
		Subject:  msg.Subject,
		TextBody: msg.Body,
	})
	if err != nil {
		return "", Permanent(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return "", Permanent(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", Transient(0, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", Transient(resp.StatusCode, errors.New(apiErrorText(out, raw)))
	case resp.StatusCode >= 400:
		return "", Permanent(resp.StatusCode, errors.New(apiErrorText(out, raw)))
	case out.Data.Failed > 0 || (out.Data.Succeeded == 0 && len(out.Data.Failures) > 0):
		return "", Permanent(resp.StatusCode, fmt.Errorf("recipient rejected: %s", strings.Join(out.Data.Failures, "; ")))
	}

	if out.Data.EmailID != "" {
		return out.Data.EmailID, nil
	}
	return out.RequestID, nil
}

func apiErrorText(out apiResponse, raw []byte) string {
	if out.Data.Error != "" {
		if out.Data.ErrorCode != "" {
			return out.Data.ErrorCode + ": " + out.Data.Error
		}
		return out.Data.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	if s == "" {
		return "empty response"
	}
	return s
}
