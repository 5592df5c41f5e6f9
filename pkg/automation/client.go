package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/gateway/httpclient"
)

const secretHeader = "X-Webhook-Secret"

// Client talks to the external automation platform's inbound webhook. The
// platform does the actual scraping and message sending; this client only
// hands it work. A non-2xx response is total failure of the call — there is
// no internal retry or backoff, retries are always operator-initiated.
type Client struct {
	webhookURL string
	secret     string
	httpClient *http.Client
	templates  Templates
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithTemplates(t Templates) Option {
	return func(client *Client) {
		client.templates = t
	}
}

func NewClient(webhookURL, secret string, opts ...Option) *Client {
	client := &Client{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: httpclient.New(15 * time.Second),
		templates:  DefaultTemplates(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Submission is the outbound payload for both fresh batches and retries.
type Submission struct {
	BatchID uuid.UUID `json:"batch_id"`
	UserID  uuid.UUID `json:"user_id"`
	URLs    []string  `json:"urls"`
	Subject string    `json:"subject,omitempty"`
	Message string    `json:"message,omitempty"`
	Retry   bool      `json:"retry,omitempty"`
}

// RequestRetry forwards a retry instruction for one or more URLs.
func (c *Client) RequestRetry(ctx context.Context, sub Submission) error {
	sub.Retry = true
	return c.post(ctx, sub)
}

// SubmitBatch forwards a freshly created batch's URL list.
func (c *Client) SubmitBatch(ctx context.Context, sub Submission) error {
	return c.post(ctx, sub)
}

func (c *Client) post(ctx context.Context, sub Submission) error {
	if c.webhookURL == "" {
		return apperr.Upstream("automation webhook URL not configured", nil)
	}
	if sub.Subject == "" {
		sub.Subject = c.templates.Subject
	}
	if sub.Message == "" {
		sub.Message = c.templates.Message
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return apperr.Internal("failed to marshal automation payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return apperr.Internal("failed to build automation request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Upstream("automation webhook unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Log.WithFields(map[string]interface{}{
			"status":   resp.StatusCode,
			"batch_id": sub.BatchID,
			"urls":     len(sub.URLs),
		}).Warn("automation webhook rejected submission")
		return apperr.Upstream(
			fmt.Sprintf("automation webhook returned %d: %s", resp.StatusCode, string(snippet)), nil)
	}
	return nil
}
