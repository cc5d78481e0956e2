// Package promptfeed fetches per-business prompt addenda, such as a current
// event listing, from an internal HTTP endpoint.
package promptfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Defaults for the feed client.
const (
	DefaultRetryMax = 2
	DefaultTimeout  = 10 * time.Second
	maxBodyBytes    = 64 << 10
)

// Fetcher resolves the prompt addendum of a business.
type Fetcher interface {
	Fetch(ctx context.Context, business models.Business) (string, error)
}

// Opts holds configuration options for the Client.
type Opts struct {
	RetryMax int
	Timeout  time.Duration
	Header   string
}

// Option defines a configuration option for the Client.
type Option func(*Opts)

// WithRetryMax sets how many times a failed fetch is retried.
func WithRetryMax(n int) Option {
	return func(o *Opts) {
		o.RetryMax = n
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHeader sets the heading line written above the fetched data.
func WithHeader(h string) Option {
	return func(o *Opts) {
		o.Header = h
	}
}

// Client fetches feeds with retries.
type Client struct {
	http   *retryablehttp.Client
	header string
}

// DefaultHeader introduces the fetched block in the system prompt.
const DefaultHeader = "Información actualizada del negocio (JSON):"

// NewClient creates a feed client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{RetryMax: DefaultRetryMax, Timeout: DefaultTimeout, Header: DefaultHeader}
	for _, opt := range opts {
		opt(&cfg)
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = slog.Default()
	return &Client{http: rc, header: cfg.Header}
}

// Fetch returns the business's feed rendered as a prompt block, or "" when
// the business has no custom prompt capability.
func (c *Client) Fetch(ctx context.Context, business models.Business) (string, error) {
	url := business.Profile.Capabilities.CustomPromptURL
	if url == "" {
		return "", nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &models.UpstreamError{Service: "promptfeed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &models.UpstreamError{Service: "promptfeed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &models.UpstreamError{Service: "promptfeed", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", bytes.TrimSpace(body))}
	}

	slog.Debug("Client.Fetch: feed fetched", "businessID", business.ID, "bytes", len(body))
	return c.render(body), nil
}

// render indents valid JSON for readability and passes anything else through.
func (c *Client) render(body []byte) string {
	text := string(bytes.TrimSpace(body))
	var buf bytes.Buffer
	if json.Valid(body) {
		if err := json.Indent(&buf, bytes.TrimSpace(body), "", "  "); err == nil {
			text = buf.String()
		}
	}
	if text == "" {
		return ""
	}
	if c.header == "" {
		return text
	}
	return c.header + "\n" + text
}
