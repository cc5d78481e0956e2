// Package whatsapp is a client for the WhatsApp Cloud API.
//
// It sends typed outbound messages on behalf of a business phone number id
// and parses inbound webhook notifications.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultBaseURL is the Graph API root used for outbound sends.
const DefaultBaseURL = "https://graph.facebook.com/v21.0"

// DefaultTimeout bounds a single send request.
const DefaultTimeout = 30 * time.Second

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithBaseURL overrides the Graph API root, e.g. for a test server.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client sends messages through the Cloud API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("whatsapp.NewClient", "baseURL", cfg.BaseURL)
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), http: cfg.HTTPClient}
}

// SendResponse is the Cloud API reply to a successful send.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Success bool `json:"success"`
}

// MessageID returns the channel id assigned to the sent message, if any.
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts msg to /{businessID}/messages with the business bearer token.
// Any non-200 answer is returned as *models.UpstreamError.
func (c *Client) Send(ctx context.Context, businessID, token string, msg OutboundMessage) (*SendResponse, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode whatsapp message: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, businessID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &models.UpstreamError{Service: "whatsapp", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.UpstreamError{Service: "whatsapp", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		detail := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		slog.Warn("whatsapp.Client.Send: non-200 response", "businessID", businessID, "to", msg.To, "type", msg.Type, "status", resp.StatusCode)
		return nil, &models.UpstreamError{Service: "whatsapp", StatusCode: resp.StatusCode, Err: errors.New(detail)}
	}

	var out SendResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, &models.UpstreamError{Service: "whatsapp", StatusCode: resp.StatusCode, Err: fmt.Errorf("undecodable response: %w", err)}
		}
	}
	slog.Debug("whatsapp.Client.Send: sent", "businessID", businessID, "to", msg.To, "type", msg.Type, "messageID", out.MessageID())
	return &out, nil
}

// MarkRead sends a read receipt for an inbound message.
func (c *Client) MarkRead(ctx context.Context, businessID, token, messageID string) error {
	_, err := c.Send(ctx, businessID, token, NewReadReceipt(messageID))
	return err
}
