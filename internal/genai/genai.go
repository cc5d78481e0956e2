// Package genai provides chat completion, tool calling and embedding operations using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Default settings for GenAI requests.
const (
	DefaultModel          = string(openai.ChatModelGPT4oMini)
	DefaultEmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	DefaultTemperature    = 0.5
	DefaultMaxTokens      = 1024
)

// ErrNoChoicesReturned is returned when the model answers without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ClientInterface is the GenAI surface used by the agent and retrieval packages.
type ClientInterface interface {
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
	GenerateJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// embeddingService defines minimal interface for embeddings.
type embeddingService interface {
	Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error)
}

type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type embeddingsAdapter struct {
	svc *openai.EmbeddingService
}

func (a embeddingsAdapter) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.CreateEmbeddingResponse{}, err
	}
	return *resp, nil
}

// FunctionCall is the function part of a model-issued tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall is a single model-issued tool call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolCallResponse is the result of a completion that may carry tool calls.
type ToolCallResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
	// ResponseID is the completion id assigned by the API.
	ResponseID string `json:"response_id"`
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	DebugMode      bool
	StateDir       string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *Opts) {
		o.EmbeddingModel = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithDebugMode writes every request and response under StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
	}
}

// WithStateDir sets the directory used for debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// Client wraps the OpenAI chat completion and embedding services.
type Client struct {
	chat           chatService
	embeddings     embeddingService
	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int
	debugMode      bool
	stateDir       string
}

// NewClient creates a GenAI client. The API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:          DefaultModel,
		EmbeddingModel: DefaultEmbeddingModel,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient", "model", cfg.Model, "embeddingModel", cfg.EmbeddingModel, "debugMode", cfg.DebugMode)

	return &Client{
		chat:           completionsAdapter{svc: &cli.Chat.Completions},
		embeddings:     embeddingsAdapter{svc: &cli.Embeddings},
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		debugMode:      cfg.DebugMode,
		stateDir:       cfg.StateDir,
	}, nil
}

func (c *Client) params(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	return p
}

func (c *Client) complete(ctx context.Context, method string, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.chat.Create(ctx, params)
	c.logDebug(method, params, resp, err)
	if err != nil {
		slog.Error("genai.Client."+method+": completion failed", "model", c.model, "error", err)
		return resp, &models.UpstreamError{Service: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return resp, ErrNoChoicesReturned
	}
	return resp, nil
}

// GenerateWithTools completes messages with the given tools available.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	params := c.params(messages)
	if len(tools) > 0 {
		params.Tools = tools
	}
	resp, err := c.complete(ctx, "GenerateWithTools", params)
	if err != nil {
		return nil, err
	}
	msg := resp.Choices[0].Message
	out := &ToolCallResponse{Content: msg.Content, ResponseID: resp.ID}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("genai.Client.GenerateWithTools: completed", "contentLength", len(out.Content), "toolCallCount", len(out.ToolCalls))
	return out, nil
}

// GenerateJSON completes messages in JSON object mode and returns the raw JSON text.
func (c *Client) GenerateJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := c.params(messages)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	resp, err := c.complete(ctx, "GenerateJSON", params)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.embeddings.Create(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		slog.Error("genai.Client.Embed: embedding failed", "model", c.embeddingModel, "count", len(texts), "error", err)
		return nil, &models.UpstreamError{Service: "openai", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// logDebug writes the request and response to a timestamped file when debug mode is on.
func (c *Client) logDebug(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Warn("genai.Client.logDebug: failed to create debug dir", "dir", debugDir, "error", err)
		return
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.Client.logDebug: failed to encode entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(debugDir, name), raw, 0644); err != nil {
		slog.Warn("genai.Client.logDebug: failed to write entry", "error", err)
	}
}

var _ ClientInterface = (*Client)(nil)
