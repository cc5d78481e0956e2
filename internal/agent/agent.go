// Package agent turns a business persona, a bounded conversation window and
// the enabled tools into a model turn.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Agent is the model-facing port used by the chat service.
type Agent interface {
	ChatWithAgent(ctx context.Context, req Request) (*models.AgentResponse, error)
	ContinueConversation(ctx context.Context, business models.Business, history []models.Message) (bool, string, error)
}

// ToolProvider supplies the tool schemas offered to the model.
type ToolProvider interface {
	ToolDefinitions(enabled []string) []openai.ChatCompletionToolParam
}

// Request is one inbound turn to answer.
type Request struct {
	Business models.Business
	// Message is the inbound user turn.
	Message models.Message
	// History is the prior conversation window, oldest first.
	History         []models.Message
	CustomPrompt    string
	DocumentContext string
}

// Client implements Agent on top of a GenAI client.
type Client struct {
	genai genai.ClientInterface
	tools ToolProvider
}

// NewClient creates an agent. tools may be nil when no handler is registered.
func NewClient(gc genai.ClientInterface, tools ToolProvider) *Client {
	return &Client{genai: gc, tools: tools}
}

// ChatWithAgent asks the model for the reply to req.Message. Upstream
// failures are returned unchanged so the turn is aborted.
func (c *Client) ChatWithAgent(ctx context.Context, req Request) (*models.AgentResponse, error) {
	messages := c.buildMessages(req)
	tools := c.toolsFor(req.Business)

	slog.Debug("Agent.ChatWithAgent: calling model", "businessID", req.Business.ID, "phone", req.Message.PhoneNumber,
		"historyCount", len(req.History), "toolCount", len(tools), "messageCount", len(messages))

	resp, err := c.genai.GenerateWithTools(ctx, messages, tools)
	if err != nil {
		slog.Error("Agent.ChatWithAgent: model call failed", "businessID", req.Business.ID, "error", err)
		return nil, err
	}

	out := &models.AgentResponse{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		MessageID: resp.ResponseID,
	}
	for _, tc := range resp.ToolCalls {
		args, err := models.ParseToolArguments(string(tc.Function.Arguments))
		if err != nil {
			slog.Error("Agent.ChatWithAgent: bad tool arguments", "tool", tc.Function.Name, "arguments", string(tc.Function.Arguments), "error", err)
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: tc.ID, Type: "function", Name: tc.Function.Name, Arguments: args})
	}
	slog.Info("Agent.ChatWithAgent: model replied", "businessID", req.Business.ID, "contentLength", len(out.Content), "toolCallCount", len(out.ToolCalls))
	return out, nil
}

type continueDecision struct {
	ShouldReply bool   `json:"should_reply"`
	Message     string `json:"message"`
}

// ContinueConversation asks the model whether to re-engage a silent lead,
// judging from history alone. An unparseable decision is an error.
func (c *Client) ContinueConversation(ctx context.Context, business models.Business, history []models.Message) (bool, string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt(business))}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, openai.SystemMessage(ContinuePrompt(business)))

	raw, err := c.genai.GenerateJSON(ctx, messages)
	if err != nil {
		slog.Error("Agent.ContinueConversation: model call failed", "businessID", business.ID, "error", err)
		return false, "", err
	}

	var d continueDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		slog.Error("Agent.ContinueConversation: malformed decision", "businessID", business.ID, "raw", raw, "error", err)
		return false, "", fmt.Errorf("%w: %v", models.ErrMalformedAgentResponse, err)
	}
	d.Message = strings.TrimSpace(d.Message)
	if d.ShouldReply && d.Message == "" {
		slog.Warn("Agent.ContinueConversation: reply requested without message", "businessID", business.ID)
		return false, "", nil
	}
	return d.ShouldReply, d.Message, nil
}

// toolsFor returns the schemas of the business's enabled tools. A business
// without configured tools gets none.
func (c *Client) toolsFor(b models.Business) []openai.ChatCompletionToolParam {
	if c.tools == nil || len(b.Profile.Capabilities.Tools) == 0 {
		return nil
	}
	return c.tools.ToolDefinitions(b.Profile.Capabilities.Tools)
}

func (c *Client) buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt(req.Business))}
	if s := strings.TrimSpace(req.CustomPrompt); s != "" {
		messages = append(messages, openai.SystemMessage(s))
	}
	if s := strings.TrimSpace(req.DocumentContext); s != "" {
		messages = append(messages, openai.SystemMessage("Información de referencia de los documentos del negocio:\n"+s))
	}
	messages = append(messages, historyMessages(req.History)...)
	messages = append(messages, openai.UserMessage(req.Message.Content))
	return messages
}

// historyMessages replays stored turns, oldest first. Tool results are placed
// right after the assistant turn that requested them; a tool-call turn whose
// results fell outside the window is replayed as plain text, and orphaned
// results are dropped.
func historyMessages(history []models.Message) []openai.ChatCompletionMessageParamUnion {
	results := make(map[string]models.Message)
	for _, m := range history {
		if m.Role == models.RoleTool && m.ToolCallID != "" {
			results[m.ToolCallID] = m
		}
	}

	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			if len(m.ToolCalls) == 0 || !allAnswered(m.ToolCalls, results) {
				if m.Content != "" {
					out = append(out, openai.AssistantMessage(m.Content))
				}
				continue
			}
			out = append(out, assistantWithToolCalls(m))
			for _, tc := range m.ToolCalls {
				out = append(out, openai.ToolMessage(results[tc.ID].Content, tc.ID))
				delete(results, tc.ID)
			}
		}
	}
	return out
}

func allAnswered(calls []models.ToolCall, results map[string]models.Message) bool {
	for _, tc := range calls {
		if _, ok := results[tc.ID]; !ok {
			return false
		}
	}
	return true
}

func assistantWithToolCalls(m models.Message) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range m.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.RawArguments(),
			},
		})
	}
	msg := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(m.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

var _ Agent = (*Client)(nil)
