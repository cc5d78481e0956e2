// Package actions is the registry of side-effecting tool handlers the agent may call.
//
// When a handler fires, its fixed confirmation text replaces the model's own
// reply for the turn, so the model never words the confirmation of an action.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Param describes one argument of a tool.
type Param struct {
	Type        string
	Description string
}

// Invocation identifies the conversation a tool call belongs to.
type Invocation struct {
	BusinessID  string
	PhoneNumber string
	// Enabled restricts execution to these tool names; nil allows every registered tool.
	Enabled []string
}

// Handler is a registered tool.
type Handler struct {
	Name        string
	Description string
	Params      map[string]Param
	Required    []string
	// Reply is the canned customer-facing confirmation sent when the handler fires.
	Reply string
	// Run performs the side effect and returns a short result for the model history.
	Run func(ctx context.Context, inv Invocation, args map[string]any) (string, error)
}

// ToolDefinition returns the OpenAI tool schema of the handler.
func (h Handler) ToolDefinition() openai.ChatCompletionToolParam {
	properties := make(map[string]any, len(h.Params))
	for name, p := range h.Params {
		properties[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	required := h.Required
	if required == nil {
		required = []string{}
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        h.Name,
			Description: openai.String(h.Description),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

// ReplyPolicy decides how canned replies combine when several handlers fire in one turn.
type ReplyPolicy string

const (
	// ReplyEachSegment sends each distinct canned reply as its own message, in call order.
	ReplyEachSegment ReplyPolicy = "each-segment"
	// ReplyCollapseLast keeps only the reply of the last handler that fired.
	ReplyCollapseLast ReplyPolicy = "collapse-last"
)

// ParseReplyPolicy maps a configuration string onto a policy.
func ParseReplyPolicy(s string) (ReplyPolicy, error) {
	switch ReplyPolicy(s) {
	case "", ReplyEachSegment:
		return ReplyEachSegment, nil
	case ReplyCollapseLast:
		return ReplyCollapseLast, nil
	}
	return "", fmt.Errorf("unknown reply policy %q", s)
}

// Result is the outcome of one executed tool call.
type Result struct {
	CallID string
	Name   string
	Output string
}

// Outcome is the aggregate of every handler fired in a turn.
type Outcome struct {
	// Replies replaces the model's reply content when non-empty.
	Replies []string
	Results []Result
}

// Fired reports whether any handler ran.
func (o *Outcome) Fired() bool {
	return o != nil && len(o.Results) > 0
}

// Opts holds configuration options for the Registry.
type Opts struct {
	Policy ReplyPolicy
}

// Option defines a configuration option for the Registry.
type Option func(*Opts)

// WithReplyPolicy sets how multiple canned replies combine.
func WithReplyPolicy(p ReplyPolicy) Option {
	return func(o *Opts) {
		o.Policy = p
	}
}

// Registry maps tool names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	policy   ReplyPolicy
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := Opts{Policy: ReplyEachSegment}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{handlers: make(map[string]Handler), policy: cfg.Policy}
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name]; !exists {
		r.order = append(r.order, h.Name)
	}
	r.handlers[h.Name] = h
	slog.Debug("Registry.Register", "tool", h.Name)
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Policy returns the configured reply policy.
func (r *Registry) Policy() ReplyPolicy {
	return r.policy
}

// ToolDefinitions returns the schemas of the enabled tools in registration
// order. A nil enabled list selects every registered tool.
func (r *Registry) ToolDefinitions(enabled []string) []openai.ChatCompletionToolParam {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []openai.ChatCompletionToolParam
	for _, name := range r.order {
		if enabled != nil && !slices.Contains(enabled, name) {
			continue
		}
		defs = append(defs, r.handlers[name].ToolDefinition())
	}
	return defs
}

// Execute runs the handler of every tool call in order. Calls naming an
// unknown or disabled tool are skipped. A handler error aborts the turn.
func (r *Registry) Execute(ctx context.Context, inv Invocation, calls []models.ToolCall) (*Outcome, error) {
	out := &Outcome{}
	for _, call := range calls {
		if inv.Enabled != nil && !slices.Contains(inv.Enabled, call.Name) {
			slog.Warn("Registry.Execute: tool not enabled for business", "tool", call.Name, "businessID", inv.BusinessID)
			continue
		}
		h, ok := r.Get(call.Name)
		if !ok {
			slog.Warn("Registry.Execute: unknown tool", "tool", call.Name, "businessID", inv.BusinessID)
			continue
		}

		slog.Info("Registry.Execute: running tool", "tool", call.Name, "callID", call.ID, "businessID", inv.BusinessID, "phone", inv.PhoneNumber)
		output, err := h.Run(ctx, inv, call.Arguments)
		if err != nil {
			slog.Error("Registry.Execute: tool failed", "tool", call.Name, "callID", call.ID, "error", err)
			return nil, fmt.Errorf("tool %s failed: %w", call.Name, err)
		}
		out.Results = append(out.Results, Result{CallID: call.ID, Name: call.Name, Output: output})

		if h.Reply == "" {
			continue
		}
		switch r.policy {
		case ReplyCollapseLast:
			out.Replies = []string{h.Reply}
		default:
			if !slices.Contains(out.Replies, h.Reply) {
				out.Replies = append(out.Replies, h.Reply)
			}
		}
	}
	return out, nil
}
