package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who authored a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageKind selects the outbound body shape sent to the channel.
type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindTemplate MessageKind = "template"
	MessageKindDocument MessageKind = "document"
	MessageKindButtons  MessageKind = "buttons"
	MessageKindList     MessageKind = "list"
	MessageKindReaction MessageKind = "reaction"
)

// Inbound message types that get special treatment.
const (
	InboundTypeText     = "text"
	InboundTypeReaction = "reaction"
)

// MessageStatus represents the delivery status of a stored message.
type MessageStatus string

const (
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Sender identifies the business a message is sent on behalf of.
type Sender struct {
	BusinessID string `json:"business_id"`
	Token      string `json:"-"`
}

// Message is a single turn between a business and a lead.
// PhoneNumber is always the lead's number, regardless of direction.
type Message struct {
	ID          string            `json:"id"`
	BusinessID  string            `json:"business_id"`
	PhoneNumber string            `json:"phone_number"`
	To          string            `json:"to"`
	Content     string            `json:"content"`
	Sender      Sender            `json:"sender"`
	MessageID   string            `json:"message_id,omitempty"`
	Role        Role              `json:"role"`
	Type        string            `json:"type,omitempty"`
	ToolCalls   []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID  string            `json:"tool_call_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      MessageStatus     `json:"status,omitempty"`
	Platform    string            `json:"platform"`
	Timestamp   time.Time         `json:"timestamp"`

	// Outbound shaping; not persisted.
	Kind     MessageKind  `json:"kind,omitempty"`
	ReplyTo  string       `json:"reply_to,omitempty"`
	Template *TemplateRef `json:"template,omitempty"`
	Document *DocumentRef `json:"document,omitempty"`
	Options  []string     `json:"options,omitempty"`
	Footer   string       `json:"footer,omitempty"`
}

// TemplateRef names a pre-approved channel template.
type TemplateRef struct {
	Name         string   `json:"name"`
	Language     string   `json:"language"`
	HeaderParams []string `json:"header_params,omitempty"`
}

// DocumentRef points at a hosted document to send.
type DocumentRef struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
}

// ToolCall is a model-issued request to invoke a registered function.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments map[string]any
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCallWire struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

// MarshalJSON encodes the call in the OpenAI wire shape with arguments as a JSON string.
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool call arguments: %w", err)
	}
	typ := tc.Type
	if typ == "" {
		typ = "function"
	}
	return json.Marshal(toolCallWire{ID: tc.ID, Type: typ, Function: toolCallFunction{Name: tc.Name, Arguments: string(raw)}})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var w toolCallWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	args, err := ParseToolArguments(w.Function.Arguments)
	if err != nil {
		return err
	}
	*tc = ToolCall{ID: w.ID, Type: w.Type, Name: w.Function.Name, Arguments: args}
	return nil
}

// RawArguments returns the arguments as the JSON string the model emitted.
func (tc ToolCall) RawArguments() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ParseToolArguments decodes a JSON-encoded arguments blob.
func ParseToolArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: tool arguments: %v", ErrMalformedAgentResponse, err)
	}
	return args, nil
}

// AgentResponse is the structured result of one model turn.
type AgentResponse struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	MessageID string     `json:"message_id,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the model asked for any tool invocation.
func (r AgentResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
