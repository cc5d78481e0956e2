// Package models defines the core data structures for LeadPipe.
//
// It includes businesses, leads, chats, messages and tool calls, which are shared across modules.
package models

import (
	"slices"
	"time"
)

// Business is a tenant of the platform, one per WhatsApp-enabled phone number.
// The ID is the channel-assigned phone number id used in outbound send URLs.
type Business struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	OutboundToken string          `json:"-" yaml:"outbound_token"`
	Profile       BusinessProfile `json:"profile" yaml:"profile"`
	CreatedAt     time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time       `json:"updated_at" yaml:"-"`
}

// BusinessProfile is the data-driven chatbot configuration of a business.
type BusinessProfile struct {
	Company              string            `json:"company" yaml:"company"`
	Location             string            `json:"location" yaml:"location"`
	Description          string            `json:"description" yaml:"description"`
	Personality          string            `json:"personality" yaml:"personality"`
	Expressions          []string          `json:"expressions,omitempty" yaml:"expressions"`
	SpecificPrompt       string            `json:"specific_prompt,omitempty" yaml:"specific_prompt"`
	ConversationExamples []string          `json:"conversation_examples,omitempty" yaml:"conversation_examples"`
	Capabilities         Capabilities      `json:"capabilities" yaml:"capabilities"`
	Templates            map[string]string `json:"templates,omitempty" yaml:"templates"`
	NotifyEmails         []string          `json:"notify_emails,omitempty" yaml:"notify_emails"`
	NotifySMSNumbers     []string          `json:"notify_sms_numbers,omitempty" yaml:"notify_sms_numbers"`
	ReplyInThread        bool              `json:"reply_in_thread,omitempty" yaml:"reply_in_thread"`
}

// Capabilities lists the optional behaviours a business has switched on.
type Capabilities struct {
	DocumentContext bool     `json:"document_context,omitempty" yaml:"document_context"`
	CustomPromptURL string   `json:"custom_prompt_url,omitempty" yaml:"custom_prompt_url"`
	Tools           []string `json:"tools,omitempty" yaml:"tools"`
}

// HasDocumentContext reports whether indexed documents feed the system prompt.
func (c Capabilities) HasDocumentContext() bool {
	return c.DocumentContext
}

// HasCustomPrompt reports whether a prompt addendum is fetched before each agent call.
func (c Capabilities) HasCustomPrompt() bool {
	return c.CustomPromptURL != ""
}

// HasTool reports whether the named tool handler is enabled.
func (c Capabilities) HasTool(name string) bool {
	return slices.Contains(c.Tools, name)
}

// TemplateContent returns the human readable content of a pre-approved template.
func (b Business) TemplateContent(templateName string) (string, bool) {
	content, ok := b.Profile.Templates[templateName]
	return content, ok
}
