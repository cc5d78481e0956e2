// Package chat implements the conversation orchestration: the per-event state
// machine that takes an inbound WhatsApp message to a sent reply, and the
// deferred continue-conversation job.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/actions"
	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Defaults for the orchestration.
const (
	DefaultHistoryLimit         = 10
	DefaultContinueHistoryLimit = 5
	DefaultFollowUpDelay        = 6 * time.Hour
)

// Store is the persistence the chat service needs.
type Store interface {
	store.BusinessRepo
	store.LeadRepo
	store.ChatRepo
	store.MessageRepo
}

// ToolExecutor runs the handlers of model-issued tool calls.
type ToolExecutor interface {
	Execute(ctx context.Context, inv actions.Invocation, calls []models.ToolCall) (*actions.Outcome, error)
}

// PromptFeed resolves a business-specific prompt addendum.
type PromptFeed interface {
	Fetch(ctx context.Context, business models.Business) (string, error)
}

// DocumentSearcher returns the document snippets relevant to a query as a prompt block.
type DocumentSearcher interface {
	Context(ctx context.Context, businessID, query string) (string, error)
}

// Inbound is a message received from a lead.
type Inbound struct {
	BusinessID  string
	PhoneNumber string
	MessageID   string
	Type        string
	Text        string
	ContactName string
}

// Outcome summarizes what a turn did.
type Outcome struct {
	// Acknowledged is set when the event needed no reply, such as a reaction.
	Acknowledged bool
	Replies      []string
	ToolsRun     []string
}

// Opts holds configuration options for the Service.
type Opts struct {
	HistoryLimit         int
	ContinueHistoryLimit int
	FollowUpDelay        time.Duration
	Feed                 PromptFeed
	Documents            DocumentSearcher
}

// Option defines a configuration option for the Service.
type Option func(*Opts)

// WithHistoryLimit sets how many prior turns are replayed to the model.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) {
		o.HistoryLimit = n
	}
}

// WithContinueHistoryLimit sets how many turns the continue-conversation decision sees.
func WithContinueHistoryLimit(n int) Option {
	return func(o *Opts) {
		o.ContinueHistoryLimit = n
	}
}

// WithFollowUpDelay sets the delay of the continue-conversation callback.
// A zero delay disables follow-ups.
func WithFollowUpDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.FollowUpDelay = d
	}
}

// WithPromptFeed enables custom prompt addenda for businesses that configure one.
func WithPromptFeed(f PromptFeed) Option {
	return func(o *Opts) {
		o.Feed = f
	}
}

// WithDocuments enables document context for businesses that configure it.
func WithDocuments(d DocumentSearcher) Option {
	return func(o *Opts) {
		o.Documents = d
	}
}

// Service is the chat orchestration service.
type Service struct {
	store   Store
	gateway messaging.Service
	agent   agent.Agent
	tools   ToolExecutor
	cfg     Opts
	now     func() time.Time
}

// NewService creates a chat service.
func NewService(st Store, gateway messaging.Service, ag agent.Agent, tools ToolExecutor, opts ...Option) *Service {
	cfg := Opts{
		HistoryLimit:         DefaultHistoryLimit,
		ContinueHistoryLimit: DefaultContinueHistoryLimit,
		FollowUpDelay:        DefaultFollowUpDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.ContinueHistoryLimit <= 0 {
		cfg.ContinueHistoryLimit = DefaultContinueHistoryLimit
	}
	return &Service{store: st, gateway: gateway, agent: ag, tools: tools, cfg: cfg, now: time.Now}
}

// Run handles one inbound message. Lead and chat bookkeeping done before a
// failing step is kept.
func (s *Service) Run(ctx context.Context, in Inbound) (*Outcome, error) {
	phone, err := models.NormalizePhoneNumber(in.PhoneNumber)
	if err != nil {
		slog.Warn("Service.Run: invalid phone number", "businessID", in.BusinessID, "phone", in.PhoneNumber)
		return nil, err
	}

	business, err := s.store.GetBusiness(ctx, in.BusinessID)
	if err != nil {
		slog.Warn("Service.Run: business lookup failed", "businessID", in.BusinessID, "error", err)
		return nil, err
	}

	if err := s.ensureLead(ctx, business.ID, phone, in); err != nil {
		return nil, err
	}
	if err := s.ensureChat(ctx, business.ID, phone); err != nil {
		return nil, err
	}

	if in.Type == models.InboundTypeReaction {
		slog.Debug("Service.Run: reaction acknowledged", "businessID", business.ID, "phone", phone, "messageID", in.MessageID)
		return &Outcome{Acknowledged: true}, nil
	}

	history, err := s.history(ctx, business.ID, phone, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	s.gateway.MarkMessageAsRead(ctx, business.ID, business.OutboundToken, in.MessageID)

	req := agent.Request{
		Business: *business,
		Message:  models.Message{BusinessID: business.ID, PhoneNumber: phone, Content: in.Text, Role: models.RoleUser},
		History:  history,
	}
	req.CustomPrompt = s.customPrompt(ctx, *business)
	req.DocumentContext = s.documentContext(ctx, *business, in.Text)

	resp, err := s.agent.ChatWithAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent failed: %w", err)
	}

	out := &Outcome{}
	var parts []string
	var toolResults []actions.Result
	if resp.HasToolCalls() && s.tools != nil {
		enabled := business.Profile.Capabilities.Tools
		if enabled == nil {
			enabled = []string{}
		}
		inv := actions.Invocation{BusinessID: business.ID, PhoneNumber: phone, Enabled: enabled}
		outcome, err := s.tools.Execute(ctx, inv, resp.ToolCalls)
		if err != nil {
			return nil, err
		}
		toolResults = outcome.Results
		for _, r := range outcome.Results {
			out.ToolsRun = append(out.ToolsRun, r.Name)
		}
		if outcome.Fired() {
			parts = outcome.Replies
		}
	}
	if parts == nil {
		parts = SplitResponse(resp.Content)
	}

	s.saveInbound(ctx, business.ID, phone, in)

	if len(parts) == 0 {
		slog.Warn("Service.Run: agent produced no reply", "businessID", business.ID, "phone", phone, "tools", out.ToolsRun)
		return out, nil
	}

	var executed []models.ToolCall
	for _, tc := range resp.ToolCalls {
		if slices.ContainsFunc(toolResults, func(r actions.Result) bool { return r.CallID == tc.ID }) {
			executed = append(executed, tc)
		}
	}

	// The tool-call turn rides on the first part that is actually sent, so
	// stored tool results always follow their assistant turn.
	toolTurnSent := len(executed) == 0
	var last *models.Message
	var sendErr error
	for i, part := range parts {
		msg := models.Message{
			BusinessID: business.ID,
			To:         phone,
			Content:    part,
			Sender:     models.Sender{BusinessID: business.ID, Token: business.OutboundToken},
			Kind:       models.MessageKindText,
			Platform:   models.PlatformWhatsApp,
		}
		if !toolTurnSent {
			msg.ToolCalls = executed
		}
		if i == 0 && business.Profile.ReplyInThread {
			msg.ReplyTo = in.MessageID
		}
		result := s.gateway.SendSingleMessage(ctx, msg)
		if !result.OK() {
			slog.Error("Service.Run: reply part not sent", "businessID", business.ID, "phone", phone, "part", i, "message", result.Message)
			sendErr = errors.New(result.Message)
			continue
		}
		msg.MessageID = result.MessageID
		last = &msg
		toolTurnSent = true
		out.Replies = append(out.Replies, part)
	}

	if toolTurnSent {
		s.saveToolResults(ctx, business.ID, phone, toolResults)
	}

	if last == nil {
		return out, &models.UpstreamError{Service: "whatsapp", Err: sendErr}
	}

	s.recordLastMessage(ctx, business.ID, phone, last.Content, models.LastMessageStatusSent)

	if s.cfg.FollowUpDelay > 0 {
		if err := s.gateway.ProgramLaterMessage(ctx, *last, s.cfg.FollowUpDelay); err != nil {
			slog.Error("Service.Run: follow-up not scheduled", "businessID", business.ID, "phone", phone, "error", err)
		}
	}

	slog.Info("Service.Run: turn completed", "businessID", business.ID, "phone", phone, "replies", len(out.Replies), "tools", out.ToolsRun)
	return out, nil
}

func (s *Service) ensureLead(ctx context.Context, businessID, phone string, in Inbound) error {
	exists, err := s.store.LeadExists(ctx, businessID, phone)
	if err != nil {
		return fmt.Errorf("failed to check lead: %w", err)
	}
	if exists {
		return nil
	}
	lead := models.Lead{
		BusinessID:  businessID,
		PhoneNumber: phone,
		Name:        in.ContactName,
		LastMessage: models.LastMessage{Content: in.Text, Status: models.LastMessageStatusPending, Timestamp: s.now()},
	}
	if _, err := s.store.SaveLead(ctx, businessID, lead); err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}
	slog.Info("Service.ensureLead: lead created", "businessID", businessID, "phone", phone)
	return nil
}

func (s *Service) ensureChat(ctx context.Context, businessID, phone string) error {
	exists, err := s.store.ChatExists(ctx, businessID, phone)
	if err != nil {
		return fmt.Errorf("failed to check chat: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := s.store.CreateChat(ctx, businessID, phone, models.PlatformWhatsApp); err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	slog.Info("Service.ensureChat: chat created", "businessID", businessID, "phone", phone)
	return nil
}

// history returns up to limit prior turns, oldest first.
func (s *Service) history(ctx context.Context, businessID, phone string, limit int) ([]models.Message, error) {
	msgs, err := s.store.GetMessages(ctx, businessID, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *Service) customPrompt(ctx context.Context, b models.Business) string {
	if s.cfg.Feed == nil || !b.Profile.Capabilities.HasCustomPrompt() {
		return ""
	}
	text, err := s.cfg.Feed.Fetch(ctx, b)
	if err != nil {
		slog.Warn("Service.customPrompt: feed unavailable", "businessID", b.ID, "error", err)
		return ""
	}
	return text
}

func (s *Service) documentContext(ctx context.Context, b models.Business, query string) string {
	if s.cfg.Documents == nil || !b.Profile.Capabilities.HasDocumentContext() {
		return ""
	}
	text, err := s.cfg.Documents.Context(ctx, b.ID, query)
	if err != nil {
		slog.Warn("Service.documentContext: document search failed", "businessID", b.ID, "error", err)
		return ""
	}
	return text
}

func (s *Service) saveInbound(ctx context.Context, businessID, phone string, in Inbound) {
	msg := models.Message{
		BusinessID:  businessID,
		PhoneNumber: phone,
		To:          businessID,
		Content:     in.Text,
		Sender:      models.Sender{BusinessID: businessID},
		MessageID:   in.MessageID,
		Role:        models.RoleUser,
		Type:        in.Type,
		Status:      models.MessageStatusReceived,
		Platform:    models.PlatformWhatsApp,
		Timestamp:   s.now(),
	}
	if _, err := s.store.SaveMessage(ctx, msg); err != nil {
		slog.Error("Service.saveInbound: failed to persist inbound message", "businessID", businessID, "phone", phone, "messageID", in.MessageID, "error", err)
	}
}

func (s *Service) saveToolResults(ctx context.Context, businessID, phone string, results []actions.Result) {
	for _, r := range results {
		msg := models.Message{
			BusinessID:  businessID,
			PhoneNumber: phone,
			To:          businessID,
			Content:     r.Output,
			Sender:      models.Sender{BusinessID: businessID},
			Role:        models.RoleTool,
			Type:        "tool",
			ToolCallID:  r.CallID,
			Metadata:    map[string]string{"tool_name": r.Name},
			Platform:    models.PlatformWhatsApp,
			Timestamp:   s.now(),
		}
		if _, err := s.store.SaveMessage(ctx, msg); err != nil {
			slog.Error("Service.saveToolResults: failed to persist tool result", "businessID", businessID, "phone", phone, "tool", r.Name, "error", err)
		}
	}
}

// recordLastMessage stamps the lead's last_message. Failures are logged only.
func (s *Service) recordLastMessage(ctx context.Context, businessID, phone, content, status string) {
	lead, err := s.store.GetLead(ctx, businessID, phone)
	if err != nil {
		slog.Error("Service.recordLastMessage: lead lookup failed", "businessID", businessID, "phone", phone, "error", err)
		return
	}
	lead.LastMessage = models.LastMessage{Content: content, Status: status, Timestamp: s.now()}
	if _, err := s.store.UpdateLead(ctx, businessID, *lead); err != nil {
		slog.Error("Service.recordLastMessage: lead update failed", "businessID", businessID, "phone", phone, "error", err)
	}
}
