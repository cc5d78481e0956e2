package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/LeadPipe/internal/followup"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

const (
	// DefaultBatchSize is the number of messages sent concurrently per batch.
	DefaultBatchSize = 20
	// DefaultBatchPause is the pause between consecutive batches.
	DefaultBatchPause = 250 * time.Millisecond
	// DefaultReplaceAttempts bounds the compare-and-swap loop of ProgramLaterMessage.
	DefaultReplaceAttempts = 5
)

// Opts holds configuration options for the Gateway.
type Opts struct {
	BatchSize       int
	BatchPause      time.Duration
	ReplaceAttempts int
}

// Option defines a configuration option for the Gateway.
type Option func(*Opts)

// WithBatchSize sets how many messages a massive send dispatches at once.
func WithBatchSize(n int) Option {
	return func(o *Opts) {
		o.BatchSize = n
	}
}

// WithBatchPause sets the pause between massive-send batches.
func WithBatchPause(d time.Duration) Option {
	return func(o *Opts) {
		o.BatchPause = d
	}
}

// WithReplaceAttempts sets how often a follow-up replacement retries on contention.
func WithReplaceAttempts(n int) Option {
	return func(o *Opts) {
		o.ReplaceAttempts = n
	}
}

// Gateway is the Message Gateway implementation.
type Gateway struct {
	sender          Sender
	store           Store
	scheduler       followup.Scheduler
	batchSize       int
	batchPause      time.Duration
	replaceAttempts int
}

// NewGateway creates a Message Gateway. scheduler may be nil, in which case
// ProgramLaterMessage is a no-op.
func NewGateway(sender Sender, st Store, scheduler followup.Scheduler, opts ...Option) *Gateway {
	cfg := Opts{
		BatchSize:       DefaultBatchSize,
		BatchPause:      DefaultBatchPause,
		ReplaceAttempts: DefaultReplaceAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ReplaceAttempts <= 0 {
		cfg.ReplaceAttempts = DefaultReplaceAttempts
	}
	return &Gateway{
		sender:          sender,
		store:           st,
		scheduler:       scheduler,
		batchSize:       cfg.BatchSize,
		batchPause:      cfg.BatchPause,
		replaceAttempts: cfg.ReplaceAttempts,
	}
}

// MarkMessageAsRead sends a read receipt for an inbound message.
func (g *Gateway) MarkMessageAsRead(ctx context.Context, businessID, token, messageID string) {
	if messageID == "" {
		return
	}
	if err := g.sender.MarkRead(ctx, businessID, token, messageID); err != nil {
		slog.Warn("Gateway.MarkMessageAsRead: read receipt failed", "businessID", businessID, "messageID", messageID, "error", err)
	}
}

// SendSingleMessage validates the recipient, sends msg, and persists it as an
// assistant turn including any tool calls it carries.
func (g *Gateway) SendSingleMessage(ctx context.Context, msg models.Message) models.SendResult {
	businessID := msg.Sender.BusinessID
	if businessID == "" {
		businessID = msg.BusinessID
	}
	to, err := models.NormalizePhoneNumber(msg.To)
	if err != nil {
		slog.Warn("Gateway.SendSingleMessage: invalid recipient", "businessID", businessID, "to", msg.To, "error", err)
		return sendError(msg.To, businessID, err)
	}
	msg.To = to
	msg.BusinessID = businessID
	msg.Sender.BusinessID = businessID

	token := msg.Sender.Token
	if token == "" {
		token, err = g.store.GetTokenByID(ctx, businessID)
		if err != nil {
			slog.Error("Gateway.SendSingleMessage: token lookup failed", "businessID", businessID, "error", err)
			return sendError(to, businessID, err)
		}
	}

	if msg.Kind == models.MessageKindTemplate && msg.Content == "" && msg.Template != nil {
		content, err := g.GetTemplateData(ctx, businessID, msg.Template.Name)
		if err != nil {
			slog.Error("Gateway.SendSingleMessage: template lookup failed", "businessID", businessID, "template", msg.Template.Name, "error", err)
			return sendError(to, businessID, err)
		}
		msg.Content = content
	}

	out, err := buildOutbound(msg)
	if err != nil {
		slog.Warn("Gateway.SendSingleMessage: cannot build message", "businessID", businessID, "to", to, "kind", msg.Kind, "error", err)
		return sendError(to, businessID, err)
	}

	resp, err := g.sender.Send(ctx, businessID, token, out)
	if err != nil {
		slog.Error("Gateway.SendSingleMessage: send failed", "businessID", businessID, "to", to, "error", err)
		return sendError(to, businessID, err)
	}
	if msg.MessageID == "" {
		msg.MessageID = resp.MessageID()
	}

	msg.PhoneNumber = to
	msg.Role = models.RoleAssistant
	msg.Status = models.MessageStatusSent
	if msg.Type == "" {
		msg.Type = string(kindOrText(msg.Kind))
	}
	if _, err := g.store.SaveMessage(ctx, msg); err != nil {
		slog.Error("Gateway.SendSingleMessage: failed to persist sent message", "businessID", businessID, "to", to, "messageID", msg.MessageID, "error", err)
	}

	slog.Info("Gateway.SendSingleMessage: message sent", "businessID", businessID, "to", to, "messageID", msg.MessageID)
	return models.SendResult{
		Status:    models.APIStatusSuccess,
		Message:   fmt.Sprintf("Message sent to %s from %s", to, businessID),
		To:        to,
		MessageID: msg.MessageID,
	}
}

func sendError(to, businessID string, err error) models.SendResult {
	return models.SendResult{
		Status:  models.APIStatusError,
		Message: fmt.Sprintf("Error sending message to %s from %s: %v", to, businessID, err),
		To:      to,
	}
}

func kindOrText(k models.MessageKind) models.MessageKind {
	if k == "" {
		return models.MessageKindText
	}
	return k
}

// buildOutbound maps a domain message onto its channel body.
func buildOutbound(msg models.Message) (whatsapp.OutboundMessage, error) {
	switch kindOrText(msg.Kind) {
	case models.MessageKindText:
		if msg.Content == "" {
			return whatsapp.OutboundMessage{}, models.ErrEmptyContent
		}
		if msg.ReplyTo != "" {
			return whatsapp.NewReplyTextMessage(msg.To, msg.ReplyTo, msg.Content), nil
		}
		return whatsapp.NewTextMessage(msg.To, msg.Content), nil
	case models.MessageKindTemplate:
		if msg.Template == nil || msg.Template.Name == "" {
			return whatsapp.OutboundMessage{}, errors.New("template message without template name")
		}
		return whatsapp.NewTemplateMessage(msg.To, msg.Template.Name, msg.Template.Language, msg.Template.HeaderParams), nil
	case models.MessageKindDocument:
		if msg.Document == nil || msg.Document.Link == "" {
			return whatsapp.OutboundMessage{}, errors.New("document message without link")
		}
		return whatsapp.NewDocumentMessage(msg.To, msg.Document.Link, msg.Content, msg.Document.Filename), nil
	case models.MessageKindButtons:
		if len(msg.Options) == 0 {
			return whatsapp.OutboundMessage{}, errors.New("button message without options")
		}
		return whatsapp.NewButtonMessage(msg.To, msg.Options, msg.Content, msg.Footer, util.GenerateSessionID()), nil
	case models.MessageKindList:
		if len(msg.Options) == 0 {
			return whatsapp.OutboundMessage{}, errors.New("list message without options")
		}
		return whatsapp.NewListMessage(msg.To, msg.Options, msg.Content, msg.Footer, util.GenerateSessionID()), nil
	case models.MessageKindReaction:
		if msg.ReplyTo == "" {
			return whatsapp.OutboundMessage{}, errors.New("reaction without target message id")
		}
		return whatsapp.NewReactionMessage(msg.To, msg.ReplyTo, msg.Content), nil
	}
	return whatsapp.OutboundMessage{}, fmt.Errorf("unsupported message kind %q", msg.Kind)
}

// SendMassiveMessage sends msgs in batches. Messages inside a batch are sent
// concurrently; the next batch starts only after the previous one has finished
// and the batch pause has elapsed. Individual failures are counted, never
// retried.
func (g *Gateway) SendMassiveMessage(ctx context.Context, msgs []models.Message) models.MassiveSummary {
	results := make([]models.SendResult, len(msgs))
	for start := 0; start < len(msgs); start += g.batchSize {
		end := min(start+g.batchSize, len(msgs))
		if start > 0 && g.batchPause > 0 {
			if err := waitBatchPause(ctx, g.batchPause); err != nil {
				slog.Warn("Gateway.SendMassiveMessage: aborted between batches", "sent", start, "total", len(msgs), "error", err)
				for i := start; i < len(msgs); i++ {
					results[i] = sendError(msgs[i].To, msgs[i].Sender.BusinessID, err)
				}
				break
			}
		}

		var eg errgroup.Group
		eg.SetLimit(g.batchSize)
		for i := start; i < end; i++ {
			eg.Go(func() error {
				results[i] = g.SendSingleMessage(ctx, msgs[i])
				return nil
			})
		}
		eg.Wait()
		slog.Debug("Gateway.SendMassiveMessage: batch sent", "from", start, "to", end)
	}

	summary := models.MassiveSummary{Status: models.APIStatusOK, Details: results}
	for _, r := range results {
		if r.OK() {
			summary.Successes++
		} else {
			summary.Errors++
		}
	}
	summary.Message = fmt.Sprintf("Mensajes enviados con éxito a %d usuarios, %d errores", summary.Successes, summary.Errors)
	slog.Info("Gateway.SendMassiveMessage: done", "total", len(msgs), "successes", summary.Successes, "errors", summary.Errors)
	return summary
}

// waitBatchPause blocks for pause counted from now, the end of the previous
// batch. The limiter is drained first so Wait returns one full interval later.
func waitBatchPause(ctx context.Context, pause time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(pause), 1)
	limiter.Allow()
	return limiter.Wait(ctx)
}

// ProgramLaterMessage schedules a continue-conversation callback for the lead
// msg was sent to and swaps it into the lead's follow-up slot with
// compare-and-swap. Any task displaced from the slot is cancelled; a cancel
// that finds the task already gone is ignored.
func (g *Gateway) ProgramLaterMessage(ctx context.Context, msg models.Message, delay time.Duration) error {
	if g.scheduler == nil {
		return nil
	}
	businessID := msg.Sender.BusinessID
	if businessID == "" {
		businessID = msg.BusinessID
	}
	phone := msg.To

	lead, err := g.store.GetLead(ctx, businessID, phone)
	if err != nil {
		return fmt.Errorf("failed to load lead for follow-up: %w", err)
	}

	taskID, err := g.scheduler.Schedule(ctx, followup.Request{BusinessID: businessID, LeadID: phone, RunAt: time.Now().Add(delay)})
	if err != nil {
		return fmt.Errorf("failed to schedule follow-up: %w", err)
	}

	expected := lead.FollowUpTaskID
	for attempt := 0; attempt < g.replaceAttempts; attempt++ {
		swapped, err := g.store.ReplaceFollowUpTask(ctx, businessID, phone, expected, taskID)
		if err != nil {
			g.cancelTask(ctx, taskID)
			return fmt.Errorf("failed to store follow-up task: %w", err)
		}
		if swapped {
			if expected != "" {
				g.cancelTask(ctx, expected)
			}
			slog.Debug("Gateway.ProgramLaterMessage: follow-up scheduled", "businessID", businessID, "phone", phone, "task", taskID, "replaced", expected)
			return nil
		}
		current, err := g.store.GetLead(ctx, businessID, phone)
		if err != nil {
			g.cancelTask(ctx, taskID)
			return fmt.Errorf("failed to reload lead for follow-up: %w", err)
		}
		expected = current.FollowUpTaskID
	}

	g.cancelTask(ctx, taskID)
	return fmt.Errorf("follow-up slot for %s kept changing after %d attempts", phone, g.replaceAttempts)
}

func (g *Gateway) cancelTask(ctx context.Context, taskID string) {
	err := g.scheduler.Cancel(ctx, taskID)
	switch {
	case err == nil:
	case errors.Is(err, followup.ErrTaskNotFound):
		slog.Debug("Gateway.cancelTask: task already gone", "task", taskID)
	default:
		slog.Warn("Gateway.cancelTask: cancel failed", "task", taskID, "error", err)
	}
}

// GetTemplateData looks up a template's content in the business profile.
func (g *Gateway) GetTemplateData(ctx context.Context, businessID, templateName string) (string, error) {
	b, err := g.store.GetBusiness(ctx, businessID)
	if err != nil {
		return "", err
	}
	content, ok := b.TemplateContent(templateName)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", models.ErrTemplateNotFound, businessID, templateName)
	}
	return content, nil
}
