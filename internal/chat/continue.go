package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ContinueConversation runs the deferred re-engagement check for a lead: the
// agent sees the latest turns and decides whether to write again. No new
// follow-up is scheduled from here.
func (s *Service) ContinueConversation(ctx context.Context, businessID, leadID string) (*Outcome, error) {
	phone, err := models.NormalizePhoneNumber(leadID)
	if err != nil {
		return nil, err
	}
	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}

	history, err := s.history(ctx, business.ID, phone, s.cfg.ContinueHistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		slog.Debug("Service.ContinueConversation: no history, skipping", "businessID", business.ID, "phone", phone)
		return &Outcome{Acknowledged: true}, nil
	}

	shouldReply, text, err := s.agent.ContinueConversation(ctx, *business, history)
	if err != nil {
		return nil, err
	}
	if !shouldReply {
		slog.Info("Service.ContinueConversation: agent chose not to re-engage", "businessID", business.ID, "phone", phone)
		return &Outcome{Acknowledged: true}, nil
	}

	result := s.gateway.SendSingleMessage(ctx, models.Message{
		BusinessID: business.ID,
		To:         phone,
		Content:    text,
		Sender:     models.Sender{BusinessID: business.ID, Token: business.OutboundToken},
		Kind:       models.MessageKindText,
		Platform:   models.PlatformWhatsApp,
	})
	if !result.OK() {
		return nil, &models.UpstreamError{Service: "whatsapp", Err: errors.New(result.Message)}
	}
	s.recordLastMessage(ctx, business.ID, phone, text, models.LastMessageStatusSent)

	slog.Info("Service.ContinueConversation: lead re-engaged", "businessID", business.ID, "phone", phone, "messageID", result.MessageID)
	return &Outcome{Replies: []string{text}}, nil
}
