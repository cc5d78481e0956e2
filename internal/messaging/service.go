// Package messaging implements the Message Gateway: outbound sends through the
// WhatsApp Cloud API, persistence of sent turns, batch sends and the deferred
// follow-up slot of each lead.
package messaging

import (
	"context"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// Service defines the Message Gateway used by the orchestration and the HTTP layer.
type Service interface {
	// MarkMessageAsRead sends a read receipt. Failures are logged only.
	MarkMessageAsRead(ctx context.Context, businessID, token, messageID string)

	// SendSingleMessage validates, sends and persists msg. Failures are reported
	// in the result instead of being returned.
	SendSingleMessage(ctx context.Context, msg models.Message) models.SendResult

	// SendMassiveMessage sends msgs in fixed-size concurrent batches.
	SendMassiveMessage(ctx context.Context, msgs []models.Message) models.MassiveSummary

	// ProgramLaterMessage schedules the continue-conversation callback for the
	// lead msg was sent to, replacing any follow-up already pending.
	ProgramLaterMessage(ctx context.Context, msg models.Message, delay time.Duration) error

	// GetTemplateData returns the human readable content of a business template.
	GetTemplateData(ctx context.Context, businessID, templateName string) (string, error)
}

// Sender is the outbound channel port.
type Sender interface {
	Send(ctx context.Context, businessID, token string, msg whatsapp.OutboundMessage) (*whatsapp.SendResponse, error)
	MarkRead(ctx context.Context, businessID, token, messageID string) error
}

// Store is the persistence the gateway needs.
type Store interface {
	store.BusinessRepo
	store.LeadRepo
	store.MessageRepo
}

var (
	_ Service = (*Gateway)(nil)
	_ Sender  = (*whatsapp.Client)(nil)
)
