package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// UnsupportedMessageText stands in for inbound media the bot cannot read.
const UnsupportedMessageText = "[mensaje no soportado]"

// WebhookPayload is the notification envelope posted by the Cloud API.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         Metadata        `json:"metadata"`
	Contacts         []Contact       `json:"contacts"`
	Messages         []InboundRaw    `json:"messages"`
	Statuses         []StatusUpdate  `json:"statuses"`
	Errors           json.RawMessage `json:"errors,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundRaw is a single inbound message as delivered by the channel.
type InboundRaw struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string      `json:"type"`
		ListReply   *ReplyTitle `json:"list_reply,omitempty"`
		ButtonReply *ReplyTitle `json:"button_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Reaction *ReactionBody `json:"reaction,omitempty"`
}

// StatusUpdate reports delivery progress of an outbound message.
type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// EventKind classifies a webhook notification.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventMessage
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// InboundMessage is the normalized content of an inbound message event.
type InboundMessage struct {
	BusinessID  string
	From        string
	ContactName string
	MessageID   string
	Type        string
	Text        string
}

// Event is a classified webhook notification.
type Event struct {
	Kind    EventKind
	Message *InboundMessage
	Status  *StatusUpdate
	// BusinessID is the phone number id the notification was addressed to.
	BusinessID string
}

// ParseWebhook decodes and classifies a webhook body. Bodies that do not
// carry entry[0].changes[0].value return models.ErrInvalidWebhookPayload;
// well formed envelopes with neither messages nor statuses yield EventUnknown.
func ParseWebhook(body []byte) (*Event, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidWebhookPayload, err)
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil, fmt.Errorf("%w: missing entry[0].changes[0]", models.ErrInvalidWebhookPayload)
	}
	value := p.Entry[0].Changes[0].Value
	ev := &Event{BusinessID: value.Metadata.PhoneNumberID}

	switch {
	case len(value.Messages) > 0:
		raw := value.Messages[0]
		if raw.ID == "" || raw.From == "" {
			return nil, fmt.Errorf("%w: message without id or sender", models.ErrInvalidWebhookPayload)
		}
		msg := &InboundMessage{
			BusinessID: value.Metadata.PhoneNumberID,
			From:       raw.From,
			MessageID:  raw.ID,
			Type:       raw.Type,
			Text:       ExtractText(raw),
		}
		if len(value.Contacts) > 0 {
			if value.Contacts[0].WaID != "" {
				msg.From = value.Contacts[0].WaID
			}
			msg.ContactName = value.Contacts[0].Profile.Name
		}
		ev.Kind = EventMessage
		ev.Message = msg
	case len(value.Statuses) > 0:
		st := value.Statuses[0]
		ev.Kind = EventStatus
		ev.Status = &st
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// ExtractText returns the conversational text of an inbound message.
func ExtractText(raw InboundRaw) string {
	switch raw.Type {
	case "text":
		if raw.Text != nil {
			return raw.Text.Body
		}
	case "button":
		if raw.Button != nil {
			return raw.Button.Text
		}
	case "interactive":
		if raw.Interactive == nil {
			break
		}
		switch raw.Interactive.Type {
		case "list_reply":
			if raw.Interactive.ListReply != nil {
				return raw.Interactive.ListReply.Title
			}
		case "button_reply":
			if raw.Interactive.ButtonReply != nil {
				return raw.Interactive.ButtonReply.Title
			}
		}
	case "reaction":
		if raw.Reaction != nil {
			return raw.Reaction.Emoji
		}
	}
	return UnsupportedMessageText
}

// StatusFromChannel maps a channel status string onto the stored status.
func StatusFromChannel(status string) (models.MessageStatus, bool) {
	switch strings.ToLower(status) {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed":
		return models.MessageStatusFailed, true
	}
	return "", false
}
