package whatsapp

import "fmt"

const (
	messagingProduct    = "whatsapp"
	recipientIndividual = "individual"
	listButtonLabel     = "Ver Opciones"
	listSectionTitle    = "Secciones"
)

// OutboundMessage is the JSON body of a Cloud API /messages request.
// Exactly one of the kind-specific fields is set.
type OutboundMessage struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type,omitempty"`
	To               string           `json:"to,omitempty"`
	Context          *MessageContext  `json:"context,omitempty"`
	Type             string           `json:"type,omitempty"`
	Text             *TextBody        `json:"text,omitempty"`
	Template         *TemplateBody    `json:"template,omitempty"`
	Document         *DocumentBody    `json:"document,omitempty"`
	Reaction         *ReactionBody    `json:"reaction,omitempty"`
	Interactive      *InteractiveBody `json:"interactive,omitempty"`
	Status           string           `json:"status,omitempty"`
	MessageID        string           `json:"message_id,omitempty"`
}

type MessageContext struct {
	MessageID string `json:"message_id"`
}

type TextBody struct {
	Body string `json:"body"`
}

type TemplateBody struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type DocumentBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type ReactionBody struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type InteractiveBody struct {
	Type   string            `json:"type"`
	Body   InteractiveText   `json:"body"`
	Footer InteractiveText   `json:"footer"`
	Action InteractiveAction `json:"action"`
}

type InteractiveText struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Button   string        `json:"button,omitempty"`
	Buttons  []ReplyButton `json:"buttons,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`
}

type ReplyButton struct {
	Type  string     `json:"type"`
	Reply ReplyTitle `json:"reply"`
}

type ReplyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func individual(to, typ string) OutboundMessage {
	return OutboundMessage{MessagingProduct: messagingProduct, RecipientType: recipientIndividual, To: to, Type: typ}
}

// NewTextMessage builds a plain text message.
func NewTextMessage(to, body string) OutboundMessage {
	m := individual(to, "text")
	m.Text = &TextBody{Body: body}
	return m
}

// NewReplyTextMessage builds a text message threaded as a reply to replyTo.
func NewReplyTextMessage(to, replyTo, body string) OutboundMessage {
	m := NewTextMessage(to, body)
	m.Context = &MessageContext{MessageID: replyTo}
	return m
}

// NewTemplateMessage builds a pre-approved template message. Header parameters are optional.
func NewTemplateMessage(to, name, languageCode string, headerParams []string) OutboundMessage {
	if languageCode == "" {
		languageCode = "es"
	}
	tmpl := &TemplateBody{Name: name, Language: TemplateLanguage{Code: languageCode}}
	if len(headerParams) > 0 {
		params := make([]TemplateParameter, len(headerParams))
		for i, p := range headerParams {
			params[i] = TemplateParameter{Type: "text", Text: p}
		}
		tmpl.Components = []TemplateComponent{{Type: "header", Parameters: params}}
	}
	return OutboundMessage{MessagingProduct: messagingProduct, To: to, Type: "template", Template: tmpl}
}

// NewDocumentMessage builds a message carrying a hosted document.
func NewDocumentMessage(to, link, caption, filename string) OutboundMessage {
	m := individual(to, "document")
	m.Document = &DocumentBody{Link: link, Caption: caption, Filename: filename}
	return m
}

// NewReactionMessage reacts with an emoji to a previously received message.
func NewReactionMessage(to, messageID, emoji string) OutboundMessage {
	m := individual(to, "reaction")
	m.Reaction = &ReactionBody{MessageID: messageID, Emoji: emoji}
	return m
}

// NewButtonMessage builds an interactive reply-button message. Button ids are "{session}_btn_{n}".
func NewButtonMessage(to string, options []string, body, footer, sessionID string) OutboundMessage {
	buttons := make([]ReplyButton, len(options))
	for i, opt := range options {
		buttons[i] = ReplyButton{Type: "reply", Reply: ReplyTitle{ID: fmt.Sprintf("%s_btn_%d", sessionID, i+1), Title: opt}}
	}
	m := individual(to, "interactive")
	m.Interactive = &InteractiveBody{
		Type:   "button",
		Body:   InteractiveText{Text: body},
		Footer: InteractiveText{Text: footer},
		Action: InteractiveAction{Buttons: buttons},
	}
	return m
}

// NewListMessage builds an interactive list message with a single section. Row ids are "{session}_row_{n}".
func NewListMessage(to string, options []string, body, footer, sessionID string) OutboundMessage {
	rows := make([]ListRow, len(options))
	for i, opt := range options {
		rows[i] = ListRow{ID: fmt.Sprintf("%s_row_%d", sessionID, i+1), Title: opt}
	}
	m := individual(to, "interactive")
	m.Interactive = &InteractiveBody{
		Type:   "list",
		Body:   InteractiveText{Text: body},
		Footer: InteractiveText{Text: footer},
		Action: InteractiveAction{Button: listButtonLabel, Sections: []ListSection{{Title: listSectionTitle, Rows: rows}}},
	}
	return m
}

// NewReadReceipt marks an inbound message as read.
func NewReadReceipt(messageID string) OutboundMessage {
	return OutboundMessage{MessagingProduct: messagingProduct, Status: "read", MessageID: messageID}
}
