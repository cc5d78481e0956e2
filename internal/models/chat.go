package models

import "time"

// Platform identifies the messaging channel a chat runs on.
const PlatformWhatsApp = "whatsapp"

// ChatStatus is the lifecycle state of a conversation.
type ChatStatus string

const (
	ChatStatusOngoing ChatStatus = "ongoing"
	ChatStatusClosed  ChatStatus = "closed"
)

// DefaultIntention is stored until intent classification is available.
const DefaultIntention = "unknown"

// Chat is one open thread between a business and a lead.
type Chat struct {
	ID          string     `json:"id"`
	BusinessID  string     `json:"business_id"`
	LeadID      string     `json:"lead_id"`
	PhoneNumber string     `json:"phone_number"`
	Platform    string     `json:"platform"`
	Status      ChatStatus `json:"status"`
	Intention   string     `json:"intention"`
	StartedAt   time.Time  `json:"started_at"`
}
