package models

import (
	"strings"
	"time"
)

// PhoneNumberLength is the length of a normalized phone number: country code plus local number.
const PhoneNumberLength = 12

// Lead delivery status values stored in LastMessage.Status.
const (
	LastMessageStatusPending = "pending"
	LastMessageStatusSent    = "sent"
)

// Lead is an end customer identified by phone number, scoped to one business.
type Lead struct {
	ID             string      `json:"id"`
	BusinessID     string      `json:"business_id"`
	PhoneNumber    string      `json:"phone_number"`
	Name           string      `json:"name,omitempty"`
	Email          string      `json:"email,omitempty"`
	CitizenID      string      `json:"citizen_id,omitempty"`
	Address        string      `json:"address,omitempty"`
	City           string      `json:"city,omitempty"`
	Sickness       string      `json:"sickness,omitempty"`
	PurchaseCount  int         `json:"purchase_count"`
	LastMessage    LastMessage `json:"last_message"`
	FollowUpTaskID string      `json:"followup_task_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// LastMessage records the most recent turn exchanged with a lead.
type LastMessage struct {
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizePhoneNumber strips formatting characters and validates the result.
// A valid number has exactly PhoneNumberLength digits.
func NormalizePhoneNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", &InvalidPhoneNumberError{PhoneNumber: raw}
		}
	}
	normalized := b.String()
	if len(normalized) != PhoneNumberLength {
		return "", &InvalidPhoneNumberError{PhoneNumber: raw}
	}
	return normalized, nil
}
