package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidWebhookPayload  = errors.New("invalid webhook payload")
	ErrMalformedAgentResponse = errors.New("malformed agent response")
	ErrLeadNotFound           = errors.New("lead not found")
	ErrChatNotFound           = errors.New("chat not found")
	ErrTemplateNotFound       = errors.New("template not found")
	ErrEmptyContent           = errors.New("message content cannot be empty")
)

// InvalidPhoneNumberError is returned when a phone number does not normalize to PhoneNumberLength digits.
type InvalidPhoneNumberError struct {
	PhoneNumber string
}

func (e *InvalidPhoneNumberError) Error() string {
	return fmt.Sprintf("invalid phone number %q: expected %d digits including country code", e.PhoneNumber, PhoneNumberLength)
}

// BusinessNotFoundError is returned when no business is registered for an id.
type BusinessNotFoundError struct {
	BusinessID string
}

func (e *BusinessNotFoundError) Error() string {
	return fmt.Sprintf("business %q not found", e.BusinessID)
}

// UpstreamError wraps a failure of the model API or the messaging channel.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err should be surfaced as a client error.
func IsValidationError(err error) bool {
	var phoneErr *InvalidPhoneNumberError
	return errors.As(err, &phoneErr) || errors.Is(err, ErrInvalidWebhookPayload) || errors.Is(err, ErrEmptyContent)
}

// IsNotFound reports whether err denotes a missing business, lead, chat or template.
func IsNotFound(err error) bool {
	var bizErr *BusinessNotFoundError
	return errors.As(err, &bizErr) ||
		errors.Is(err, ErrLeadNotFound) ||
		errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}

// IsUpstream reports whether err came from the model API or the channel.
func IsUpstream(err error) bool {
	var upErr *UpstreamError
	return errors.As(err, &upErr)
}
