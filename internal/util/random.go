// Package util provides utility functions for the LeadPipe application.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// NewEntityID returns a prefixed UUIDv4, used for persisted leads, chats and messages.
func NewEntityID(prefix string) string {
	return prefix + uuid.NewString()
}

// GenerateLeadID generates a unique lead ID with "lead_" prefix.
func GenerateLeadID() string {
	return NewEntityID("lead_")
}

// GenerateChatID generates a unique chat ID with "chat_" prefix.
func GenerateChatID() string {
	return NewEntityID("chat_")
}

// GenerateMessageID generates a unique stored message ID with "msg_" prefix.
func GenerateMessageID() string {
	return NewEntityID("msg_")
}

// GenerateSessionID generates a short id used to namespace interactive reply ids.
func GenerateSessionID() string {
	return GenerateRandomHex(8)
}
