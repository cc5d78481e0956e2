package chat

import (
	"encoding/json"
	"log/slog"
	"strings"
)

type responseEnvelope struct {
	Response json.RawMessage `json:"response"`
}

// SplitResponse turns the model's reply into the parts sent as separate
// messages. A {"response": [...]} envelope yields one part per non-empty
// string; anything else is sent verbatim as a single part.
func SplitResponse(content string) []string {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}
	body := stripCodeFence(text)
	if !strings.HasPrefix(body, "{") {
		return []string{text}
	}

	var env responseEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || len(env.Response) == 0 {
		slog.Warn("SplitResponse: reply is not a response envelope, sending raw text", "content", text, "error", err)
		return []string{text}
	}

	var list []string
	if err := json.Unmarshal(env.Response, &list); err != nil {
		var single string
		if err := json.Unmarshal(env.Response, &single); err != nil {
			slog.Warn("SplitResponse: unexpected response field, sending raw text", "content", text, "error", err)
			return []string{text}
		}
		list = []string{single}
	}

	parts := make([]string, 0, len(list))
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// stripCodeFence removes a surrounding ```json fence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
