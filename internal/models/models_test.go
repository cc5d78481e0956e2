package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"573001234567", "573001234567", false},
		{"+57 300 123 4567", "573001234567", false},
		{"+57 (300) 123-4567", "573001234567", false},
		{"3001234567", "", true},
		{"5730012345678", "", true},
		{"57300123456a", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := NormalizePhoneNumber(c.in)
		if c.wantErr {
			var phoneErr *InvalidPhoneNumberError
			if !errors.As(err, &phoneErr) {
				t.Errorf("NormalizePhoneNumber(%q): expected InvalidPhoneNumberError, got %v", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhoneNumber(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestToolCallWireShape(t *testing.T) {
	tc := ToolCall{ID: "call_1", Name: "store_user_data", Arguments: map[string]any{"name": "Juan"}}
	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if wire["type"] != "function" || wire["id"] != "call_1" {
		t.Errorf("unexpected envelope: %v", wire)
	}
	fn, ok := wire["function"].(map[string]any)
	if !ok {
		t.Fatalf("function field missing: %v", wire)
	}
	if fn["name"] != "store_user_data" {
		t.Errorf("expected function name store_user_data, got %v", fn["name"])
	}
	if fn["arguments"] != `{"name":"Juan"}` {
		t.Errorf("expected arguments as JSON string, got %v", fn["arguments"])
	}

	var back ToolCall
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.Arguments["name"] != "Juan" {
		t.Errorf("expected decoded argument Juan, got %v", back.Arguments["name"])
	}
}

func TestParseToolArgumentsMalformed(t *testing.T) {
	if _, err := ParseToolArguments("{not json"); !errors.Is(err, ErrMalformedAgentResponse) {
		t.Errorf("expected ErrMalformedAgentResponse, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	wrappedPhone := fmt.Errorf("outer: %w", &InvalidPhoneNumberError{PhoneNumber: "1"})
	if !IsValidationError(wrappedPhone) {
		t.Error("expected wrapped phone error to be a validation error")
	}
	if !IsNotFound(&BusinessNotFoundError{BusinessID: "x"}) {
		t.Error("expected BusinessNotFoundError to be not-found")
	}
	up := &UpstreamError{Service: "whatsapp", StatusCode: 500, Err: errors.New("boom")}
	if !IsUpstream(fmt.Errorf("send: %w", up)) {
		t.Error("expected wrapped upstream error to be detected")
	}
	if IsUpstream(ErrLeadNotFound) {
		t.Error("lead not found is not an upstream error")
	}
}

func TestCapabilities(t *testing.T) {
	c := Capabilities{Tools: []string{"store_user_data"}, CustomPromptURL: "http://events"}
	if !c.HasTool("store_user_data") || c.HasTool("notify_payment_mail") {
		t.Error("HasTool mismatch")
	}
	if !c.HasCustomPrompt() || c.HasDocumentContext() {
		t.Error("capability flags mismatch")
	}
}
