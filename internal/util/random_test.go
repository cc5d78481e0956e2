package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantLength int
	}{
		{name: "job ID format", prefix: "job_", hexLength: 32, wantLength: 36},
		{name: "custom prefix", prefix: "test_", hexLength: 16, wantLength: 21},
		{name: "zero length", prefix: "x_", hexLength: 0, wantLength: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(id, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, id)
			}
			if len(id) != tt.wantLength {
				t.Errorf("expected length %d, got %d (%q)", tt.wantLength, len(id), id)
			}
			for _, c := range strings.TrimPrefix(id, tt.prefix) {
				if !strings.ContainsRune("0123456789abcdef", c) {
					t.Errorf("unexpected non-hex character %q in %q", c, id)
				}
			}
		})
	}
}

func TestEntityIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateMessageID()
		if !strings.HasPrefix(id, "msg_") {
			t.Fatalf("expected msg_ prefix, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = true
	}
	if !strings.HasPrefix(GenerateLeadID(), "lead_") || !strings.HasPrefix(GenerateChatID(), "chat_") {
		t.Error("unexpected entity prefix")
	}
}
