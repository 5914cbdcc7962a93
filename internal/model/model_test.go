// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// ROLE TESTS
// =============================================================================

func TestParseRole(t *testing.T) {
	for _, s := range []string{"system", "user", "assistant"} {
		r, err := ParseRole(s)
		if err != nil {
			t.Errorf("ParseRole(%q) error: %v", s, err)
		}
		if r.String() != s {
			t.Errorf("ParseRole(%q) = %q", s, r)
		}
	}
	if _, err := ParseRole("tool"); err == nil {
		t.Error("ParseRole(tool) should fail")
	}
}

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestTitleFor(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{"empty", nil, DefaultTitle},
		{"system only", []Message{{Role: RoleSystem, Content: "be nice"}}, DefaultTitle},
		{"short user", []Message{{Role: RoleUser, Content: "Hello"}}, "Hello"},
		{
			"exactly thirty",
			[]Message{{Role: RoleUser, Content: strings.Repeat("a", 30)}},
			strings.Repeat("a", 30),
		},
		{
			"long user",
			[]Message{{Role: RoleUser, Content: strings.Repeat("b", 31)}},
			strings.Repeat("b", 30) + "...",
		},
		{
			"first user wins",
			[]Message{
				{Role: RoleAssistant, Content: "Hi there"},
				{Role: RoleUser, Content: "first"},
				{Role: RoleUser, Content: "second"},
			},
			"first",
		},
		{
			"umlauts counted as runes",
			[]Message{{Role: RoleUser, Content: strings.Repeat("ü", 35)}},
			strings.Repeat("ü", 30) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFor(tt.messages); got != tt.want {
				t.Errorf("TitleFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConversationMeta(t *testing.T) {
	c := &Conversation{
		ID:          "conversation_1_ab",
		LastUpdated: 42,
		Messages: []Message{
			NewMessage(RoleUser, "What is Go?"),
			NewMessage(RoleAssistant, "A language."),
		},
	}
	meta := c.Meta()
	if meta.ID != c.ID || meta.LastUpdated != 42 || meta.MessageCount != 2 || meta.Title != "What is Go?" {
		t.Errorf("Meta() = %+v", meta)
	}
}

// =============================================================================
// TRIM TESTS
// =============================================================================

func numbered(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out[i] = Message{Role: role, Content: fmt.Sprintf("m%d", i), Timestamp: int64(i)}
	}
	return out
}

func TestTrimMessages_UnderCap(t *testing.T) {
	msgs := numbered(5)
	got := TrimMessages(msgs, 20)
	if len(got) != 5 {
		t.Errorf("len = %d, want 5", len(got))
	}
}

func TestTrimMessages_NoSystem(t *testing.T) {
	got := TrimMessages(numbered(25), 20)
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0].Content != "m5" || got[19].Content != "m24" {
		t.Errorf("kept window = %s..%s, want m5..m24", got[0].Content, got[19].Content)
	}
}

func TestTrimMessages_SystemSurvivesAtFront(t *testing.T) {
	msgs := append([]Message{{Role: RoleSystem, Content: "sys"}}, numbered(30)...)
	got := TrimMessages(msgs, 20)

	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0].Role != RoleSystem || got[0].Content != "sys" {
		t.Errorf("got[0] = %+v, want system message", got[0])
	}
	if got[19].Content != "m29" {
		t.Errorf("last = %s, want m29", got[19].Content)
	}
	for i, m := range got[1:] {
		if m.Role == RoleSystem {
			t.Errorf("extra system message at %d", i+1)
		}
	}
}

func TestTrimMessages_OnlyOneSystemKept(t *testing.T) {
	msgs := []Message{{Role: RoleSystem, Content: "first"}}
	msgs = append(msgs, numbered(10)...)
	msgs = append(msgs, Message{Role: RoleSystem, Content: "second"})
	msgs = append(msgs, numbered(10)...)

	got := TrimMessages(msgs, 8)
	systems := 0
	for _, m := range got {
		if m.Role == RoleSystem {
			systems++
		}
	}
	if systems != 1 || got[0].Content != "first" {
		t.Errorf("systems = %d, got[0] = %q; want 1 and \"first\"", systems, got[0].Content)
	}
	if len(got) != 8 {
		t.Errorf("len = %d, want 8", len(got))
	}
}

func TestTrimMessages_PropertyLength(t *testing.T) {
	for total := 1; total <= 45; total++ {
		msgs := numbered(total)
		if total%7 == 0 {
			msgs[total/2] = Message{Role: RoleSystem, Content: "sys"}
		}
		var hist []Message
		for _, m := range msgs {
			hist = TrimMessages(append(hist, m), 20)
		}

		want := total
		if want > 20 {
			want = 20
		}
		if len(hist) != want {
			t.Errorf("total=%d: len = %d, want %d", total, len(hist), want)
		}
		if total%7 == 0 && total > 20 && hist[0].Role != RoleSystem {
			t.Errorf("total=%d: system message not at index 0", total)
		}
	}
}

func TestTrimMessages_DoesNotModifyInput(t *testing.T) {
	msgs := numbered(25)
	before := msgs[0]
	_ = TrimMessages(msgs, 10)
	if msgs[0] != before || len(msgs) != 25 {
		t.Error("input slice was modified")
	}
}

// =============================================================================
// ID TESTS
// =============================================================================

func TestNewConversationID_Format(t *testing.T) {
	re := regexp.MustCompile(`^conversation_\d+_[0-9a-f]+$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewConversationID()
		if !re.MatchString(id) {
			t.Fatalf("id %q does not match %s", id, re)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewConversationIDAt_EmbedsMillis(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	id := newConversationIDAt(ts)
	if !strings.HasPrefix(id, "conversation_1700000000123_") {
		t.Errorf("id = %q, want conversation_1700000000123_ prefix", id)
	}
}
