// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewOutgoingText(t *testing.T) {
	msg := NewOutgoingText("conv1", "me", "peer", "hello")

	if !strings.HasPrefix(msg.ID, "local_") {
		t.Errorf("placeholder id should start with 'local_', got %q", msg.ID)
	}
	if msg.Status != StatusSending {
		t.Errorf("initial status = %v, want sending", msg.Status)
	}
	if msg.Kind != KindText {
		t.Errorf("kind = %v, want text", msg.Kind)
	}
	if msg.Token == "" {
		t.Error("outbound message should carry an idempotency token")
	}
	if !msg.IsLocal() || !msg.IsPending() {
		t.Error("fresh outbound message should be local and pending")
	}
}

func TestLocalIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg := NewOutgoingText("c", "a", "b", "x")
		if seen[msg.ID] {
			t.Fatalf("duplicate placeholder id %q", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name   string
		msg    Message
		maxLen int
		want   string
	}{
		{"short text", Message{Body: "hi", Kind: KindText}, 10, "hi"},
		{"truncated", Message{Body: "hello world", Kind: KindText}, 8, "hello..."},
		{"image", Message{Body: "https://cdn/x.png", Kind: KindImage}, 20, "[image]"},
		{"newlines flattened", Message{Body: "a\nb", Kind: KindText}, 10, "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := (&tt.msg).Preview(tt.maxLen)
			if got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage_PreviewUnicode(t *testing.T) {
	msg := Message{Body: strings.Repeat("日", 20), Kind: KindText}
	got := msg.Preview(10)
	if len([]rune(got)) != 10 {
		t.Errorf("unicode preview length = %d runes, want 10", len([]rune(got)))
	}
}

func TestMessage_DisplayBody(t *testing.T) {
	msg := NewOutgoingImage("c", "a", "b", "blob://tmp")
	if msg.DisplayBody() != "blob://tmp" {
		t.Errorf("pending image should display local preview, got %q", msg.DisplayBody())
	}

	msg.Body = "https://cdn/img.png"
	if msg.DisplayBody() != "https://cdn/img.png" {
		t.Errorf("confirmed image should display durable URL, got %q", msg.DisplayBody())
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_ActivityTime(t *testing.T) {
	updated := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	c := &Conversation{UpdatedAt: updated}
	if !c.ActivityTime().Equal(updated) {
		t.Error("without preview, activity time should be UpdatedAt")
	}

	c.LastMessage = &LastMessage{CreatedAt: last}
	if !c.ActivityTime().Equal(last) {
		t.Error("with preview, activity time should be LastMessage.CreatedAt")
	}
}

func TestSortConversations(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	convs := []*Conversation{
		{ID: "old", LastMessage: &LastMessage{CreatedAt: base.Add(-time.Hour)}},
		{ID: "new", LastMessage: &LastMessage{CreatedAt: base.Add(time.Hour)}},
		{ID: "mid", LastMessage: &LastMessage{CreatedAt: base}},
		{ID: "empty", UpdatedAt: base.Add(-2 * time.Hour)},
	}

	SortConversations(convs)

	want := []string{"new", "mid", "old", "empty"}
	for i, id := range want {
		if convs[i].ID != id {
			t.Errorf("position %d = %q, want %q", i, convs[i].ID, id)
		}
	}
}

func TestConversation_SetPreview(t *testing.T) {
	c := &Conversation{ID: "c1", UpdatedAt: time.Now().Add(-time.Hour)}
	msg := NewOutgoingText("c1", "me", "peer", "latest")
	c.SetPreview(msg)

	if c.LastMessage == nil || c.LastMessage.Body != "latest" {
		t.Fatalf("SetPreview did not patch snapshot: %+v", c.LastMessage)
	}
	if !c.UpdatedAt.Equal(msg.CreatedAt) {
		t.Error("SetPreview should advance UpdatedAt to the message time")
	}
}

// =============================================================================
// PRESENCE TESTS
// =============================================================================

func TestPresence(t *testing.T) {
	p := NewPresence([]string{"u1", "u2"})

	if !p.Online("u1") || !p.Online("u2") {
		t.Error("broadcast ids should be online")
	}
	if p.Online("u3") {
		t.Error("unknown id should be offline")
	}

	// Wholesale replacement drops previous entries.
	p = NewPresence([]string{"u3"})
	if p.Online("u1") {
		t.Error("replaced presence set should not keep old ids")
	}
}
