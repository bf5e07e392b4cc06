// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/peerchat-tui/internal/util"
)

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the client-side delivery state of a message. It is never
// persisted server-side; it only governs UI affordances (retry appears on
// StatusError, delete only for the local sender's non-error messages).
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Marker returns a short display marker for the status.
func (s Status) Marker() string {
	switch s {
	case StatusSending:
		return "…"
	case StatusSent:
		return "✓"
	case StatusDelivered:
		return "✓✓"
	case StatusRead:
		return "✓✓"
	case StatusError:
		return "!"
	default:
		return ""
	}
}

// =============================================================================
// KIND TYPE
// =============================================================================

// Kind distinguishes text messages from image messages.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// localIDPrefix marks placeholder ids generated before the server assigns
// a real id. The creation timestamp in the id guarantees per-session
// uniqueness even if the uuid fragment were to repeat.
const localIDPrefix = "local_"

// Message represents a single chat entry.
//
// For an outbound message the ID starts as a locally generated placeholder
// id and is replaced with the server-assigned id on acknowledgment. Token
// is a client-generated idempotency token carried on the wire so the
// server's echo of the same logical message can be matched exactly.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"connectedId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`

	// Content. For KindImage, Body holds the durable media URL once the
	// upload completes; LocalPreview holds a transient reference (e.g. a
	// temp file path) shown while the placeholder is pending.
	Body         string `json:"message"`
	Kind         Kind   `json:"type"`
	LocalPreview string `json:"-"`

	// Reconciliation token (echoed back by the server).
	Token string `json:"token,omitempty"`

	// Client-only delivery state.
	Status Status `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewOutgoingText creates an optimistic outbound text message in
// StatusSending with a placeholder id and a fresh idempotency token.
func NewOutgoingText(conversationID, senderID, receiverID, body string) *Message {
	now := time.Now()
	return &Message{
		ID:             generateLocalID(now),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		Kind:           KindText,
		Token:          uuid.NewString(),
		Status:         StatusSending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewOutgoingImage creates an optimistic outbound image message. Body is
// filled with the durable URL after upload; localPreview is shown until
// then.
func NewOutgoingImage(conversationID, senderID, receiverID, localPreview string) *Message {
	msg := NewOutgoingText(conversationID, senderID, receiverID, "")
	msg.Kind = KindImage
	msg.LocalPreview = localPreview
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsLocal reports whether the message still carries a placeholder id.
func (m *Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, localIDPrefix)
}

// IsPending reports whether the message is an optimistic placeholder that
// has not yet been reconciled against a server confirmation.
func (m *Message) IsPending() bool {
	return m.IsLocal() && m.Status == StatusSending
}

// DisplayBody returns the content to render: the durable body when known,
// otherwise the transient local preview.
func (m *Message) DisplayBody() string {
	if m.Body == "" && m.LocalPreview != "" {
		return m.LocalPreview
	}
	return m.Body
}

// Preview returns a truncated single-line preview of the message body.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	body := m.DisplayBody()
	if m.Kind == KindImage {
		body = "[image]"
	}
	body = strings.ReplaceAll(body, "\n", " ")
	return util.TruncateRunes(body, maxLen)
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateLocalID creates a placeholder message id. The prefix makes
// placeholders distinguishable from server ids; the timestamp plus a uuid
// fragment guarantees uniqueness within a session.
func generateLocalID(now time.Time) string {
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return localIDPrefix + now.UTC().Format("20060102150405.000000000") + "_" + frag
}
