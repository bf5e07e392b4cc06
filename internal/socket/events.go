// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package socket

import (
	"encoding/json"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// =============================================================================
// EVENT VOCABULARY
// =============================================================================

// Inbound events (server → client).
const (
	EventOnlineUsers    = "onlineUsers"
	EventNewMessage     = "newMessage"
	EventMessageDeleted = "messageDeleted"
	EventUserTyping     = "userTyping"
	EventMessageStatus  = "messageStatus"
	EventAck            = "ack"
)

// Outbound events (client → server).
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventSendMessage       = "sendMessage"
	EventDeleteMessage     = "deleteMessage"
	EventTyping            = "typing"
	EventMarkAsRead        = "markAsRead"
)

// envelope is the wire frame for every event in both directions. Ack is a
// client-generated correlation id present on emit-with-acknowledgment
// requests and echoed back on the server's ack frame.
type envelope struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// =============================================================================
// PAYLOAD TYPES
// =============================================================================

// JoinPayload subscribes to / unsubscribes from a conversation room.
type JoinPayload struct {
	ConversationID string `json:"connectedId"`
}

// DeletePayload asks the server to delete a message.
type DeletePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"connectedId"`
}

// TypingPayload carries a typing signal in either direction.
type TypingPayload struct {
	ConversationID string `json:"connectedId"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadPayload batches read receipts for a conversation.
type ReadPayload struct {
	MessageIDs     []string `json:"messageIds"`
	ConversationID string   `json:"connectedId"`
}

// StatusPayload patches a single message's delivery status.
type StatusPayload struct {
	MessageID string       `json:"messageId"`
	Status    model.Status `json:"status"`
}

// DeletedPayload announces a server-side deletion.
type DeletedPayload struct {
	MessageID string `json:"messageId"`
}

// AckResult is the acknowledgment for an emit-with-ack request. On a
// successful sendMessage it carries the server-confirmed message.
type AckResult struct {
	Success bool           `json:"success"`
	Message *model.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// =============================================================================
// HANDLER
// =============================================================================

// Handler receives inbound events. The connection manager performs no
// semantic interpretation of its own; it decodes frames and forwards typed
// payloads here. Implementations must not block: handlers are invoked from
// the read loop.
type Handler interface {
	// HandlePresence replaces the full presence set.
	HandlePresence(userIDs []string)

	// HandleNewMessage delivers a full inbound message record.
	HandleNewMessage(msg *model.Message)

	// HandleMessageDeleted removes a message by id.
	HandleMessageDeleted(messageID string)

	// HandleTyping updates the typing flag for a conversation.
	HandleTyping(conversationID string, isTyping bool)

	// HandleMessageStatus patches a message's delivered/read status.
	HandleMessageStatus(messageID string, status model.Status)

	// HandleReconnect fires after the transport re-established the
	// connection and re-joined the active conversation.
	HandleReconnect()
}
