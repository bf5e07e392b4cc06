// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// This file defines all Bubble Tea message types used by the chat
// interface. Messages are organized into the following categories:
//   - Bridge: store/session/socket callbacks converted into messages
//   - Loading: conversation list and history fetch results
//   - Sending: text and image send outcomes
package chat

import tea "github.com/charmbracelet/bubbletea"

// =============================================================================
// BRIDGE MESSAGES
// =============================================================================

// StoreUpdatedMsg signals that the conversation list changed.
type StoreUpdatedMsg struct{}

// SessionChangedMsg signals that the active conversation's state changed.
type SessionChangedMsg struct{}

// NoticeMsg carries a short user-facing note (e.g. a failed delete).
type NoticeMsg struct {
	Text string
}

// SocketErrorMsg signals that the realtime connection failed for good.
type SocketErrorMsg struct {
	Err error
}

// =============================================================================
// LOADING MESSAGES
// =============================================================================

// ConversationsLoadedMsg reports the outcome of a conversation list load.
type ConversationsLoadedMsg struct {
	Err error
}

// SwitchedMsg reports the outcome of opening a conversation.
type SwitchedMsg struct {
	ConversationID string
	Err            error
}

// =============================================================================
// SENDING MESSAGES
// =============================================================================

// SendResultMsg reports the synchronous outcome of a send. Delivery state
// changes arrive later as SessionChangedMsg.
type SendResultMsg struct {
	Err error
}

// Bridge wires store/session callbacks into a running program. It returns
// the callbacks to register before the program starts.
func Bridge(send func(tea.Msg)) (onStore func(), onSession func(), onNotice func(string), onSocketErr func(error)) {
	onStore = func() { send(StoreUpdatedMsg{}) }
	onSession = func() { send(SessionChangedMsg{}) }
	onNotice = func(text string) { send(NoticeMsg{Text: text}) }
	onSocketErr = func(err error) { send(SocketErrorMsg{Err: err}) }
	return onStore, onSession, onNotice, onSocketErr
}
