// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types used throughout the application
// for representing chat conversations, messages, presence, and typing state.
//
// # Key Types
//
//   - Conversation: A persistent pairing between the local user and a peer,
//     with a denormalized last-message preview used for list ordering
//   - Message: Single chat entry with sender, body, kind, and a client-side
//     delivery status (sending, sent, delivered, read, error)
//   - Presence: The set of user ids currently online
//
// # Usage
//
// Create an optimistic outbound message:
//
//	msg := model.NewOutgoingText(convID, me, peer, "hello")
//	// msg.Status == model.StatusSending, msg.IsLocal() == true
//
// Sort a conversation list for display:
//
//	model.SortConversations(convs)
package model
