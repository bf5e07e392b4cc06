// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Peer holds the denormalized display data for the other participant of a
// conversation. It is a snapshot taken server-side and may go stale.
type Peer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar"`
}

// LastMessage is the preview snapshot used only for list ordering and
// display. It is not authoritative message history.
type LastMessage struct {
	Body      string    `json:"message"`
	Kind      Kind      `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a persistent pairing between the local user and a peer.
// Conversations are created server-side and never deleted client-side.
type Conversation struct {
	// Identity
	ID      string `json:"id"`
	LocalID string `json:"userId"`
	Peer    Peer   `json:"peer"`

	// Preview (optional; nil when the conversation has no history yet)
	LastMessage *LastMessage `json:"lastMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActivityTime returns the timestamp that orders this conversation in the
// list: the last message time when a preview exists, else the
// conversation's own update time.
func (c *Conversation) ActivityTime() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

// SetPreview patches the last-message snapshot from an inbound message.
func (c *Conversation) SetPreview(msg *Message) {
	c.LastMessage = &LastMessage{
		Body:      msg.DisplayBody(),
		Kind:      msg.Kind,
		CreatedAt: msg.CreatedAt,
	}
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
}

// PreviewText returns a short display string for the conversation list.
func (c *Conversation) PreviewText(maxLen int) string {
	if c.LastMessage == nil {
		return ""
	}
	m := Message{Body: c.LastMessage.Body, Kind: c.LastMessage.Kind}
	return m.Preview(maxLen)
}

// Clone returns a copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

// =============================================================================
// SORTING
// =============================================================================

// SortConversations orders conversations by most recent activity first.
// The sort is stable so conversations with equal timestamps keep their
// relative order across refreshes.
func SortConversations(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].ActivityTime().After(convs[j].ActivityTime())
	})
}

// =============================================================================
// PRESENCE
// =============================================================================

// Presence is the set of user ids currently online. It is replaced
// wholesale on every presence broadcast; there is no incremental diffing.
type Presence map[string]struct{}

// NewPresence builds a presence set from a broadcast id list.
func NewPresence(ids []string) Presence {
	p := make(Presence, len(ids))
	for _, id := range ids {
		p[id] = struct{}{}
	}
	return p
}

// Online reports whether the given user id is in the set.
func (p Presence) Online(userID string) bool {
	_, ok := p[userID]
	return ok
}
