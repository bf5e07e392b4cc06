// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// =============================================================================
// COMMAND CONSTRUCTORS
// =============================================================================

// loadTimeout bounds every command-driven network call.
const loadTimeout = 30 * time.Second

// LoadConversationsCmd fetches the conversation list.
func LoadConversationsCmd(convs Conversations) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return ConversationsLoadedMsg{Err: convs.Load(ctx)}
	}
}

// SwitchCmd opens a conversation and loads its history.
func SwitchCmd(sess Session, conv *model.Conversation) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return SwitchedMsg{
			ConversationID: conv.ID,
			Err:            sess.Switch(ctx, conv),
		}
	}
}

// SendCmd sends a text message.
func SendCmd(sess Session, text string) tea.Cmd {
	return func() tea.Msg {
		return SendResultMsg{Err: sess.Send(text)}
	}
}

// RetryCmd re-sends a failed message.
func RetryCmd(sess Session, messageID string) tea.Cmd {
	return func() tea.Msg {
		return SendResultMsg{Err: sess.Retry(messageID)}
	}
}

// DeleteCmd deletes a message.
func DeleteCmd(sess Session, messageID string) tea.Cmd {
	return func() tea.Msg {
		return SendResultMsg{Err: sess.Delete(messageID)}
	}
}

// SendImageCmd uploads and sends an image from a local path.
func SendImageCmd(sess Session, path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return SendResultMsg{Err: fmt.Errorf("open image: %w", err)}
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return SendResultMsg{Err: fmt.Errorf("stat image: %w", err)}
		}

		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return SendResultMsg{
			Err: sess.SendImage(ctx, filepath.Base(path), f, info.Size()),
		}
	}
}
