// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		switch m.state {
		case StateList:
			return m.updateList(msg)
		case StateChat:
			return m.updateChat(msg)
		default:
			return m, nil
		}

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case StoreUpdatedMsg:
		m.refreshList()
		return m, nil

	case SessionChangedMsg:
		m.refreshViewport()
		return m, nil

	case NoticeMsg:
		m.notice = msg.Text
		return m, nil

	case SocketErrorMsg:
		m.state = StateError
		m.errText = "Connection lost: " + msg.Err.Error()
		return m, nil

	case ConversationsLoadedMsg:
		m.loading = false
		if msg.Err != nil {
			m.errText = "Could not load conversations: " + msg.Err.Error()
			m.list = nil
			return m, nil
		}
		m.errText = ""
		m.refreshList()
		return m, nil

	case SwitchedMsg:
		if msg.Err != nil {
			m.notice = "Could not open conversation: " + msg.Err.Error()
			return m, nil
		}
		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, nil

	case SendResultMsg:
		if msg.Err != nil {
			m.notice = msg.Err.Error()
		}
		return m, nil
	}

	return m, nil
}

// =============================================================================
// LIST SCREEN
// =============================================================================

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.list)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		return m, tea.Batch(m.spin.Tick, LoadConversationsCmd(m.convs))
	case key.Matches(msg, m.keys.Open):
		sel := m.selected()
		if sel == nil {
			return m, nil
		}
		m.state = StateChat
		m.activeConv = sel
		m.notice = ""
		m.input.Reset()
		m.input.Focus()
		return m, SwitchCmd(m.session, sel)
	}
	return m, nil
}

// =============================================================================
// CHAT SCREEN
// =============================================================================

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.state = StateList
		m.notice = ""
		return m, nil

	case key.Matches(msg, m.keys.Retry):
		if id := m.newestFailedID(); id != "" {
			m.notice = ""
			return m, RetryCmd(m.session, id)
		}
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		if id := m.newestOwnID(); id != "" {
			m.notice = ""
			return m, DeleteCmd(m.session, id)
		}
		return m, nil

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		if path, ok := strings.CutPrefix(text, "/image "); ok {
			return m, SendImageCmd(m.session, strings.TrimSpace(path))
		}
		if query, ok := strings.CutPrefix(text, "/find "); ok {
			m.session.SetFilter(strings.TrimSpace(query))
			m.refreshViewport()
			return m, nil
		}
		if text == "/find" {
			m.session.SetFilter("")
			m.refreshViewport()
			return m, nil
		}
		return m, SendCmd(m.session, text)
	}

	// Everything else goes to the widgets. A change in the composer's
	// content counts as typing activity.
	before := m.input.Value()
	var inputCmd, vpCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	if m.input.Value() != before {
		m.session.InputActivity()
	}
	return m, tea.Batch(inputCmd, vpCmd)
}

// =============================================================================
// HELPERS
// =============================================================================

// isOwn reports whether a message was sent by the local user. The peer's
// id is the only identity the view needs.
func (m *Model) isOwn(msg *model.Message) bool {
	if m.activeConv == nil {
		return false
	}
	return msg.SenderID != m.activeConv.Peer.ID
}

// newestFailedID returns the most recent failed message's id.
func (m *Model) newestFailedID() string {
	msgs := m.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == model.StatusError {
			return msgs[i].ID
		}
	}
	return ""
}

// newestOwnID returns the most recent own settled message's id.
func (m *Model) newestOwnID() string {
	msgs := m.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if m.isOwn(msgs[i]) && !msgs[i].IsPending() && msgs[i].Status != model.StatusError {
			return msgs[i].ID
		}
	}
	return ""
}

// resize lays the widgets out for a new window size.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.Resize(width, height)

	m.input.Width = max(10, width-8)
	m.viewport.Width = max(10, width-4)
	m.viewport.Height = max(3, height-9)
	m.refreshViewport()
}
