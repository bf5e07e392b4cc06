// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/peerchat-tui/internal/model"
	"github.com/jeranaias/peerchat-tui/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the current screen.
func (m Model) View() string {
	switch m.state {
	case StateError:
		return m.viewError()
	case StateChat:
		return m.viewChat()
	default:
		return m.viewList()
	}
}

// =============================================================================
// ERROR SCREEN
// =============================================================================

func (m Model) viewError() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render("peerchat"))
	b.WriteString("\n\n")
	b.WriteString(m.theme.ErrorBanner.Render(m.errText))
	b.WriteString("\n\n")
	b.WriteString(m.theme.HelpBar.Render(m.theme.HelpKey.Render("ctrl+c") + " quit"))
	return b.String()
}

// =============================================================================
// CONVERSATION LIST SCREEN
// =============================================================================

func (m Model) viewList() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render(m.theme.Title.Render("peerchat") + "  conversations"))
	b.WriteString("\n")

	if m.errText != "" {
		b.WriteString(m.theme.ErrorBanner.Render(m.errText))
		b.WriteString("\n")
	}

	switch {
	case m.loading:
		b.WriteString(m.spin.View() + " loading conversations\n")
	case len(m.list) == 0:
		b.WriteString(m.theme.ListPreview.Render("No conversations yet."))
		b.WriteString("\n")
	default:
		b.WriteString(m.renderConversationRows())
	}

	b.WriteString("\n")
	b.WriteString(m.listHelp())
	return b.String()
}

func (m Model) renderConversationRows() string {
	var b strings.Builder
	for i, conv := range m.list {
		dot := m.theme.PresenceOffline.Render("○")
		if m.convs.Online(conv.Peer.ID) {
			dot = m.theme.PresenceOnline.Render("●")
		}

		name := m.theme.ListPeerName.Render(util.PadRight(conv.Peer.Name, 18))
		preview := m.theme.ListPreview.Render(conv.PreviewText(48))
		stamp := m.theme.ListTimestamp.Render(formatStamp(conv.ActivityTime()))

		row := fmt.Sprintf("%s %s  %s  %s", dot, name, preview, stamp)
		if i == m.cursor {
			row = m.theme.ListItemSelected.Render(row)
		} else {
			row = m.theme.ListItem.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) listHelp() string {
	parts := []string{
		m.theme.HelpKey.Render("↑/↓") + " navigate",
		m.theme.HelpKey.Render("enter") + " open",
		m.theme.HelpKey.Render("ctrl+r") + " refresh",
		m.theme.HelpKey.Render("ctrl+c") + " quit",
	}
	return m.theme.HelpBar.Render(strings.Join(parts, "  "))
}

// =============================================================================
// CHAT SCREEN
// =============================================================================

func (m Model) viewChat() string {
	var b strings.Builder
	b.WriteString(m.chatHeader())
	b.WriteString("\n")
	b.WriteString(m.theme.ChatPane.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.typingLine())
	b.WriteString(m.theme.InputContainer.Render(m.input.View()))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(m.theme.NoticeBanner.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.chatHelp())
	return b.String()
}

func (m Model) chatHeader() string {
	if m.activeConv == nil {
		return m.theme.Header.Render("peerchat")
	}
	dot := m.theme.PresenceOffline.Render("○")
	if m.convs.Online(m.activeConv.Peer.ID) {
		dot = m.theme.PresenceOnline.Render("●")
	}
	return m.theme.Header.Render(dot + " " + m.theme.Title.Render(m.activeConv.Peer.Name))
}

func (m Model) typingLine() string {
	if query := m.session.Filter(); query != "" {
		return m.theme.TypingLine.Render("filtering: "+query+" (/find clears)") + "\n"
	}
	if !m.session.PeerTyping() || m.activeConv == nil {
		return "\n"
	}
	return m.theme.TypingLine.Render(m.activeConv.Peer.Name+" is typing…") + "\n"
}

func (m Model) chatHelp() string {
	parts := []string{
		m.theme.HelpKey.Render("enter") + " send",
		m.theme.HelpKey.Render("ctrl+t") + " retry failed",
		m.theme.HelpKey.Render("ctrl+d") + " delete last",
		m.theme.HelpKey.Render("esc") + " back",
	}
	return m.theme.HelpBar.Render(strings.Join(parts, "  "))
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// renderTranscript formats the active conversation's messages for the
// viewport.
func (m Model) renderTranscript() string {
	msgs := m.session.Messages()
	if len(msgs) == 0 {
		return m.theme.ListPreview.Render("No messages yet. Say hello!")
	}

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg *model.Message) string {
	own := m.isOwn(msg)

	label := "You"
	style := m.theme.OwnMessage
	if !own {
		style = m.theme.PeerMessage
		label = "Peer"
		if m.activeConv != nil {
			label = m.activeConv.Peer.Name
		}
	}

	body := msg.DisplayBody()
	if msg.Kind == model.KindImage {
		body = m.theme.ImageTag.Render("[image]") + " " + body
	}

	meta := m.theme.MessageMeta.Render(formatStamp(msg.CreatedAt))
	line := fmt.Sprintf("%s %s  %s", style.Bold(true).Render(label+":"), body, meta)

	if own {
		marker := m.theme.StatusMarker.Render(msg.Status.Marker())
		if msg.Status == model.StatusError {
			marker = m.theme.StatusError.Render(msg.Status.Marker() + " failed")
		}
		line += " " + marker
	}
	return lipgloss.NewStyle().Width(max(10, m.viewport.Width-2)).Render(line)
}

// formatStamp renders a short timestamp: clock time for today, date
// otherwise.
func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2")
}
