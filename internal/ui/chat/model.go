// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/peerchat-tui/internal/model"
	"github.com/jeranaias/peerchat-tui/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Session is the slice of the session manager the UI drives. Satisfied by
// *session.Manager.
type Session interface {
	Switch(ctx context.Context, conv *model.Conversation) error
	Send(text string) error
	SendImage(ctx context.Context, filename string, r io.Reader, size int64) error
	Retry(messageID string) error
	Delete(messageID string) error
	InputActivity()
	SetFilter(query string)
	Filter() string
	Messages() []*model.Message
	PeerTyping() bool
	Active() string
}

// Conversations is the slice of the store the UI reads. Satisfied by
// *store.Store.
type Conversations interface {
	Load(ctx context.Context) error
	Snapshot() []*model.Conversation
	Online(userID string) bool
	Err() error
}

// =============================================================================
// STATE
// =============================================================================

// State identifies which screen the model is rendering.
type State int

const (
	// StateList shows the conversation list.
	StateList State = iota

	// StateChat shows the active conversation.
	StateChat

	// StateError shows a fatal error (bad config, no identity, socket
	// exhausted its reconnect attempts).
	StateError
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat interface.
type Model struct {
	session Session
	convs   Conversations
	theme   *styles.Theme
	keys    KeyMap

	state   State
	loading bool

	// Conversation list
	list   []*model.Conversation
	cursor int

	// Active conversation
	activeConv *model.Conversation

	// Widgets
	input    textinput.Model
	viewport viewport.Model
	spin     spinner.Model

	// Chrome
	width   int
	height  int
	errText string
	notice  string
}

// New creates the chat model. A non-empty fatalErr puts the model straight
// into the error state (e.g. missing identity in the config).
func New(sess Session, convs Conversations, theme *styles.Theme, fatalErr string) Model {
	input := textinput.New()
	input.Placeholder = "Message (/image <path>, /find <text>)"
	input.CharLimit = 4000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	m := Model{
		session:  sess,
		convs:    convs,
		theme:    theme,
		keys:     DefaultKeyMap(),
		state:    StateList,
		loading:  true,
		input:    input,
		viewport: viewport.New(0, 0),
		spin:     spin,
	}
	if fatalErr != "" {
		m.state = StateError
		m.errText = fatalErr
		m.loading = false
	}
	return m
}

// Init starts the spinner and the initial conversation load.
func (m Model) Init() tea.Cmd {
	if m.state == StateError {
		return nil
	}
	return tea.Batch(m.spin.Tick, LoadConversationsCmd(m.convs))
}

// selected returns the conversation under the cursor, nil when the list is
// empty.
func (m *Model) selected() *model.Conversation {
	if m.cursor < 0 || m.cursor >= len(m.list) {
		return nil
	}
	return m.list[m.cursor]
}

// refreshList re-reads the store snapshot, keeping the cursor on the same
// conversation when the list reorders.
func (m *Model) refreshList() {
	var selectedID string
	if sel := m.selected(); sel != nil {
		selectedID = sel.ID
	}

	m.list = m.convs.Snapshot()

	if selectedID != "" {
		for i, conv := range m.list {
			if conv.ID == selectedID {
				m.cursor = i
				return
			}
		}
	}
	if m.cursor >= len(m.list) {
		m.cursor = len(m.list) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// refreshViewport re-renders the message transcript and follows the tail.
func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}
