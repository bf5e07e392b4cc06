// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/peerchat-tui/internal/model"
	"github.com/jeranaias/peerchat-tui/internal/socket"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoConversation indicates no conversation is active.
	ErrNoConversation = errors.New("no active conversation")

	// ErrSendInFlight indicates a send is already awaiting acknowledgment.
	ErrSendInFlight = errors.New("a send is already in flight")

	// ErrImageTooLarge indicates an image exceeded the client-side limit.
	ErrImageTooLarge = errors.New("image exceeds upload size limit")

	// ErrUnknownMessage indicates the message id is not in the session.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrNotRetryable indicates Retry was called on a non-error message.
	ErrNotRetryable = errors.New("only failed messages can be retried")

	// ErrNotDeletable indicates Delete was called on a message the local
	// user cannot delete.
	ErrNotDeletable = errors.New("message cannot be deleted")
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Emitter is the slice of the realtime connection the session needs.
// Satisfied by *socket.Conn.
type Emitter interface {
	JoinConversation(conversationID string) error
	LeaveConversation(conversationID string) error
	Emit(event string, payload interface{}) error
	EmitWithAck(event string, payload interface{}, timeout time.Duration, cb func(socket.AckResult)) error
}

// Uploader uploads image bytes and returns a durable URL. Satisfied by
// *api.Client.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
}

// HistoryFetcher loads the full message history for a conversation.
// Satisfied by *api.Client.
type HistoryFetcher interface {
	GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// ConversationSink receives the session's routing of inbound events that
// belong to the conversation list rather than the active session.
// Satisfied by *store.Store.
type ConversationSink interface {
	ApplyMessage(msg *model.Message)
	SetPresence(userIDs []string)
}

// =============================================================================
// MANAGER
// =============================================================================

// Defaults for session timing and limits.
const (
	DefaultAckTimeout = 10 * time.Second
	DefaultTypingIdle = 1500 * time.Millisecond
	DefaultMaxImage   = 5 * 1024 * 1024
)

// Manager is the state machine for the active conversation.
type Manager struct {
	mu sync.Mutex

	// Identity
	userID string

	// Active conversation
	active     string
	peerID     string
	msgs       []*model.Message
	hidden     map[string]struct{} // pending-delete tombstones
	filter     string              // transcript search filter
	peerTyping bool

	// Outbound send serialization. inFlightID names the placeholder the
	// guard belongs to, so a late ack from a previous conversation cannot
	// free the current conversation's slot.
	inFlight   bool
	inFlightID string

	// Read receipts already emitted this conversation
	readSent map[string]struct{}

	// Local typing signal
	typingTimer  *time.Timer
	typingActive bool

	// Wiring
	emitter Emitter
	upload  Uploader
	history HistoryFetcher
	convs   ConversationSink

	// Timing and limits
	ackTimeout time.Duration
	typingIdle time.Duration
	maxImage   int64

	// Callbacks, invoked outside the lock
	onChange func()
	onNotice func(text string)
}

// Options configures a Manager.
type Options struct {
	UserID  string
	Emitter Emitter
	Upload  Uploader
	History HistoryFetcher
	Convs   ConversationSink

	AckTimeout    time.Duration
	TypingIdle    time.Duration
	MaxImageBytes int64

	// OnChange fires after every visible state change.
	OnChange func()

	// OnNotice delivers short user-facing notes (e.g. a failed delete).
	OnNotice func(text string)
}

// NewManager creates a session manager. No conversation is active until
// Switch is called.
func NewManager(opts Options) *Manager {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImage
	}
	return &Manager{
		userID:     opts.UserID,
		hidden:     make(map[string]struct{}),
		readSent:   make(map[string]struct{}),
		emitter:    opts.Emitter,
		upload:     opts.Upload,
		history:    opts.History,
		convs:      opts.Convs,
		ackTimeout: opts.AckTimeout,
		typingIdle: opts.TypingIdle,
		maxImage:   opts.MaxImageBytes,
		onChange:   opts.OnChange,
		onNotice:   opts.OnNotice,
	}
}

// SetChangeCallback installs the function called after every visible
// state change. Call before the manager starts receiving events.
func (m *Manager) SetChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetNoticeCallback installs the function that delivers short
// user-facing notes. Call before the manager starts receiving events.
func (m *Manager) SetNoticeCallback(fn func(text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotice = fn
}

// =============================================================================
// READS
// =============================================================================

// Active returns the id of the active conversation, empty when none.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Messages returns a copy of the visible message list in order. Messages
// with a pending delete are excluded; when a search filter is set only
// messages whose body contains it are returned.
func (m *Manager) Messages() []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(m.filter)
	out := make([]*model.Message, 0, len(m.msgs))
	for _, msg := range m.msgs {
		if _, gone := m.hidden[msg.ID]; gone {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(msg.DisplayBody()), needle) {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

// SetFilter applies a transcript search filter: Messages returns only
// entries whose body contains the query, case-insensitively. An empty
// query clears the filter.
func (m *Manager) SetFilter(query string) {
	m.mu.Lock()
	m.filter = strings.TrimSpace(query)
	m.mu.Unlock()
	m.notify()
}

// Filter returns the current transcript search filter, empty when none.
func (m *Manager) Filter() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// PeerTyping reports whether the peer is currently typing in the active
// conversation.
func (m *Manager) PeerTyping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerTyping
}

// SendInFlight reports whether a send is awaiting acknowledgment.
func (m *Manager) SendInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// =============================================================================
// CONVERSATION SWITCHING
// =============================================================================

// Switch makes a conversation active: leaves the previous room, joins the
// new one, and replaces the message list wholesale from history. Switching
// to the already-active conversation is a no-op. Session state tied to the
// old conversation (typing flag, search filter, read-receipt tracking,
// in-flight guard, tombstones) is cleared.
func (m *Manager) Switch(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	if conv.ID == m.active {
		m.mu.Unlock()
		return nil
	}
	previous := m.active
	m.stopTypingLocked()
	m.active = conv.ID
	m.peerID = conv.Peer.ID
	m.msgs = nil
	m.hidden = make(map[string]struct{})
	m.filter = ""
	m.readSent = make(map[string]struct{})
	m.peerTyping = false
	m.inFlight = false
	m.inFlightID = ""
	m.mu.Unlock()

	if previous != "" {
		m.emitter.LeaveConversation(previous)
	}
	if err := m.emitter.JoinConversation(conv.ID); err != nil {
		return err
	}
	m.notify()

	return m.refreshHistory(ctx, conv.ID)
}

// refreshHistory replaces the message list from the backend, preserving
// any local pending placeholders the history cannot know about.
func (m *Manager) refreshHistory(ctx context.Context, conversationID string) error {
	history, err := m.history.GetMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.active != conversationID {
		// Switched away while the fetch was in flight.
		m.mu.Unlock()
		return nil
	}
	var pending []*model.Message
	for _, msg := range m.msgs {
		if msg.IsLocal() {
			pending = append(pending, msg)
		}
	}
	for _, msg := range history {
		if msg.Status == "" {
			msg.Status = model.StatusSent
		}
	}
	m.msgs = append(history, pending...)
	m.mu.Unlock()

	m.notify()
	m.emitReadReceipts()
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// Send transmits a text message optimistically. Whitespace-only input is a
// no-op. Only one send may be in flight at a time; the guard is released
// on every outcome (ack, negative ack, timeout, emit failure).
func (m *Manager) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if m.active == "" {
		m.mu.Unlock()
		return ErrNoConversation
	}
	if m.inFlight {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	msg := model.NewOutgoingText(m.active, m.userID, m.peerID, text)
	m.inFlight = true
	m.inFlightID = msg.ID
	m.msgs = append(m.msgs, msg)
	payload := msg.Clone()
	m.mu.Unlock()

	m.stopTyping()
	m.convs.ApplyMessage(payload)
	m.notify()
	return m.transmit(payload)
}

// SendImage validates, uploads, and sends an image message. The size check
// runs before any placeholder or network traffic. While the upload runs
// the placeholder renders the transient local reference.
func (m *Manager) SendImage(ctx context.Context, filename string, r io.Reader, size int64) error {
	if size > m.maxImage {
		return ErrImageTooLarge
	}

	m.mu.Lock()
	if m.active == "" {
		m.mu.Unlock()
		return ErrNoConversation
	}
	if m.inFlight {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	msg := model.NewOutgoingImage(m.active, m.userID, m.peerID, filename)
	m.inFlight = true
	m.inFlightID = msg.ID
	m.msgs = append(m.msgs, msg)
	localID := msg.ID
	m.mu.Unlock()

	m.notify()

	url, err := m.upload.UploadImage(ctx, filename, r, size)
	if err != nil {
		m.resolveSend(localID, socket.AckResult{Success: false, Error: err.Error()})
		return err
	}

	m.mu.Lock()
	var payload *model.Message
	for _, cand := range m.msgs {
		if cand.ID == localID {
			cand.Body = url
			cand.UpdatedAt = time.Now()
			payload = cand.Clone()
			break
		}
	}
	m.mu.Unlock()
	if payload == nil {
		// Reconciled or removed while uploading; nothing left to send.
		return nil
	}

	m.convs.ApplyMessage(payload)
	m.notify()
	return m.transmit(payload)
}

// Retry re-sends a failed message with its original id and idempotency
// token.
func (m *Manager) Retry(messageID string) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	var payload *model.Message
	for _, msg := range m.msgs {
		if msg.ID != messageID {
			continue
		}
		if msg.Status != model.StatusError {
			m.mu.Unlock()
			return ErrNotRetryable
		}
		msg.Status = model.StatusSending
		msg.UpdatedAt = time.Now()
		payload = msg.Clone()
		break
	}
	if payload == nil {
		m.mu.Unlock()
		return ErrUnknownMessage
	}
	m.inFlight = true
	m.inFlightID = payload.ID
	m.mu.Unlock()

	m.notify()
	return m.transmit(payload)
}

// transmit emits the message with acknowledgment. A synchronous emit
// failure resolves the send immediately so the guard never wedges.
func (m *Manager) transmit(msg *model.Message) error {
	err := m.emitter.EmitWithAck(socket.EventSendMessage, msg, m.ackTimeout, func(r socket.AckResult) {
		m.resolveSend(msg.ID, r)
	})
	if err != nil {
		m.resolveSend(msg.ID, socket.AckResult{Success: false, Error: err.Error()})
		return err
	}
	return nil
}

// resolveSend applies a send outcome: the in-flight slot is freed when the
// outcome belongs to the send holding it, then the placeholder is
// confirmed or marked failed. A late ack for a send from a conversation
// that has since been switched away cannot free another send's slot.
func (m *Manager) resolveSend(localID string, r socket.AckResult) {
	m.mu.Lock()
	if localID == m.inFlightID {
		m.inFlight = false
		m.inFlightID = ""
	}

	var changed bool
	for _, msg := range m.msgs {
		if msg.ID != localID {
			continue
		}
		if r.Success {
			if r.Message != nil {
				m.confirmLocked(msg, r.Message)
			} else {
				msg.Status = model.StatusSent
				msg.UpdatedAt = time.Now()
			}
		} else {
			msg.Status = model.StatusError
			msg.UpdatedAt = time.Now()
		}
		changed = true
		break
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

// confirmLocked replaces a placeholder's identity with the server record
// in place, keeping its position in the list.
func (m *Manager) confirmLocked(placeholder, server *model.Message) {
	placeholder.ID = server.ID
	if !server.CreatedAt.IsZero() {
		placeholder.CreatedAt = server.CreatedAt
	}
	if !server.UpdatedAt.IsZero() {
		placeholder.UpdatedAt = server.UpdatedAt
	}
	if server.Body != "" {
		placeholder.Body = server.Body
	}
	placeholder.Status = model.StatusSent
}

// =============================================================================
// DELETION
// =============================================================================

// Delete removes one of the local user's messages. The message disappears
// immediately as a pending-delete tombstone; the delete is finalized on
// server acknowledgment and rolled back with a notice on failure.
func (m *Manager) Delete(messageID string) error {
	m.mu.Lock()
	var target *model.Message
	for _, msg := range m.msgs {
		if msg.ID == messageID {
			target = msg
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return ErrUnknownMessage
	}
	if target.SenderID != m.userID || target.IsPending() {
		m.mu.Unlock()
		return ErrNotDeletable
	}
	m.hidden[messageID] = struct{}{}
	conversationID := m.active
	m.mu.Unlock()

	m.notify()

	payload := socket.DeletePayload{MessageID: messageID, ConversationID: conversationID}
	err := m.emitter.EmitWithAck(socket.EventDeleteMessage, payload, m.ackTimeout, func(r socket.AckResult) {
		m.resolveDelete(messageID, r)
	})
	if err != nil {
		m.resolveDelete(messageID, socket.AckResult{Success: false, Error: err.Error()})
		return err
	}
	return nil
}

// resolveDelete finalizes or rolls back a pending delete.
func (m *Manager) resolveDelete(messageID string, r socket.AckResult) {
	m.mu.Lock()
	if _, pending := m.hidden[messageID]; !pending {
		// Already finalized by a messageDeleted broadcast.
		m.mu.Unlock()
		return
	}
	delete(m.hidden, messageID)
	if r.Success {
		m.removeLocked(messageID)
	}
	m.mu.Unlock()

	m.notify()
	if !r.Success {
		m.notice("Delete failed; message restored")
	}
}

// removeLocked drops a message from the list by id.
func (m *Manager) removeLocked(messageID string) {
	for i, msg := range m.msgs {
		if msg.ID == messageID {
			m.msgs = append(m.msgs[:i], m.msgs[i+1:]...)
			return
		}
	}
}

// =============================================================================
// TYPING
// =============================================================================

// InputActivity records a keystroke in the composer. The first keystroke
// emits a typing signal immediately; the stop signal fires after the idle
// window elapses with no further activity.
func (m *Manager) InputActivity() {
	m.mu.Lock()
	if m.active == "" {
		m.mu.Unlock()
		return
	}
	conversationID := m.active
	start := !m.typingActive
	m.typingActive = true
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingTimer = time.AfterFunc(m.typingIdle, m.typingIdleElapsed)
	m.mu.Unlock()

	if start {
		m.emitter.Emit(socket.EventTyping, socket.TypingPayload{
			ConversationID: conversationID,
			IsTyping:       true,
		})
	}
}

// typingIdleElapsed fires when the composer has been idle long enough.
func (m *Manager) typingIdleElapsed() {
	m.mu.Lock()
	if !m.typingActive {
		m.mu.Unlock()
		return
	}
	m.typingActive = false
	conversationID := m.active
	m.mu.Unlock()

	if conversationID != "" {
		m.emitter.Emit(socket.EventTyping, socket.TypingPayload{
			ConversationID: conversationID,
			IsTyping:       false,
		})
	}
}

// stopTyping cancels the idle timer and emits a stop signal if one is due.
func (m *Manager) stopTyping() {
	m.mu.Lock()
	conversationID, wasActive := m.stopTypingLockedState()
	m.mu.Unlock()

	if wasActive && conversationID != "" {
		m.emitter.Emit(socket.EventTyping, socket.TypingPayload{
			ConversationID: conversationID,
			IsTyping:       false,
		})
	}
}

// stopTypingLocked silences the typing state without emitting. Used on
// switch, where the leave already ends the old room's signals.
func (m *Manager) stopTypingLocked() {
	m.stopTypingLockedState()
}

func (m *Manager) stopTypingLockedState() (string, bool) {
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	wasActive := m.typingActive
	m.typingActive = false
	return m.active, wasActive
}

// =============================================================================
// READ RECEIPTS
// =============================================================================

// emitReadReceipts batches unread peer message ids into one markAsRead
// emission. Ids are tracked so each fires at most once per conversation.
func (m *Manager) emitReadReceipts() {
	m.mu.Lock()
	var unread []string
	for _, msg := range m.msgs {
		if msg.SenderID == m.userID {
			continue
		}
		if _, sent := m.readSent[msg.ID]; sent {
			continue
		}
		m.readSent[msg.ID] = struct{}{}
		unread = append(unread, msg.ID)
	}
	conversationID := m.active
	m.mu.Unlock()

	if len(unread) == 0 || conversationID == "" {
		return
	}
	m.emitter.Emit(socket.EventMarkAsRead, socket.ReadPayload{
		MessageIDs:     unread,
		ConversationID: conversationID,
	})
}

// =============================================================================
// INBOUND EVENTS (socket.Handler)
// =============================================================================

// HandlePresence routes the presence broadcast to the conversation list.
func (m *Manager) HandlePresence(userIDs []string) {
	m.convs.SetPresence(userIDs)
}

// HandleNewMessage processes an inbound message broadcast. The local
// user's own echo reconciles an optimistic placeholder; a peer message is
// appended and acknowledged with a read receipt. Messages for inactive
// conversations only patch the list preview.
func (m *Manager) HandleNewMessage(msg *model.Message) {
	m.convs.ApplyMessage(msg)

	m.mu.Lock()
	if msg.ConversationID != m.active {
		m.mu.Unlock()
		return
	}

	if msg.SenderID == m.userID {
		if placeholder := m.matchPlaceholderLocked(msg); placeholder != nil {
			if placeholder.ID == m.inFlightID {
				m.inFlight = false
				m.inFlightID = ""
			}
			m.confirmLocked(placeholder, msg)
		} else if !m.containsLocked(msg.ID) {
			echo := msg.Clone()
			echo.Status = model.StatusSent
			m.msgs = append(m.msgs, echo)
		}
		m.mu.Unlock()
		m.notify()
		return
	}

	if m.containsLocked(msg.ID) {
		m.mu.Unlock()
		return
	}
	inbound := msg.Clone()
	m.msgs = append(m.msgs, inbound)
	m.peerTyping = false
	m.mu.Unlock()

	m.notify()
	m.emitReadReceipts()
}

// matchPlaceholderLocked finds the optimistic placeholder an echo belongs
// to: exact idempotency-token match first, then the oldest placeholder
// with the same body for servers that drop the token. The body fallback
// covers any message still carrying a local id, including one an earlier
// bare ack already confirmed in place, so the echo never duplicates it.
func (m *Manager) matchPlaceholderLocked(echo *model.Message) *model.Message {
	if echo.Token != "" {
		for _, msg := range m.msgs {
			if msg.IsLocal() && msg.Token == echo.Token {
				return msg
			}
		}
		return nil
	}
	for _, msg := range m.msgs {
		if msg.IsLocal() && msg.Body == echo.Body && msg.Kind == echo.Kind {
			return msg
		}
	}
	return nil
}

// containsLocked reports whether a message id is already in the list.
func (m *Manager) containsLocked(id string) bool {
	for _, msg := range m.msgs {
		if msg.ID == id {
			return true
		}
	}
	return false
}

// HandleMessageDeleted removes a message deleted by the server.
func (m *Manager) HandleMessageDeleted(messageID string) {
	m.mu.Lock()
	delete(m.hidden, messageID)
	m.removeLocked(messageID)
	m.mu.Unlock()
	m.notify()
}

// HandleTyping updates the peer typing indicator; signals for inactive
// conversations are dropped.
func (m *Manager) HandleTyping(conversationID string, isTyping bool) {
	m.mu.Lock()
	if conversationID != m.active {
		m.mu.Unlock()
		return
	}
	m.peerTyping = isTyping
	m.mu.Unlock()
	m.notify()
}

// HandleMessageStatus patches a message's delivery status. Transitions
// are monotonic: a message never moves backwards from read.
func (m *Manager) HandleMessageStatus(messageID string, status model.Status) {
	m.mu.Lock()
	var changed bool
	for _, msg := range m.msgs {
		if msg.ID != messageID {
			continue
		}
		if statusRank(status) > statusRank(msg.Status) {
			msg.Status = status
			msg.UpdatedAt = time.Now()
			changed = true
		}
		break
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

// HandleReconnect re-synchronizes the active conversation after the
// transport recovered. The room re-join already happened in the socket
// layer; the history refresh picks up anything broadcast while offline.
func (m *Manager) HandleReconnect() {
	m.mu.Lock()
	conversationID := m.active
	m.mu.Unlock()
	if conversationID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.refreshHistory(ctx, conversationID)
	}()
}

// =============================================================================
// INTERNAL
// =============================================================================

// statusRank orders delivery states for monotonic patching.
func statusRank(s model.Status) int {
	switch s {
	case model.StatusSending:
		return 0
	case model.StatusError:
		return 0
	case model.StatusSent:
		return 1
	case model.StatusDelivered:
		return 2
	case model.StatusRead:
		return 3
	default:
		return -1
	}
}

// notify invokes the change callback outside the lock.
func (m *Manager) notify() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// notice delivers a user-facing note outside the lock.
func (m *Manager) notice(text string) {
	m.mu.Lock()
	fn := m.onNotice
	m.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}
