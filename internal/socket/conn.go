// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package socket provides the realtime connection manager for peerchat.
package socket

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// Connection tuning constants.
const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before declaring the
	// connection dead. pingPeriod must be shorter than pongWait.
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// sendQueueSize bounds the outbound frame queue. A full queue fails
	// the emit rather than blocking the caller.
	sendQueueSize = 64
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoIdentity indicates Connect was called without a user id.
	ErrNoIdentity = errors.New("no authenticated identity; not connecting")

	// ErrNotConnected indicates an emit was attempted with no live
	// connection.
	ErrNotConnected = errors.New("not connected to chat server")

	// ErrClosed indicates the connection manager has been shut down.
	ErrClosed = errors.New("connection closed")

	// ErrQueueFull indicates the outbound queue is saturated.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrAckTimeout indicates a request never received its acknowledgment.
	ErrAckTimeout = errors.New("acknowledgment timed out")
)

// =============================================================================
// CONNECTION MANAGER
// =============================================================================

// pendingAck tracks an emit-with-ack request until the server's ack frame
// (or the timeout) resolves it.
type pendingAck struct {
	cb    func(AckResult)
	timer *time.Timer
}

// Conn owns one persistent bidirectional connection per authenticated
// session. A single writer goroutine owns all frame writes; the read loop
// is the single dispatch point for inbound events.
type Conn struct {
	url     string
	userID  string
	handler Handler
	logger  *log.Logger

	// Bounded reconnection policy: fixed delay, finite attempts.
	maxAttempts int
	retryDelay  time.Duration

	mu      sync.Mutex
	ws      *websocket.Conn
	sendq   chan []byte
	acks    map[string]*pendingAck
	active  string // currently joined conversation id
	closed  bool
	done    chan struct{}
	gen     int // connection generation; stale pumps exit quietly
	onError func(error)
}

// Options configures a connection manager.
type Options struct {
	// URL is the websocket endpoint.
	URL string
	// UserID identifies the local user. Required.
	UserID string
	// Handler receives inbound events. Required.
	Handler Handler
	// ReconnectAttempts bounds automatic reconnection (0 disables it).
	ReconnectAttempts int
	// ReconnectDelay is the fixed delay between attempts.
	ReconnectDelay time.Duration
	// Logger receives lifecycle diagnostics. Optional.
	Logger *log.Logger
	// OnError is invoked when the connection is lost for good. Optional.
	OnError func(error)
}

// New creates a connection manager. It does not dial; call Connect.
func New(opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[socket] ", log.LstdFlags)
	}
	return &Conn{
		url:         opts.URL,
		userID:      opts.UserID,
		handler:     opts.Handler,
		logger:      logger,
		maxAttempts: opts.ReconnectAttempts,
		retryDelay:  opts.ReconnectDelay,
		acks:        make(map[string]*pendingAck),
		done:        make(chan struct{}),
		onError:     opts.OnError,
	}
}

// SetHandler installs the inbound event sink. Call before Connect.
func (c *Conn) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// SetOnError installs the terminal-failure callback, invoked when the
// connection is lost and reconnection attempts are exhausted. Call before
// Connect.
func (c *Conn) SetOnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Connect opens the connection, parameterized by the local user id.
// Without an identity it refuses to connect and returns ErrNoIdentity.
func (c *Conn) Connect() error {
	if c.userID == "" {
		return ErrNoIdentity
	}

	ws, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.gen++
	gen := c.gen
	c.sendq = make(chan []byte, sendQueueSize)
	sendq := c.sendq
	c.mu.Unlock()

	go c.writeLoop(ws, sendq)
	go c.readLoop(ws, gen)
	return nil
}

// dial opens a websocket to the server with the user id attached.
func (c *Conn) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("userId", c.userID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Close tears down the connection. Nothing buffered outbound is flushed;
// anything in flight at teardown is lost.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	close(c.done)
	pending := c.acks
	c.acks = make(map[string]*pendingAck)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
	}
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// =============================================================================
// OUTBOUND
// =============================================================================

// Emit sends a fire-and-forget event (typing, join/leave).
func (c *Conn) Emit(event string, payload interface{}) error {
	return c.emit(envelope{Event: event}, payload)
}

// EmitWithAck sends an event and registers a callback for the server's
// acknowledgment. If no ack arrives within timeout the callback fires with
// a failed AckResult; the callback is invoked exactly once either way.
func (c *Conn) EmitWithAck(event string, payload interface{}, timeout time.Duration, cb func(AckResult)) error {
	ackID := uuid.NewString()

	p := &pendingAck{cb: cb}
	p.timer = time.AfterFunc(timeout, func() {
		if c.takeAck(ackID) != nil {
			cb(AckResult{Success: false, Error: ErrAckTimeout.Error()})
		}
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.timer.Stop()
		return ErrClosed
	}
	c.acks[ackID] = p
	c.mu.Unlock()

	if err := c.emit(envelope{Event: event, Ack: ackID}, payload); err != nil {
		if c.takeAck(ackID) != nil {
			p.timer.Stop()
		}
		return err
	}
	return nil
}

// JoinConversation subscribes to a conversation's room and remembers it as
// active so that a reconnect can restore membership.
func (c *Conn) JoinConversation(conversationID string) error {
	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()
	return c.Emit(EventJoinConversation, JoinPayload{ConversationID: conversationID})
}

// LeaveConversation unsubscribes from a conversation's room.
func (c *Conn) LeaveConversation(conversationID string) error {
	c.mu.Lock()
	if c.active == conversationID {
		c.active = ""
	}
	c.mu.Unlock()
	return c.Emit(EventLeaveConversation, JoinPayload{ConversationID: conversationID})
}

// emit queues one frame for the writer goroutine.
func (c *Conn) emit(env envelope, payload interface{}) error {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ws == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sendq := c.sendq
	c.mu.Unlock()

	select {
	case sendq <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// writeLoop is the sole writer for one connection generation. It also
// drives the ping keepalive.
func (c *Conn) writeLoop(ws *websocket.Conn, sendq chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-sendq:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Printf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// =============================================================================
// INBOUND
// =============================================================================

// readLoop is the single dispatch point for inbound events. On read
// failure it hands off to the bounded reconnect loop.
func (c *Conn) readLoop(ws *websocket.Conn, gen int) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.closed || gen != c.gen
			c.mu.Unlock()
			if stale {
				return
			}
			c.logger.Printf("read failed: %v", err)
			c.reconnect()
			return
		}

		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Printf("bad frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch decodes one inbound frame into a typed payload and forwards it.
func (c *Conn) dispatch(env envelope) {
	switch env.Event {
	case EventAck:
		var res AckResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			c.logger.Printf("bad ack payload: %v", err)
			return
		}
		if p := c.takeAck(env.Ack); p != nil {
			p.timer.Stop()
			p.cb(res)
		}

	case EventOnlineUsers:
		var ids []string
		if json.Unmarshal(env.Data, &ids) == nil {
			c.handler.HandlePresence(ids)
		}

	case EventNewMessage:
		var msg model.Message
		if json.Unmarshal(env.Data, &msg) == nil {
			c.handler.HandleNewMessage(&msg)
		}

	case EventMessageDeleted:
		var p DeletedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.HandleMessageDeleted(p.MessageID)
		}

	case EventUserTyping:
		var p TypingPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.HandleTyping(p.ConversationID, p.IsTyping)
		}

	case EventMessageStatus:
		var p StatusPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.HandleMessageStatus(p.MessageID, p.Status)
		}

	default:
		c.logger.Printf("unknown event %q", env.Event)
	}
}

// takeAck removes and returns a pending ack, or nil if already resolved.
func (c *Conn) takeAck(ackID string) *pendingAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.acks[ackID]
	if !ok {
		return nil
	}
	delete(c.acks, ackID)
	return p
}

// =============================================================================
// RECONNECTION
// =============================================================================

// reconnect retries the dial with a fixed delay up to the configured
// attempt count. On success it restores room membership for the active
// conversation and notifies the handler so state can be recovered.
func (c *Conn) reconnect() {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-time.After(c.retryDelay):
		case <-c.done:
			return
		}

		ws, err := c.dial()
		if err != nil {
			c.logger.Printf("reconnect attempt %d/%d failed: %v", attempt, c.maxAttempts, err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.ws = ws
		c.gen++
		gen := c.gen
		c.sendq = make(chan []byte, sendQueueSize)
		sendq := c.sendq
		active := c.active
		c.mu.Unlock()

		go c.writeLoop(ws, sendq)
		go c.readLoop(ws, gen)

		if active != "" {
			if err := c.Emit(EventJoinConversation, JoinPayload{ConversationID: active}); err != nil {
				c.logger.Printf("re-join failed: %v", err)
			}
		}
		c.logger.Printf("reconnected after %d attempt(s)", attempt)
		c.handler.HandleReconnect()
		return
	}

	c.logger.Printf("gave up reconnecting after %d attempts", c.maxAttempts)
	c.mu.Lock()
	c.ws = nil
	onError := c.onError
	c.mu.Unlock()
	if onError != nil {
		onError(ErrNotConnected)
	}
}
