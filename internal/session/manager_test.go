// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/peerchat-tui/internal/model"
	"github.com/jeranaias/peerchat-tui/internal/socket"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type emitted struct {
	event   string
	payload interface{}
}

type pendingEmit struct {
	event   string
	payload interface{}
	cb      func(socket.AckResult)
}

// fakeEmitter records emissions and lets tests resolve acks by hand.
type fakeEmitter struct {
	mu      sync.Mutex
	joins   []string
	leaves  []string
	emits   []emitted
	pending []pendingEmit
	emitErr error
}

func (f *fakeEmitter) JoinConversation(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	return nil
}

func (f *fakeEmitter) LeaveConversation(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, id)
	return nil
}

func (f *fakeEmitter) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event, payload})
	return nil
}

func (f *fakeEmitter) EmitWithAck(event string, payload interface{}, timeout time.Duration, cb func(socket.AckResult)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.pending = append(f.pending, pendingEmit{event, payload, cb})
	return nil
}

// resolve acks the i-th pending emission.
func (f *fakeEmitter) resolve(t *testing.T, i int, r socket.AckResult) {
	t.Helper()
	f.mu.Lock()
	if i >= len(f.pending) {
		f.mu.Unlock()
		t.Fatalf("no pending emission %d (have %d)", i, len(f.pending))
	}
	cb := f.pending[i].cb
	f.mu.Unlock()
	cb(r)
}

func (f *fakeEmitter) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeEmitter) sentPayload(t *testing.T, i int) *model.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.pending[i].payload.(*model.Message)
	if !ok {
		t.Fatalf("payload %d is %T, not a message", i, f.pending[i].payload)
	}
	return msg
}

func (f *fakeEmitter) emitsOf(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeHistory serves canned message history.
type fakeHistory struct {
	mu        sync.Mutex
	histories map[string][]*model.Message
}

func (f *fakeHistory) GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.histories[conversationID]
	out := make([]*model.Message, len(src))
	for i, m := range src {
		out[i] = m.Clone()
	}
	return out, nil
}

// fakeUploader returns a fixed URL and counts calls.
type fakeUploader struct {
	mu    sync.Mutex
	calls int
	url   string
	err   error
}

func (f *fakeUploader) UploadImage(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// fakeSink records conversation-list routing.
type fakeSink struct {
	mu       sync.Mutex
	applied  []*model.Message
	presence [][]string
}

func (f *fakeSink) ApplyMessage(msg *model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, msg.Clone())
}

func (f *fakeSink) SetPresence(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, ids)
}

type fixture struct {
	mgr     *Manager
	emitter *fakeEmitter
	history *fakeHistory
	upload  *fakeUploader
	sink    *fakeSink

	noticeMu sync.Mutex
	notices  []string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		emitter: &fakeEmitter{},
		history: &fakeHistory{histories: map[string][]*model.Message{}},
		upload:  &fakeUploader{url: "https://cdn/img.png"},
		sink:    &fakeSink{},
	}
	opts.UserID = "me"
	opts.Emitter = f.emitter
	opts.History = f.history
	opts.Upload = f.upload
	opts.Convs = f.sink
	opts.OnNotice = func(text string) {
		f.noticeMu.Lock()
		f.notices = append(f.notices, text)
		f.noticeMu.Unlock()
	}
	f.mgr = NewManager(opts)
	return f
}

func (f *fixture) noticeCount() int {
	f.noticeMu.Lock()
	defer f.noticeMu.Unlock()
	return len(f.notices)
}

func (f *fixture) switchTo(t *testing.T, convID, peerID string) {
	t.Helper()
	conv := &model.Conversation{ID: convID, Peer: model.Peer{ID: peerID}}
	if err := f.mgr.Switch(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
}

func peerMsg(id, convID, body string) *model.Message {
	return &model.Message{
		ID: id, ConversationID: convID, SenderID: "peer", ReceiverID: "me",
		Body: body, Kind: model.KindText, CreatedAt: time.Now(),
	}
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_OptimisticRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	if err := f.mgr.Send("hello"); err != nil {
		t.Fatal(err)
	}

	msgs := f.mgr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d", len(msgs))
	}
	if !msgs[0].IsLocal() || msgs[0].Status != model.StatusSending {
		t.Errorf("placeholder = %+v", msgs[0])
	}
	sent := f.emitter.sentPayload(t, 0)
	if sent.Token == "" {
		t.Error("outbound message missing idempotency token")
	}

	// Server ack replaces the placeholder in place.
	f.emitter.resolve(t, 0, socket.AckResult{
		Success: true,
		Message: &model.Message{ID: "srv-1", Body: "hello"},
	})

	msgs = f.mgr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("ack must replace, not append: len = %d", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Status != model.StatusSent || msgs[0].IsLocal() {
		t.Errorf("confirmed = %+v", msgs[0])
	}
	if f.mgr.SendInFlight() {
		t.Error("guard not released after ack")
	}
}

func TestSend_WhitespaceIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	if err := f.mgr.Send("   \n\t "); err != nil {
		t.Fatal(err)
	}
	if len(f.mgr.Messages()) != 0 || f.emitter.pendingCount() != 0 {
		t.Error("whitespace send must not append or emit")
	}
}

func TestSend_SingleInFlight(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	if err := f.mgr.Send("one"); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.Send("two"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("second send: want ErrSendInFlight, got %v", err)
	}

	// Any outcome frees the slot, including failure.
	f.emitter.resolve(t, 0, socket.AckResult{Success: false, Error: "nope"})
	if err := f.mgr.Send("two"); err != nil {
		t.Fatalf("send after resolution: %v", err)
	}
}

func TestSend_GuardReleasedOnEmitFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	f.emitter.mu.Lock()
	f.emitter.emitErr = socket.ErrQueueFull
	f.emitter.mu.Unlock()

	if err := f.mgr.Send("hello"); err == nil {
		t.Fatal("expected emit failure")
	}
	if f.mgr.SendInFlight() {
		t.Error("guard must be released on synchronous emit failure")
	}
	msgs := f.mgr.Messages()
	if len(msgs) != 1 || msgs[0].Status != model.StatusError {
		t.Errorf("failed emit must leave an error message, got %+v", msgs)
	}
}

func TestSend_AckTimeoutMarksError(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("hello")

	// The socket layer reports timeouts through the same callback.
	f.emitter.resolve(t, 0, socket.AckResult{Success: false, Error: socket.ErrAckTimeout.Error()})

	msgs := f.mgr.Messages()
	if msgs[0].Status != model.StatusError {
		t.Errorf("status = %s, want error", msgs[0].Status)
	}
	if f.mgr.SendInFlight() {
		t.Error("guard not released on timeout")
	}
}

func TestSend_PatchesConversationPreview(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("hello")

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.applied) != 1 || f.sink.applied[0].Body != "hello" {
		t.Errorf("preview patch = %+v", f.sink.applied)
	}
}

// =============================================================================
// RECONCILIATION TESTS
// =============================================================================

func TestReconcile_ByTokenFromEcho(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("alpha")
	token := f.emitter.sentPayload(t, 0).Token

	// The broadcast echo arrives before the ack.
	f.mgr.HandleNewMessage(&model.Message{
		ID: "srv-9", ConversationID: "c1", SenderID: "me",
		Body: "alpha", Kind: model.KindText, Token: token,
	})

	msgs := f.mgr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("echo must reconcile, not append: len = %d", len(msgs))
	}
	if msgs[0].ID != "srv-9" || msgs[0].Status != model.StatusSent {
		t.Errorf("reconciled = %+v", msgs[0])
	}
	if f.mgr.SendInFlight() {
		t.Error("echo reconciliation must free the in-flight slot")
	}

	// The late ack only releases the already-free guard.
	f.emitter.resolve(t, 0, socket.AckResult{Success: true})
	if got := f.mgr.Messages(); len(got) != 1 || got[0].ID != "srv-9" {
		t.Errorf("late ack corrupted the list: %+v", got)
	}
}

func TestReconcile_DistinctBodiesMatchTheirOwnTokens(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	f.mgr.Send("alpha")
	tokenA := f.emitter.sentPayload(t, 0).Token
	f.mgr.HandleNewMessage(&model.Message{
		ID: "srv-a", ConversationID: "c1", SenderID: "me", Body: "alpha", Token: tokenA,
	})

	f.mgr.Send("beta")
	tokenB := f.emitter.sentPayload(t, 1).Token
	f.mgr.HandleNewMessage(&model.Message{
		ID: "srv-b", ConversationID: "c1", SenderID: "me", Body: "beta", Token: tokenB,
	})

	msgs := f.mgr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].ID != "srv-a" || msgs[0].Body != "alpha" {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].ID != "srv-b" || msgs[1].Body != "beta" {
		t.Errorf("second = %+v", msgs[1])
	}
}

func TestReconcile_BodyFallbackWhenServerDropsToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("dup")

	f.mgr.HandleNewMessage(&model.Message{
		ID: "srv-1", ConversationID: "c1", SenderID: "me",
		Body: "dup", Kind: model.KindText,
	})

	msgs := f.mgr.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Errorf("tokenless echo must match the pending placeholder by body: %+v", msgs)
	}
}

func TestReconcile_ForeignEchoAppends(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	// Own message sent from another device: no local placeholder.
	f.mgr.HandleNewMessage(&model.Message{
		ID: "srv-5", ConversationID: "c1", SenderID: "me", Body: "elsewhere", Token: "other-token",
	})

	msgs := f.mgr.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-5" || msgs[0].Status != model.StatusSent {
		t.Errorf("foreign echo = %+v", msgs)
	}
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestRetry_Transitions(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("hello")
	original := f.emitter.sentPayload(t, 0)

	f.emitter.resolve(t, 0, socket.AckResult{Success: false, Error: "nope"})
	msgs := f.mgr.Messages()
	if msgs[0].Status != model.StatusError {
		t.Fatalf("status = %s, want error", msgs[0].Status)
	}

	if err := f.mgr.Retry(msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	msgs = f.mgr.Messages()
	if msgs[0].Status != model.StatusSending {
		t.Errorf("retry status = %s, want sending", msgs[0].Status)
	}

	resent := f.emitter.sentPayload(t, 1)
	if resent.ID != original.ID || resent.Token != original.Token {
		t.Error("retry must reuse the original id and token")
	}

	f.emitter.resolve(t, 1, socket.AckResult{Success: true, Message: &model.Message{ID: "srv-2"}})
	if got := f.mgr.Messages(); got[0].Status != model.StatusSent {
		t.Errorf("status after retry ack = %s", got[0].Status)
	}
}

func TestRetry_OnlyFromError(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("hello")

	f.emitter.resolve(t, 0, socket.AckResult{Success: true, Message: &model.Message{ID: "srv-1"}})

	if err := f.mgr.Retry("srv-1"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("want ErrNotRetryable, got %v", err)
	}
	if err := f.mgr.Retry("missing"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("want ErrUnknownMessage, got %v", err)
	}
}

// =============================================================================
// SWITCH TESTS
// =============================================================================

func TestSwitch_IsolatesConversations(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.histories["c1"] = []*model.Message{peerMsg("h1", "c1", "old history")}
	f.switchTo(t, "c1", "peer")

	if got := f.mgr.Messages(); len(got) != 1 || got[0].Body != "old history" {
		t.Fatalf("history = %+v", got)
	}

	// A message for another conversation never reaches the active list,
	// but still patches the conversation preview.
	f.mgr.HandleNewMessage(peerMsg("x1", "c2", "elsewhere"))
	if got := f.mgr.Messages(); len(got) != 1 {
		t.Errorf("inactive-conversation message leaked into the session: %+v", got)
	}
	f.sink.mu.Lock()
	applied := len(f.sink.applied)
	f.sink.mu.Unlock()
	if applied != 1 {
		t.Errorf("preview patches = %d, want 1", applied)
	}

	// Switching replaces the list wholesale.
	f.history.histories["c2"] = []*model.Message{peerMsg("h2", "c2", "other history")}
	f.switchTo(t, "c2", "peer2")
	got := f.mgr.Messages()
	if len(got) != 1 || got[0].Body != "other history" {
		t.Errorf("post-switch list = %+v", got)
	}

	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	if len(f.emitter.leaves) != 1 || f.emitter.leaves[0] != "c1" {
		t.Errorf("leaves = %v", f.emitter.leaves)
	}
	if len(f.emitter.joins) != 2 || f.emitter.joins[1] != "c2" {
		t.Errorf("joins = %v", f.emitter.joins)
	}
}

func TestSwitch_SameConversationIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.switchTo(t, "c1", "peer")

	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	if len(f.emitter.joins) != 1 {
		t.Errorf("joins = %v, re-switch must not rejoin", f.emitter.joins)
	}
}

func TestSwitch_ClearsTypingFlag(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.HandleTyping("c1", true)
	if !f.mgr.PeerTyping() {
		t.Fatal("typing flag not set")
	}

	f.switchTo(t, "c2", "peer2")
	if f.mgr.PeerTyping() {
		t.Error("typing flag must be cleared on switch")
	}
}

// =============================================================================
// TYPING DEBOUNCE TESTS
// =============================================================================

func TestTyping_DebouncedStartStop(t *testing.T) {
	f := newFixture(t, Options{TypingIdle: 40 * time.Millisecond})
	f.switchTo(t, "c1", "peer")

	// A burst of keystrokes emits exactly one start signal.
	f.mgr.InputActivity()
	f.mgr.InputActivity()
	f.mgr.InputActivity()

	signals := f.emitter.emitsOf(socket.EventTyping)
	if len(signals) != 1 {
		t.Fatalf("typing signals = %d, want 1", len(signals))
	}
	if p := signals[0].payload.(socket.TypingPayload); !p.IsTyping {
		t.Error("first signal must be typing:true")
	}

	// The stop signal fires once the idle window elapses.
	deadline := time.After(2 * time.Second)
	for {
		signals = f.emitter.emitsOf(socket.EventTyping)
		if len(signals) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("typing:false never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if p := signals[1].payload.(socket.TypingPayload); p.IsTyping {
		t.Error("second signal must be typing:false")
	}
}

func TestTyping_KeystrokeResetsIdleTimer(t *testing.T) {
	f := newFixture(t, Options{TypingIdle: 60 * time.Millisecond})
	f.switchTo(t, "c1", "peer")

	f.mgr.InputActivity()
	time.Sleep(35 * time.Millisecond)
	f.mgr.InputActivity() // resets the window
	time.Sleep(35 * time.Millisecond)

	// 70ms total elapsed but only 35ms idle: no stop signal yet.
	if got := f.emitter.emitsOf(socket.EventTyping); len(got) != 1 {
		t.Errorf("signals = %d, keystroke must reset the idle timer", len(got))
	}
}

// =============================================================================
// IMAGE TESTS
// =============================================================================

func TestSendImage_OversizedRejectedBeforeUpload(t *testing.T) {
	f := newFixture(t, Options{MaxImageBytes: 5 * 1024 * 1024})
	f.switchTo(t, "c1", "peer")

	err := f.mgr.SendImage(context.Background(), "big.png", strings.NewReader(""), 6*1024*1024)
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("want ErrImageTooLarge, got %v", err)
	}
	f.upload.mu.Lock()
	calls := f.upload.calls
	f.upload.mu.Unlock()
	if calls != 0 {
		t.Error("oversized image must never reach the uploader")
	}
	if len(f.mgr.Messages()) != 0 {
		t.Error("oversized image must not create a placeholder")
	}
	if f.mgr.SendInFlight() {
		t.Error("guard must stay free after rejection")
	}
}

func TestSendImage_UploadThenSend(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")

	if err := f.mgr.SendImage(context.Background(), "pic.png", strings.NewReader("bytes"), 5); err != nil {
		t.Fatal(err)
	}

	sent := f.emitter.sentPayload(t, 0)
	if sent.Kind != model.KindImage || sent.Body != "https://cdn/img.png" {
		t.Errorf("outbound image = %+v", sent)
	}

	f.emitter.resolve(t, 0, socket.AckResult{Success: true, Message: &model.Message{ID: "srv-img"}})
	msgs := f.mgr.Messages()
	if msgs[0].ID != "srv-img" || msgs[0].Status != model.StatusSent {
		t.Errorf("confirmed image = %+v", msgs[0])
	}
}

func TestSendImage_UploadFailureMarksError(t *testing.T) {
	f := newFixture(t, Options{})
	f.upload.err = errors.New("cdn down")
	f.switchTo(t, "c1", "peer")

	if err := f.mgr.SendImage(context.Background(), "pic.png", strings.NewReader("bytes"), 5); err == nil {
		t.Fatal("expected upload error")
	}
	msgs := f.mgr.Messages()
	if len(msgs) != 1 || msgs[0].Status != model.StatusError {
		t.Errorf("failed upload = %+v", msgs)
	}
	if f.mgr.SendInFlight() {
		t.Error("guard not released after upload failure")
	}
}

// =============================================================================
// DELETE TESTS
// =============================================================================

func TestDelete_TombstoneFinalizedOnAck(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("bye")
	f.emitter.resolve(t, 0, socket.AckResult{Success: true, Message: &model.Message{ID: "srv-1"}})

	if err := f.mgr.Delete("srv-1"); err != nil {
		t.Fatal(err)
	}
	if len(f.mgr.Messages()) != 0 {
		t.Error("pending delete must hide the message immediately")
	}

	f.emitter.resolve(t, 1, socket.AckResult{Success: true})
	if len(f.mgr.Messages()) != 0 {
		t.Error("acked delete must stay gone")
	}
	if f.noticeCount() != 0 {
		t.Error("successful delete must not raise a notice")
	}
}

func TestDelete_RestoredOnFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("keep me")
	f.emitter.resolve(t, 0, socket.AckResult{Success: true, Message: &model.Message{ID: "srv-1"}})

	f.mgr.Delete("srv-1")
	f.emitter.resolve(t, 1, socket.AckResult{Success: false, Error: "denied"})

	msgs := f.mgr.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Errorf("failed delete must restore the message: %+v", msgs)
	}
	if f.noticeCount() != 1 {
		t.Error("failed delete must surface a notice")
	}
}

func TestDelete_OnlyOwnSettledMessages(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.histories["c1"] = []*model.Message{peerMsg("their-1", "c1", "hi")}
	f.switchTo(t, "c1", "peer")

	if err := f.mgr.Delete("their-1"); !errors.Is(err, ErrNotDeletable) {
		t.Errorf("peer message: want ErrNotDeletable, got %v", err)
	}

	f.mgr.Send("pending")
	pendingID := f.mgr.Messages()[1].ID
	if err := f.mgr.Delete(pendingID); !errors.Is(err, ErrNotDeletable) {
		t.Errorf("pending message: want ErrNotDeletable, got %v", err)
	}
}

// =============================================================================
// INBOUND STATUS AND RECEIPT TESTS
// =============================================================================

func TestHandleMessageStatus_MonotonicPatch(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.Send("hello")
	f.emitter.resolve(t, 0, socket.AckResult{Success: true, Message: &model.Message{ID: "srv-1"}})

	f.mgr.HandleMessageStatus("srv-1", model.StatusDelivered)
	if got := f.mgr.Messages()[0].Status; got != model.StatusDelivered {
		t.Errorf("status = %s", got)
	}

	f.mgr.HandleMessageStatus("srv-1", model.StatusRead)
	if got := f.mgr.Messages()[0].Status; got != model.StatusRead {
		t.Errorf("status = %s", got)
	}

	// A late delivered must not demote read.
	f.mgr.HandleMessageStatus("srv-1", model.StatusDelivered)
	if got := f.mgr.Messages()[0].Status; got != model.StatusRead {
		t.Errorf("read demoted to %s", got)
	}
}

func TestReadReceipts_BatchedOncePerMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.histories["c1"] = []*model.Message{
		peerMsg("p1", "c1", "one"),
		peerMsg("p2", "c1", "two"),
	}
	f.switchTo(t, "c1", "peer")

	reads := f.emitter.emitsOf(socket.EventMarkAsRead)
	if len(reads) != 1 {
		t.Fatalf("read emissions = %d, want 1 batch", len(reads))
	}
	batch := reads[0].payload.(socket.ReadPayload)
	if len(batch.MessageIDs) != 2 {
		t.Errorf("batch = %v", batch.MessageIDs)
	}

	// A new inbound message re-fires with only the new id.
	f.mgr.HandleNewMessage(peerMsg("p3", "c1", "three"))
	reads = f.emitter.emitsOf(socket.EventMarkAsRead)
	if len(reads) != 2 {
		t.Fatalf("read emissions = %d", len(reads))
	}
	batch = reads[1].payload.(socket.ReadPayload)
	if len(batch.MessageIDs) != 1 || batch.MessageIDs[0] != "p3" {
		t.Errorf("second batch = %v", batch.MessageIDs)
	}
}

func TestHandleNewMessage_PeerMessageClearsTyping(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	f.mgr.HandleTyping("c1", true)

	f.mgr.HandleNewMessage(peerMsg("p1", "c1", "done typing"))
	if f.mgr.PeerTyping() {
		t.Error("inbound peer message must clear the typing indicator")
	}
}

func TestHandleMessageDeleted_RemovesByID(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.histories["c1"] = []*model.Message{peerMsg("p1", "c1", "gone soon")}
	f.switchTo(t, "c1", "peer")

	f.mgr.HandleMessageDeleted("p1")
	if len(f.mgr.Messages()) != 0 {
		t.Error("deleted message still visible")
	}
}

func TestHandlePresence_RoutedToConversationList(t *testing.T) {
	f := newFixture(t, Options{})
	f.mgr.HandlePresence([]string{"a", "b"})

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.presence) != 1 || len(f.sink.presence[0]) != 2 {
		t.Errorf("presence routing = %v", f.sink.presence)
	}
}

// =============================================================================
// GUARD ISOLATION TESTS
// =============================================================================

func TestSend_StaleAckFromPreviousConversationKeepsGuard(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	if err := f.mgr.Send("first"); err != nil {
		t.Fatal(err)
	}

	f.switchTo(t, "c2", "peer2")
	if err := f.mgr.Send("second"); err != nil {
		t.Fatal(err)
	}

	// The ack for the abandoned c1 send arrives late. It must not free
	// the slot the c2 send is holding.
	f.emitter.resolve(t, 0, socket.AckResult{
		Success: true,
		Message: &model.Message{ID: "srv-old", Body: "first"},
	})
	if !f.mgr.SendInFlight() {
		t.Fatal("stale ack released the new conversation's guard")
	}
	if err := f.mgr.Send("third"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("send while pending: want ErrSendInFlight, got %v", err)
	}

	f.emitter.resolve(t, 1, socket.AckResult{
		Success: true,
		Message: &model.Message{ID: "srv-new", Body: "second"},
	})
	if f.mgr.SendInFlight() {
		t.Error("guard not released by its own ack")
	}
}

func TestReconcile_TokenlessEchoAfterBareAck(t *testing.T) {
	f := newFixture(t, Options{})
	f.switchTo(t, "c1", "peer")
	if err := f.mgr.Send("hi"); err != nil {
		t.Fatal(err)
	}

	// Ack succeeds without a server record: the placeholder keeps its
	// local id but settles as sent.
	f.emitter.resolve(t, 0, socket.AckResult{Success: true})

	f.mgr.HandleNewMessage(&model.Message{
		ID: "srv-1", ConversationID: "c1", SenderID: "me", ReceiverID: "peer",
		Body: "hi", Kind: model.KindText, CreatedAt: time.Now(),
	})

	msgs := f.mgr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("tokenless echo duplicated the message: %d entries", len(msgs))
	}
	if msgs[0].ID != "srv-1" {
		t.Errorf("id = %q, want the server id", msgs[0].ID)
	}
}

// =============================================================================
// SEARCH FILTER TESTS
// =============================================================================

func TestSetFilter_NarrowsTranscript(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.histories["c1"] = []*model.Message{
		peerMsg("p1", "c1", "the homework is due Friday"),
		peerMsg("p2", "c1", "see you then"),
	}
	f.switchTo(t, "c1", "peer")

	f.mgr.SetFilter("HOMEWORK")
	msgs := f.mgr.Messages()
	if len(msgs) != 1 || msgs[0].ID != "p1" {
		t.Fatalf("filtered transcript = %+v", msgs)
	}

	f.mgr.SetFilter("")
	if len(f.mgr.Messages()) != 2 {
		t.Error("clearing the filter must restore the full transcript")
	}
}

func TestSwitch_ClearsSearchFilter(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.histories["c1"] = []*model.Message{peerMsg("p1", "c1", "algebra")}
	f.history.histories["c2"] = []*model.Message{peerMsg("p2", "c2", "geometry")}
	f.switchTo(t, "c1", "peer")
	f.mgr.SetFilter("algebra")

	f.switchTo(t, "c2", "peer2")
	if f.mgr.Filter() != "" {
		t.Error("switching conversations must clear the search filter")
	}
	if len(f.mgr.Messages()) != 1 {
		t.Error("new conversation's transcript must be unfiltered")
	}
}
