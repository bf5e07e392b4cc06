// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Fetcher is the slice of the REST client the store needs. Satisfied by
// *api.Client.
type Fetcher interface {
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// =============================================================================
// STORE
// =============================================================================

// DefaultPollInterval is the fallback reconciliation cadence when none is
// configured.
const DefaultPollInterval = 30 * time.Second

// Store owns the conversation list and the presence set.
type Store struct {
	mu       sync.Mutex
	convs    []*model.Conversation
	presence model.Presence
	loadErr  error
	loaded   bool

	userID  string
	fetcher Fetcher
	cache   *Cache
	logger  *log.Logger

	pollInterval time.Duration
	pollCancel   context.CancelFunc

	// onUpdate fires after every mutation, outside the lock.
	onUpdate func()
}

// Options configures a Store.
type Options struct {
	UserID       string
	Fetcher      Fetcher
	Cache        *Cache // optional; nil disables persistence
	PollInterval time.Duration
	Logger       *log.Logger
	OnUpdate     func()
}

// New creates a Store. The conversation list is empty until Load or
// WarmStart runs.
func New(opts Options) *Store {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Store{
		presence:     model.Presence{},
		userID:       opts.UserID,
		fetcher:      opts.Fetcher,
		cache:        opts.Cache,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		onUpdate:     opts.OnUpdate,
	}
}

// SetOnUpdate installs the update callback. Call before Load or
// StartPolling.
func (s *Store) SetOnUpdate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// =============================================================================
// LOADING
// =============================================================================

// WarmStart populates the list from the preview cache so the UI has
// something to render while Load runs. It is a no-op without a cache or
// once a network load has completed.
func (s *Store) WarmStart() {
	if s.cache == nil {
		return
	}
	convs, err := s.cache.Load()
	if err != nil {
		s.logger.Printf("store: warm start skipped: %v", err)
		return
	}
	if len(convs) == 0 {
		return
	}

	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.convs = convs
	s.mu.Unlock()

	s.notify()
}

// Load fetches the conversation list and derives each conversation's
// preview from its message history. Histories are fetched concurrently;
// a conversation with empty history gets no preview. A failure to fetch
// the list itself puts the store in an error state with an empty list.
func (s *Store) Load(ctx context.Context) error {
	convs, err := s.fetcher.ListConversations(ctx, s.userID)
	if err != nil {
		s.mu.Lock()
		s.convs = nil
		s.loadErr = err
		s.mu.Unlock()
		s.notify()
		return err
	}

	var wg sync.WaitGroup
	for _, conv := range convs {
		wg.Add(1)
		go func(conv *model.Conversation) {
			defer wg.Done()
			history, err := s.fetcher.GetMessages(ctx, conv.ID)
			if err != nil {
				s.logger.Printf("store: history fetch for %s failed: %v", conv.ID, err)
				return
			}
			if len(history) == 0 {
				return
			}
			conv.SetPreview(history[len(history)-1])
		}(conv)
	}
	wg.Wait()

	model.SortConversations(convs)

	s.mu.Lock()
	s.convs = convs
	s.loadErr = nil
	s.loaded = true
	s.mu.Unlock()

	s.persist()
	s.notify()
	return nil
}

// Err returns the error from the last failed load, nil after a success.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// =============================================================================
// READS
// =============================================================================

// Snapshot returns a deep copy of the current conversation list in display
// order.
func (s *Store) Snapshot() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Conversation, len(s.convs))
	for i, conv := range s.convs {
		out[i] = conv.Clone()
	}
	return out
}

// Get returns a copy of a single conversation, or nil if unknown.
func (s *Store) Get(conversationID string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.ID == conversationID {
			return conv.Clone()
		}
	}
	return nil
}

// Online reports whether a user is in the current presence set.
func (s *Store) Online(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Online(userID)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// ApplyMessage patches the preview of the message's conversation and
// re-sorts the list. Messages for unknown conversations are ignored; the
// next poll or reload picks the new conversation up.
func (s *Store) ApplyMessage(msg *model.Message) {
	s.mu.Lock()
	patched := false
	for _, conv := range s.convs {
		if conv.ID == msg.ConversationID {
			conv.SetPreview(msg)
			patched = true
			break
		}
	}
	if patched {
		model.SortConversations(s.convs)
	}
	s.mu.Unlock()

	if patched {
		s.persist()
		s.notify()
	}
}

// SetPresence replaces the presence set wholesale from a broadcast.
func (s *Store) SetPresence(userIDs []string) {
	s.mu.Lock()
	s.presence = model.NewPresence(userIDs)
	s.mu.Unlock()
	s.notify()
}

// =============================================================================
// POLLING
// =============================================================================

// StartPolling begins periodic reloads of the conversation list. Polling
// is the fallback reconciliation path for anything the realtime channel
// missed; it runs until StopPolling or the context ends.
func (s *Store) StartPolling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.pollCancel != nil {
		s.pollCancel()
	}
	s.pollCancel = cancel
	interval := s.pollInterval
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Load(ctx); err != nil {
					s.logger.Printf("store: poll reload failed: %v", err)
				}
			}
		}
	}()
}

// StopPolling halts the poll loop if one is running.
func (s *Store) StopPolling() {
	s.mu.Lock()
	cancel := s.pollCancel
	s.pollCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// INTERNAL
// =============================================================================

// persist writes the current list to the preview cache, best-effort.
func (s *Store) persist() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	convs := make([]*model.Conversation, len(s.convs))
	for i, conv := range s.convs {
		convs[i] = conv.Clone()
	}
	s.mu.Unlock()

	if err := s.cache.Save(convs); err != nil {
		s.logger.Printf("store: cache write failed: %v", err)
	}
}

// notify invokes the update callback outside the lock.
func (s *Store) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
