// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// Config configures a Session.
type Config struct {
	// Gateway is the remote data gateway. Required.
	Gateway gateway.Gateway

	// Broadcaster carries typing signals. Nil uses Gateway.
	Broadcaster gateway.Broadcaster

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics

	TypingTopic           string
	TypingTimeout         time.Duration
	TypingPublishInterval time.Duration
	SearchLimit           int
	LoadConcurrency       int

	// OnError receives failures that have no caller to return to:
	// loads during Start, reloads triggered by notifications, and
	// presence writes. It may be called from any goroutine.
	OnError func(error)
}

// Session is the sync state of one signed-in user. Construct it once
// per sign-in, call Start, and call Stop on sign-out.
type Session struct {
	store   gateway.Store
	logger  *slog.Logger
	onError func(error)

	directory     *Directory
	conversations *Conversations
	messages      *Messages
	typing        *Typing
	actions       *Actions

	listeners listeners

	mu      sync.Mutex
	userID  string
	self    chat.User
	stopped bool
	cancel  context.CancelFunc
}

// NewSession wires the components of a session. Nothing touches the
// gateway until Start.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("chatsync: Config.Gateway is required")
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = cfg.Gateway
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		store:  cfg.Gateway,
		logger: cfg.Logger,
	}
	s.onError = func(err error) {
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
	}
	emit := s.listeners.emit

	s.directory = NewDirectory(DirectoryConfig{
		Store:       cfg.Gateway,
		Notifier:    cfg.Gateway,
		Clock:       cfg.Clock,
		Logger:      cfg.Logger.With("component", "directory"),
		Metrics:     cfg.Metrics,
		SearchLimit: cfg.SearchLimit,
		OnChange:    emit,
	})
	s.conversations = NewConversations(ConversationsConfig{
		Store:       cfg.Gateway,
		Notifier:    cfg.Gateway,
		Clock:       cfg.Clock,
		Logger:      cfg.Logger.With("component", "conversations"),
		Metrics:     cfg.Metrics,
		Concurrency: cfg.LoadConcurrency,
		OnChange:    emit,
		OnError:     s.onError,
	})
	s.messages = NewMessages(MessagesConfig{
		Store:    cfg.Gateway,
		Notifier: cfg.Gateway,
		Logger:   cfg.Logger.With("component", "messages"),
		Metrics:  cfg.Metrics,
		OnChange: emit,
	})
	s.typing = NewTyping(TypingConfig{
		Broadcaster:     cfg.Broadcaster,
		Clock:           cfg.Clock,
		Logger:          cfg.Logger.With("component", "typing"),
		Metrics:         cfg.Metrics,
		Topic:           cfg.TypingTopic,
		Timeout:         cfg.TypingTimeout,
		PublishInterval: cfg.TypingPublishInterval,
		OnChange:        emit,
	})
	s.actions = NewActions(ActionsConfig{
		Store:    cfg.Gateway,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger.With("component", "actions"),
		Messages: s.messages,
	})
	return s, nil
}

// Start signs userID in: it marks the user online, loads the directory
// and conversation list, and subscribes to their changes and to the
// typing topic.
//
// Failures of individual steps are reported to OnError and do not
// abort Start; the caches that failed to load stay empty until the
// next notification-driven reload. Start returns an error only for a
// missing user id or a second call.
//
// Subscriptions live until Stop, independent of ctx.
func (s *Session) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("chatsync: Start requires a user id")
	}
	s.mu.Lock()
	if s.userID != "" || s.stopped {
		s.mu.Unlock()
		return errors.New("chatsync: session already started")
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.userID = userID
	s.cancel = cancel
	s.mu.Unlock()

	s.actions.Bind(userID)
	s.logger.Info("session starting", "user_id", userID)

	if err := s.actions.UpdateStatus(ctx, chat.StatusOnline); err != nil {
		s.report("marking user online", err)
	}
	s.loadSelf(ctx, userID)

	if _, err := s.directory.Load(ctx, userID); err != nil {
		s.report("loading user directory", err)
	}
	if err := s.directory.Watch(watchCtx); err != nil {
		s.report("watching user directory", err)
	}
	if _, err := s.conversations.Load(ctx, userID); err != nil {
		s.report("loading conversations", err)
	}
	if err := s.conversations.Watch(watchCtx); err != nil {
		s.report("watching conversations", err)
	}
	if err := s.typing.Start(watchCtx, userID); err != nil {
		s.report("joining typing topic", err)
	}
	return nil
}

func (s *Session) loadSelf(ctx context.Context, userID string) {
	rows, err := s.store.Select(ctx, gateway.Query{
		Table:   gateway.Profiles,
		Filters: []gateway.Filter{gateway.Eq("id", userID)},
		Limit:   1,
	})
	if err != nil {
		s.report("loading own profile", err)
		return
	}
	if len(rows) == 0 {
		s.logger.Warn("signed-in user has no profile", "user_id", userID)
		return
	}
	self := chat.ParseUser(rows[0], time.Time{})
	s.mu.Lock()
	s.self = self
	s.mu.Unlock()
}

func (s *Session) report(step string, err error) {
	s.logger.Warn("session step failed", "step", step, "error", err)
	s.onError(fmt.Errorf("chatsync: %s: %w", step, err))
}

// Stop tears down every subscription, waits for background writes,
// clears the caches, and marks the user offline. Calling Stop again,
// or before Start, does nothing.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.userID == "" {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	userID := s.userID
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.typing.Stop()
	s.messages.Close()
	s.messages.Wait()
	s.conversations.Close()
	s.directory.Close()

	err := s.actions.updateStatus(ctx, userID, chat.StatusOffline)
	s.actions.Bind("")
	s.logger.Info("session stopped", "user_id", userID)
	if err != nil {
		return fmt.Errorf("chatsync: marking user offline: %w", err)
	}
	return nil
}

func (s *Session) currentUser() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" || s.stopped {
		return "", ErrNotStarted
	}
	return s.userID, nil
}

// Open makes conversationID the active conversation: the typing
// indicator is cleared and the message list reloads for the new
// conversation.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	userID, err := s.currentUser()
	if err != nil {
		return err
	}
	s.typing.SetActiveConversation(conversationID)
	return s.messages.Open(ctx, conversationID, userID)
}

// CloseConversation leaves the active conversation.
func (s *Session) CloseConversation() {
	s.typing.SetActiveConversation("")
	s.messages.Close()
}

// SetTyping publishes the local user's typing state in the active
// conversation.
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	if _, err := s.currentUser(); err != nil {
		return err
	}
	conversationID := s.messages.ConversationID()
	if conversationID == "" {
		return ErrNoActiveConversation
	}
	s.mu.Lock()
	username := s.self.Username
	s.mu.Unlock()
	return s.typing.Publish(ctx, isTyping, conversationID, username)
}

// OnChange registers fn to be called after any cache changes. It
// returns a function that unregisters fn.
func (s *Session) OnChange(fn func(Change)) (remove func()) {
	return s.listeners.add(fn)
}

// UserID returns the signed-in user, or "".
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Self returns the signed-in user's profile as read at Start.
func (s *Session) Self() chat.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Directory() *Directory         { return s.directory }
func (s *Session) Conversations() *Conversations { return s.conversations }
func (s *Session) Messages() *Messages           { return s.messages }
func (s *Session) Typing() *Typing               { return s.typing }
func (s *Session) Actions() *Actions             { return s.actions }

// Snapshot is a point-in-time copy of every cache.
type Snapshot struct {
	UserID               string              `json:"user_id" yaml:"user_id" cbor:"user_id"`
	Users                []chat.User         `json:"users" yaml:"users" cbor:"users"`
	Conversations        []chat.Conversation `json:"conversations" yaml:"conversations" cbor:"conversations"`
	ActiveConversationID string              `json:"active_conversation_id,omitempty" yaml:"active_conversation_id,omitempty" cbor:"active_conversation_id,omitempty"`
	Messages             []chat.Message      `json:"messages,omitempty" yaml:"messages,omitempty" cbor:"messages,omitempty"`
	Typing               *TypingIndicator    `json:"typing,omitempty" yaml:"typing,omitempty" cbor:"typing,omitempty"`
}

// Snapshot copies the current state. The copies are taken one
// component at a time, so a change landing mid-snapshot may be
// reflected in some parts and not others.
func (s *Session) Snapshot() Snapshot {
	snapshot := Snapshot{
		UserID:               s.UserID(),
		Users:                s.directory.Users(),
		Conversations:        s.conversations.List(),
		ActiveConversationID: s.messages.ConversationID(),
		Messages:             s.messages.List(),
	}
	if indicator, ok := s.typing.Current(); ok {
		snapshot.Typing = &indicator
	}
	return snapshot
}
