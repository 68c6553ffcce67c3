// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
)

const (
	// DefaultTypingTopic is the shared broadcast topic.
	DefaultTypingTopic = "typing"

	// TypingEvent is the broadcast event name for typing signals.
	TypingEvent = "typing"

	// DefaultTypingTimeout is how long a received typing signal stays
	// visible without a refresh.
	DefaultTypingTimeout = 3 * time.Second

	// DefaultTypingPublishInterval is the minimum spacing of outgoing
	// typing=true signals per conversation.
	DefaultTypingPublishInterval = time.Second
)

// TypingPayload is the broadcast body of a typing signal.
type TypingPayload struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// TypingIndicator identifies who is typing in the active conversation.
type TypingIndicator struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TypingConfig configures a Typing.
type TypingConfig struct {
	Broadcaster gateway.Broadcaster
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *Metrics

	// Topic defaults to DefaultTypingTopic.
	Topic string

	// Timeout defaults to DefaultTypingTimeout.
	Timeout time.Duration

	// PublishInterval defaults to DefaultTypingPublishInterval.
	PublishInterval time.Duration

	// OnChange is called when the indicator appears, changes, or
	// clears.
	OnChange func(Change)
}

// Typing publishes the local user's typing state and tracks whether
// someone else is typing in the active conversation. Nothing is
// persisted.
type Typing struct {
	broadcaster     gateway.Broadcaster
	clock           clock.Clock
	logger          *slog.Logger
	metrics         *Metrics
	topic           string
	timeout         time.Duration
	publishInterval time.Duration
	onChange        func(Change)

	mu                 sync.Mutex
	userID             string
	activeConversation string
	indicator          *TypingIndicator
	expiry             *clock.Timer
	// token identifies the current expiry timer so a timer that
	// fires after being superseded clears nothing.
	token    uint64
	limiters map[string]*rate.Limiter
	sub      gateway.Subscription
}

// NewTyping returns an idle Typing.
func NewTyping(cfg TypingConfig) *Typing {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTypingTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTypingTimeout
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = DefaultTypingPublishInterval
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(Change) {}
	}
	return &Typing{
		broadcaster:     cfg.Broadcaster,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		topic:           cfg.Topic,
		timeout:         cfg.Timeout,
		publishInterval: cfg.PublishInterval,
		onChange:        cfg.OnChange,
		limiters:        make(map[string]*rate.Limiter),
	}
}

// Start joins the typing topic as userID.
func (t *Typing) Start(ctx context.Context, userID string) error {
	t.mu.Lock()
	t.userID = userID
	t.mu.Unlock()

	sub, err := t.broadcaster.Listen(ctx, t.topic, t.HandleEvent)
	if err != nil {
		return fmt.Errorf("chatsync: joining typing topic %q: %w", t.topic, err)
	}

	t.mu.Lock()
	previous := t.sub
	t.sub = sub
	t.mu.Unlock()
	if previous != nil {
		previous.Unsubscribe()
	}
	return nil
}

// Stop leaves the topic and clears all state.
func (t *Typing) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.userID = ""
	t.activeConversation = ""
	cleared := t.clearLocked()
	clear(t.limiters)
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cleared {
		t.onChange(Change{Kind: ChangeTyping})
	}
}

// SetActiveConversation changes which conversation's signals are
// shown. Any visible indicator is cleared.
func (t *Typing) SetActiveConversation(conversationID string) {
	t.mu.Lock()
	if t.activeConversation == conversationID {
		t.mu.Unlock()
		return
	}
	t.activeConversation = conversationID
	cleared := t.clearLocked()
	t.mu.Unlock()

	if cleared {
		t.onChange(Change{Kind: ChangeTyping, ConversationID: conversationID})
	}
}

// Publish broadcasts the local user's typing state for conversationID.
// A false signal is always sent. True signals are throttled per
// conversation to one per publish interval; a throttled call returns
// nil without sending.
func (t *Typing) Publish(ctx context.Context, isTyping bool, conversationID, username string) error {
	t.mu.Lock()
	userID := t.userID
	if userID == "" {
		t.mu.Unlock()
		return ErrNotStarted
	}
	if isTyping {
		limiter, ok := t.limiters[conversationID]
		if !ok {
			limiter = rate.NewLimiter(rate.Every(t.publishInterval), 1)
			t.limiters[conversationID] = limiter
		}
		if !limiter.AllowN(t.clock.Now(), 1) {
			t.mu.Unlock()
			t.metrics.typing(false)
			return nil
		}
	} else {
		// The next true signal after a stop goes out immediately.
		delete(t.limiters, conversationID)
	}
	t.mu.Unlock()

	payload := TypingPayload{
		UserID:         userID,
		Username:       username,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	}
	if err := t.broadcaster.Broadcast(ctx, t.topic, TypingEvent, payload); err != nil {
		t.logger.Warn("publishing typing signal failed",
			"conversation_id", conversationID,
			"is_typing", isTyping,
			"error", err,
		)
		return fmt.Errorf("chatsync: publishing typing signal: %w", err)
	}
	t.metrics.typing(true)
	return nil
}

// HandleEvent applies a received typing broadcast. Signals for other
// conversations, from the local user, or with an unreadable payload
// are ignored. A true signal shows the indicator and (re)starts the
// expiry timer from now; a false signal clears it when it comes from
// the user currently shown.
func (t *Typing) HandleEvent(message gateway.BroadcastMessage) {
	if message.Event != TypingEvent {
		return
	}
	var payload TypingPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		t.logger.Debug("ignoring malformed typing payload", "error", err)
		return
	}

	t.mu.Lock()
	if payload.ConversationID == "" || payload.ConversationID != t.activeConversation ||
		payload.UserID == "" || payload.UserID == t.userID {
		t.mu.Unlock()
		return
	}
	conversationID := t.activeConversation

	var changed bool
	if payload.IsTyping {
		indicator := TypingIndicator{UserID: payload.UserID, Username: payload.Username}
		changed = t.indicator == nil || *t.indicator != indicator
		t.indicator = &indicator
		t.armLocked()
	} else if t.indicator != nil && t.indicator.UserID == payload.UserID {
		changed = t.clearLocked()
	}
	t.mu.Unlock()

	if changed {
		t.onChange(Change{Kind: ChangeTyping, ConversationID: conversationID})
	}
}

// armLocked (re)starts the expiry timer.
func (t *Typing) armLocked() {
	if t.expiry != nil {
		t.expiry.Stop()
	}
	t.token++
	token := t.token
	t.expiry = t.clock.AfterFunc(t.timeout, func() { t.expire(token) })
}

func (t *Typing) expire(token uint64) {
	t.mu.Lock()
	if token != t.token || t.indicator == nil {
		t.mu.Unlock()
		return
	}
	t.indicator = nil
	t.expiry = nil
	conversationID := t.activeConversation
	t.mu.Unlock()

	t.logger.Debug("typing indicator expired", "conversation_id", conversationID)
	t.onChange(Change{Kind: ChangeTyping, ConversationID: conversationID})
}

// clearLocked hides the indicator. It reports whether one was shown.
func (t *Typing) clearLocked() bool {
	t.token++
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
	shown := t.indicator != nil
	t.indicator = nil
	return shown
}

// Current returns the visible indicator, if any.
func (t *Typing) Current() (TypingIndicator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indicator == nil {
		return TypingIndicator{}, false
	}
	return *t.indicator, true
}
