// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// MessagesConfig configures a Messages.
type MessagesConfig struct {
	Store    gateway.Store
	Notifier gateway.Notifier
	Logger   *slog.Logger
	Metrics  *Metrics

	// OnChange is called after the visible list changes.
	OnChange func(Change)
}

// Messages mirrors the history of the single active conversation.
//
// Every subscription and load is tagged with the generation current
// when it began. Open and Close advance the generation, so results
// and events belonging to a previous conversation are dropped instead
// of being applied to the new list.
type Messages struct {
	store    gateway.Store
	notifier gateway.Notifier
	logger   *slog.Logger
	metrics  *Metrics
	onChange func(Change)

	// background tracks fire-and-forget promotion writes.
	background sync.WaitGroup

	mu             sync.Mutex
	generation     uint64
	userID         string
	conversationID string
	messages       []chat.Message
	sub            gateway.Subscription

	// While the initial load is in flight, events are held in
	// pending and replayed over the loaded list.
	loading bool
	pending []gateway.ChangeEvent
}

// NewMessages returns a Messages with no active conversation.
func NewMessages(cfg MessagesConfig) *Messages {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(Change) {}
	}
	return &Messages{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		onChange: cfg.OnChange,
	}
}

// Open makes conversationID the active conversation for userID.
//
// The visible list is emptied immediately. The previous conversation's
// subscription is torn down before the new one is created. History is
// then loaded in created_at order, events that arrived during the load
// are replayed over it, and inbound messages still marked sent are
// promoted to delivered in the background.
//
// On a load failure the conversation stays active with an empty list
// and live events continue to apply.
func (m *Messages) Open(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	m.generation++
	generation := m.generation
	previous := m.sub
	m.sub = nil
	m.userID = userID
	m.conversationID = conversationID
	m.messages = nil
	m.loading = true
	m.pending = nil
	m.mu.Unlock()

	if previous != nil {
		previous.Unsubscribe()
	}
	m.onChange(Change{Kind: ChangeMessages, ConversationID: conversationID})

	scope := gateway.Eq("conversation_id", conversationID)
	sub, err := m.notifier.Subscribe(ctx, gateway.ChangeFilter{Table: gateway.Messages, Filter: &scope},
		func(event gateway.ChangeEvent) { m.handle(generation, event) })
	if err != nil {
		m.finishLoad(generation, nil)
		return fmt.Errorf("chatsync: subscribing to messages of %s: %w", conversationID, err)
	}

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	m.sub = sub
	m.mu.Unlock()

	rows, err := m.store.Select(ctx, gateway.Query{
		Table:   gateway.Messages,
		Filters: []gateway.Filter{scope},
		OrderBy: "created_at",
	})
	m.metrics.load("messages", err)
	if err != nil {
		m.logger.Error("loading messages failed", "conversation_id", conversationID, "error", err)
		m.finishLoad(generation, nil)
		return fmt.Errorf("chatsync: loading messages of %s: %w", conversationID, err)
	}

	loaded := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		loaded = append(loaded, chat.ParseMessage(row))
	}
	m.finishLoad(generation, loaded)
	return nil
}

// finishLoad installs loaded (which may be nil after a failure),
// replays events held during the load, and starts promotion.
func (m *Messages) finishLoad(generation uint64, loaded []chat.Message) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		m.metrics.eventDiscarded(string(gateway.Messages))
		return
	}
	m.messages = loaded
	m.loading = false
	pending := m.pending
	m.pending = nil
	for _, event := range pending {
		m.applyLocked(event)
	}
	toPromote := m.promotableLocked(m.messages)
	userID, conversationID := m.userID, m.conversationID
	m.mu.Unlock()

	m.logger.Debug("messages loaded",
		"conversation_id", conversationID,
		"messages", len(loaded),
		"replayed", len(pending),
	)
	m.onChange(Change{Kind: ChangeMessages, ConversationID: conversationID})
	m.promote(userID, conversationID, toPromote)
}

// handle receives events for the subscription created at generation.
func (m *Messages) handle(generation uint64, event gateway.ChangeEvent) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		m.metrics.eventDiscarded(string(event.Table))
		return
	}
	if m.loading {
		m.pending = append(m.pending, event)
		m.mu.Unlock()
		return
	}
	promote := m.applyLocked(event)
	userID, conversationID := m.userID, m.conversationID
	m.mu.Unlock()

	m.metrics.eventApplied(string(event.Table), string(event.Type))
	m.onChange(Change{Kind: ChangeMessages, ConversationID: conversationID})
	m.promote(userID, conversationID, promote)
}

// applyLocked applies one event to the list. It returns the ids of
// inbound messages that need promotion.
//
// An insert appends, unless the id is already present (an event
// replayed over a load that already contained the row), in which case
// the entry is replaced in place. An update replaces in place without
// reordering and never moves status backwards. A delete removes the
// matching id.
func (m *Messages) applyLocked(event gateway.ChangeEvent) []string {
	switch event.Type {
	case gateway.EventInsert:
		message := chat.ParseMessage(event.New)
		if index := m.indexLocked(message.ID); index >= 0 {
			message.Status = m.messages[index].Status.Max(message.Status)
			m.messages[index] = message
		} else {
			m.messages = append(m.messages, message)
		}
		return m.promotableLocked([]chat.Message{message})

	case gateway.EventUpdate:
		message := chat.ParseMessage(event.New)
		index := m.indexLocked(message.ID)
		if index < 0 {
			return nil
		}
		message.Status = m.messages[index].Status.Max(message.Status)
		m.messages[index] = message

	case gateway.EventDelete:
		if index := m.indexLocked(chat.Text(event.Old["id"])); index >= 0 {
			m.messages = append(m.messages[:index:index], m.messages[index+1:]...)
		}
	}
	return nil
}

func (m *Messages) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, message := range m.messages {
		if message.ID == id {
			return i
		}
	}
	return -1
}

func (m *Messages) promotableLocked(messages []chat.Message) []string {
	var ids []string
	for _, message := range messages {
		if message.SenderID != m.userID && message.Status == chat.MessageSent {
			ids = append(ids, message.ID)
		}
	}
	return ids
}

// promote marks ids delivered in the background. Only rows still at
// sent are written, so a concurrent mark-as-seen is never regressed.
// Failures are logged and otherwise ignored.
func (m *Messages) promote(userID, conversationID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		_, err := m.store.Update(context.Background(), gateway.Messages,
			gateway.Row{"status": string(chat.MessageDelivered)},
			gateway.In("id", ids),
			gateway.Eq("status", string(chat.MessageSent)),
		)
		m.metrics.promoted(len(ids), err)
		if err != nil {
			m.logger.Warn("promoting messages to delivered failed",
				"conversation_id", conversationID,
				"user_id", userID,
				"messages", len(ids),
				"error", err,
			)
		}
	}()
}

// Wait blocks until background promotion writes have finished.
func (m *Messages) Wait() {
	m.background.Wait()
}

// Close deactivates the current conversation and unsubscribes.
func (m *Messages) Close() {
	m.mu.Lock()
	m.generation++
	sub := m.sub
	m.sub = nil
	conversationID := m.conversationID
	m.conversationID = ""
	m.messages = nil
	m.loading = false
	m.pending = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if conversationID != "" {
		m.onChange(Change{Kind: ChangeMessages})
	}
}

// ConversationID returns the active conversation, or "".
func (m *Messages) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// List returns a copy of the visible messages in display order.
func (m *Messages) List() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := make([]chat.Message, len(m.messages))
	for i, message := range m.messages {
		message.Reactions = append([]chat.Reaction(nil), message.Reactions...)
		messages[i] = message
	}
	return messages
}

// Get returns the cached message with id.
func (m *Messages) Get(id string) (chat.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index := m.indexLocked(id); index >= 0 {
		message := m.messages[index]
		message.Reactions = append([]chat.Reaction(nil), message.Reactions...)
		return message, true
	}
	return chat.Message{}, false
}

// ReplyPreview returns the message that messageID replies to. It
// reports false when messageID is not a reply or its target is not in
// the list, for example because the target was deleted.
func (m *Messages) ReplyPreview(messageID string) (chat.Message, bool) {
	message, ok := m.Get(messageID)
	if !ok || message.ReplyTo == "" {
		return chat.Message{}, false
	}
	return m.Get(message.ReplyTo)
}

// UnreadIDs returns the ids of visible messages unread by the local
// user.
func (m *Messages) UnreadIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, message := range m.messages {
		if message.IsUnreadFor(m.userID) {
			ids = append(ids, message.ID)
		}
	}
	return ids
}
