// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// DefaultLoadConcurrency bounds the per-conversation fetches a load
// runs at once.
const DefaultLoadConcurrency = 8

// ConversationsConfig configures a Conversations.
type ConversationsConfig struct {
	Store    gateway.Store
	Notifier gateway.Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *Metrics

	// Concurrency defaults to DefaultLoadConcurrency.
	Concurrency int

	// OnChange is called after the list is replaced.
	OnChange func(Change)

	// OnError receives failures of reloads triggered by notifications,
	// which have no caller to return to.
	OnError func(error)
}

// Conversations mirrors the conversations the local user participates
// in, sorted most recent first.
type Conversations struct {
	store       gateway.Store
	notifier    gateway.Notifier
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics
	concurrency int
	onChange    func(Change)
	onError     func(error)

	mu            sync.Mutex
	userID        string
	conversations []chat.Conversation
	sub           gateway.Subscription

	// loadSeq orders concurrent loads; only the newest load's result
	// is installed.
	loadSeq   uint64
	installed uint64
}

// NewConversations returns an empty Conversations.
func NewConversations(cfg ConversationsConfig) *Conversations {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultLoadConcurrency
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(Change) {}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	return &Conversations{
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,
		onChange:    cfg.OnChange,
		onError:     cfg.OnError,
	}
}

// Load fetches every conversation currentUserID participates in and
// replaces the cache.
//
// The fetch has two phases. First the user's participant rows yield
// the conversation ids; no rows means an empty list. Then, for each id
// in parallel, the conversation row, its participants' profiles, its
// most recent message, and its unread count are fetched. Any failure
// aborts the load and leaves the cache unchanged. A conversation whose
// row has vanished between the phases is skipped.
func (c *Conversations) Load(ctx context.Context, currentUserID string) ([]chat.Conversation, error) {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.userID = currentUserID
	c.mu.Unlock()

	conversations, err := c.fetch(ctx, currentUserID)
	c.metrics.load("conversations", err)
	if err != nil {
		c.logger.Error("loading conversations failed", "user_id", currentUserID, "error", err)
		return nil, fmt.Errorf("chatsync: loading conversations: %w", err)
	}
	chat.SortConversations(conversations)

	c.mu.Lock()
	if seq < c.installed || c.userID != currentUserID {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded conversation load", "user_id", currentUserID)
		return cloneConversations(conversations), nil
	}
	c.installed = seq
	c.conversations = conversations
	c.mu.Unlock()

	c.logger.Debug("conversations loaded", "user_id", currentUserID, "conversations", len(conversations))
	c.onChange(Change{Kind: ChangeConversations})
	return cloneConversations(conversations), nil
}

func (c *Conversations) fetch(ctx context.Context, userID string) ([]chat.Conversation, error) {
	memberships, err := c.store.Select(ctx, gateway.Query{
		Table:   gateway.ConversationParticipants,
		Filters: []gateway.Filter{gateway.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	ids := uniqueColumn(memberships, "conversation_id")
	if len(ids) == 0 {
		return []chat.Conversation{}, nil
	}

	results := make([]*chat.Conversation, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i, id := range ids {
		group.Go(func() error {
			conversation, err := c.fetchOne(groupCtx, id, userID)
			if err != nil {
				return fmt.Errorf("conversation %s: %w", id, err)
			}
			results[i] = conversation
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	conversations := make([]chat.Conversation, 0, len(results))
	for _, conversation := range results {
		if conversation != nil {
			conversations = append(conversations, *conversation)
		}
	}
	return conversations, nil
}

// fetchOne assembles one conversation. It returns nil, nil when the
// conversation row no longer exists.
func (c *Conversations) fetchOne(ctx context.Context, id, userID string) (*chat.Conversation, error) {
	rows, err := c.store.Select(ctx, gateway.Query{
		Table:   gateway.Conversations,
		Filters: []gateway.Filter{gateway.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching row: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	conversation := chat.ParseConversation(rows[0])

	participantRows, err := c.store.Select(ctx, gateway.Query{
		Table:   gateway.ConversationParticipants,
		Filters: []gateway.Filter{gateway.Eq("conversation_id", id)},
		OrderBy: "joined_at",
	})
	if err != nil {
		return nil, fmt.Errorf("fetching participants: %w", err)
	}
	if memberIDs := uniqueColumn(participantRows, "user_id"); len(memberIDs) > 0 {
		profiles, err := c.store.Select(ctx, gateway.Query{
			Table:   gateway.Profiles,
			Filters: []gateway.Filter{gateway.In("id", memberIDs)},
		})
		if err != nil {
			return nil, fmt.Errorf("fetching participant profiles: %w", err)
		}
		now := c.clock.Now()
		byID := make(map[string]chat.User, len(profiles))
		for _, row := range profiles {
			user := chat.ParseUser(row, now)
			byID[user.ID] = user
		}
		for _, memberID := range memberIDs {
			if user, ok := byID[memberID]; ok {
				conversation.Participants = append(conversation.Participants, user)
			}
		}
	}

	latest, err := c.store.Select(ctx, gateway.Query{
		Table:      gateway.Messages,
		Filters:    []gateway.Filter{gateway.Eq("conversation_id", id)},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching last message: %w", err)
	}
	if len(latest) > 0 {
		message := chat.ParseMessage(latest[0])
		conversation.LastMessage = &message
	}

	unread, err := c.store.Select(ctx, gateway.Query{
		Table: gateway.Messages,
		Filters: []gateway.Filter{
			gateway.Eq("conversation_id", id),
			gateway.Neq("sender_id", userID),
			gateway.Neq("status", string(chat.MessageSeen)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	conversation.UnreadCount = len(unread)

	return &conversation, nil
}

// Watch subscribes to every change on the conversations table. Each
// notification triggers a full reload; there is no incremental merge.
func (c *Conversations) Watch(ctx context.Context) error {
	sub, err := c.notifier.Subscribe(ctx, gateway.ChangeFilter{Table: gateway.Conversations}, func(event gateway.ChangeEvent) {
		c.metrics.eventApplied(string(event.Table), string(event.Type))
		c.HandleRemoteChange(ctx)
	})
	if err != nil {
		return fmt.Errorf("chatsync: subscribing to conversations: %w", err)
	}

	c.mu.Lock()
	previous := c.sub
	c.sub = sub
	c.mu.Unlock()
	if previous != nil {
		previous.Unsubscribe()
	}
	return nil
}

// HandleRemoteChange reloads the list for the current user. Failures
// go to OnError and keep the previous list.
func (c *Conversations) HandleRemoteChange(ctx context.Context) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == "" {
		return
	}
	if _, err := c.Load(ctx, userID); err != nil && ctx.Err() == nil {
		c.onError(err)
	}
}

// Close stops watching and clears the cache.
func (c *Conversations) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.conversations = nil
	c.userID = ""
	c.installed = c.loadSeq
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// List returns a copy of the cached conversations, most recent first.
func (c *Conversations) List() []chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneConversations(c.conversations)
}

// Get returns the cached conversation with id.
func (c *Conversations) Get(id string) (chat.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conversation := range c.conversations {
		if conversation.ID == id {
			return cloneConversations([]chat.Conversation{conversation})[0], true
		}
	}
	return chat.Conversation{}, false
}

// Filter returns the cached conversations matching query (see
// chat.Conversation.Matches) and, when conversationType is non-empty,
// of that type.
func (c *Conversations) Filter(query string, conversationType chat.ConversationType) []chat.Conversation {
	var matches []chat.Conversation
	for _, conversation := range c.List() {
		if conversationType != "" && conversation.Type != conversationType {
			continue
		}
		if conversation.Matches(query) {
			matches = append(matches, conversation)
		}
	}
	return matches
}

func cloneConversations(conversations []chat.Conversation) []chat.Conversation {
	if conversations == nil {
		return nil
	}
	clones := make([]chat.Conversation, len(conversations))
	for i, conversation := range conversations {
		conversation.Participants = append([]chat.User(nil), conversation.Participants...)
		if conversation.LastMessage != nil {
			message := *conversation.LastMessage
			message.Reactions = append([]chat.Reaction(nil), message.Reactions...)
			conversation.LastMessage = &message
		}
		clones[i] = conversation
	}
	return clones
}

// uniqueColumn returns the distinct non-empty values of column, in
// first-seen order.
func uniqueColumn(rows []gateway.Row, column string) []string {
	seen := make(map[string]bool, len(rows))
	var values []string
	for _, row := range rows {
		value := chat.Text(row[column])
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		values = append(values, value)
	}
	return values
}
