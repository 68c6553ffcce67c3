// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// ActionsConfig configures an Actions.
type ActionsConfig struct {
	Store  gateway.Store
	Clock  clock.Clock
	Logger *slog.Logger

	// Messages supplies the active conversation and its cached
	// messages.
	Messages *Messages
}

// Actions performs the write operations. No write updates a local
// cache directly: every change becomes visible when the gateway's
// change notification reaches the sync component that owns the cache.
// The one exception is delivery promotion, which Messages performs.
//
// An operation that needs a signed-in user returns ErrNotStarted
// before Bind, and one that needs an open conversation returns
// ErrNoActiveConversation when none is open. Neither case writes
// anything.
type Actions struct {
	store    gateway.Store
	clock    clock.Clock
	logger   *slog.Logger
	messages *Messages

	mu     sync.Mutex
	userID string

	// functionsMissing is set once the store has reported the
	// reaction functions as unknown, so later reactions go straight
	// to the fetch-then-update path.
	functionsMissing atomic.Bool
}

// NewActions returns an unbound Actions.
func NewActions(cfg ActionsConfig) *Actions {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Actions{
		store:    cfg.Store,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		messages: cfg.Messages,
	}
}

// Bind sets the acting user. An empty userID unbinds.
func (a *Actions) Bind(userID string) {
	a.mu.Lock()
	a.userID = userID
	a.mu.Unlock()
}

func (a *Actions) actor() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userID == "" {
		return "", ErrNotStarted
	}
	return a.userID, nil
}

func (a *Actions) activeConversation() (userID, conversationID string, err error) {
	userID, err = a.actor()
	if err != nil {
		return "", "", err
	}
	if a.messages == nil {
		return "", "", ErrNoActiveConversation
	}
	conversationID = a.messages.ConversationID()
	if conversationID == "" {
		return "", "", ErrNoActiveConversation
	}
	return userID, conversationID, nil
}

func (a *Actions) now() string {
	return chat.FormatTime(a.clock.Now())
}

// SendMessage posts content to the active conversation with status
// sent and no reactions, then touches the conversation's updated_at.
// replyTo may be empty. A failed touch is logged; the message has
// already been stored and is returned.
func (a *Actions) SendMessage(ctx context.Context, content string, contentType chat.ContentType, replyTo string) (chat.Message, error) {
	userID, conversationID, err := a.activeConversation()
	if err != nil {
		return chat.Message{}, err
	}
	if contentType == "" {
		contentType = chat.ContentText
	}

	row := gateway.Row{
		"conversation_id": conversationID,
		"sender_id":       userID,
		"content":         content,
		"content_type":    string(contentType),
		"status":          string(chat.MessageSent),
		"reactions":       []any{},
	}
	if replyTo != "" {
		row["reply_to"] = replyTo
	}
	inserted, err := a.store.Insert(ctx, gateway.Messages, row)
	if err != nil {
		a.logger.Error("sending message failed", "conversation_id", conversationID, "error", err)
		return chat.Message{}, fmt.Errorf("chatsync: sending message: %w", err)
	}
	var message chat.Message
	if len(inserted) > 0 {
		message = chat.ParseMessage(inserted[0])
	}

	a.touchConversation(ctx, conversationID, "send")
	return message, nil
}

// touchConversation refreshes the conversation's updated_at so watchers
// of the conversations table reload its derived fields (last message,
// unread count). Failure is logged; the message write already landed.
func (a *Actions) touchConversation(ctx context.Context, conversationID, after string) {
	if _, err := a.store.Update(ctx, gateway.Conversations,
		gateway.Row{"updated_at": a.now()},
		gateway.Eq("id", conversationID),
	); err != nil {
		a.logger.Warn("touching conversation failed",
			"conversation_id", conversationID,
			"after", after,
			"error", err,
		)
	}
}

// EditMessage replaces the content of one of the acting user's
// messages and marks it edited. The write is scoped to the user's own
// rows; matching nothing returns ErrNoMatch.
func (a *Actions) EditMessage(ctx context.Context, messageID, content string) error {
	userID, err := a.actor()
	if err != nil {
		return err
	}
	rows, err := a.store.Update(ctx, gateway.Messages,
		gateway.Row{"content": content, "is_edited": true, "updated_at": a.now()},
		gateway.Eq("id", messageID),
		gateway.Eq("sender_id", userID),
	)
	if err != nil {
		a.logger.Error("editing message failed", "message_id", messageID, "error", err)
		return fmt.Errorf("chatsync: editing message %s: %w", messageID, err)
	}
	if len(rows) == 0 {
		a.logger.Debug("edit matched no owned message", "message_id", messageID, "user_id", userID)
		return ErrNoMatch
	}
	return nil
}

// DeleteMessage removes one of the acting user's messages, scoped the
// same way as EditMessage.
func (a *Actions) DeleteMessage(ctx context.Context, messageID string) error {
	userID, err := a.actor()
	if err != nil {
		return err
	}
	rows, err := a.store.Delete(ctx, gateway.Messages,
		gateway.Eq("id", messageID),
		gateway.Eq("sender_id", userID),
	)
	if err != nil {
		a.logger.Error("deleting message failed", "message_id", messageID, "error", err)
		return fmt.Errorf("chatsync: deleting message %s: %w", messageID, err)
	}
	if len(rows) == 0 {
		a.logger.Debug("delete matched no owned message", "message_id", messageID, "user_id", userID)
		return ErrNoMatch
	}
	return nil
}

// MarkMessageAsSeen sets the message's status to seen regardless of
// its current status or sender.
func (a *Actions) MarkMessageAsSeen(ctx context.Context, messageID string) error {
	if _, err := a.actor(); err != nil {
		return err
	}
	rows, err := a.store.Update(ctx, gateway.Messages,
		gateway.Row{"status": string(chat.MessageSeen)},
		gateway.Eq("id", messageID),
	)
	if err != nil {
		a.logger.Error("marking message seen failed", "message_id", messageID, "error", err)
		return fmt.Errorf("chatsync: marking message %s seen: %w", messageID, err)
	}
	if len(rows) > 0 {
		if conversationID := chat.Text(rows[0]["conversation_id"]); conversationID != "" {
			a.touchConversation(ctx, conversationID, "seen")
		}
	}
	return nil
}

// MarkConversationSeen marks every cached message in the active
// conversation that is unread by the acting user as seen, in one
// write. It returns the number of messages marked.
func (a *Actions) MarkConversationSeen(ctx context.Context) (int, error) {
	_, conversationID, err := a.activeConversation()
	if err != nil {
		return 0, err
	}
	ids := a.messages.UnreadIDs()
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := a.store.Update(ctx, gateway.Messages,
		gateway.Row{"status": string(chat.MessageSeen)},
		gateway.In("id", ids),
		gateway.Eq("conversation_id", conversationID),
	); err != nil {
		a.logger.Error("marking conversation seen failed", "conversation_id", conversationID, "error", err)
		return 0, fmt.Errorf("chatsync: marking conversation %s seen: %w", conversationID, err)
	}
	a.touchConversation(ctx, conversationID, "seen")
	return len(ids), nil
}

// AddReaction adds (user, emoji) to the message's reaction set.
func (a *Actions) AddReaction(ctx context.Context, messageID, emoji string) error {
	return a.react(ctx, gateway.FuncAddReaction, messageID, emoji, chat.WithReaction)
}

// RemoveReaction removes (user, emoji) from the message's reaction
// set.
func (a *Actions) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	return a.react(ctx, gateway.FuncRemoveReaction, messageID, emoji, chat.WithoutReaction)
}

// react applies a reaction change through the store's atomic function.
// When the store does not provide the function it falls back to
// reading the reaction list and writing back the modified list. The
// fallback is not atomic: two users reacting to the same message at
// once can lose one of the changes.
func (a *Actions) react(ctx context.Context, fn, messageID, emoji string,
	apply func([]chat.Reaction, string, string) []chat.Reaction,
) error {
	userID, err := a.actor()
	if err != nil {
		return err
	}
	if emoji == "" {
		return fmt.Errorf("chatsync: %s: emoji is required", fn)
	}

	if !a.functionsMissing.Load() {
		err := a.store.Call(ctx, fn, gateway.Row{
			"message_id": messageID,
			"user_id":    userID,
			"emoji":      emoji,
		})
		switch {
		case err == nil:
			return nil
		case gateway.IsCode(err, gateway.CodeNotFound) && a.functionUnknown(ctx, messageID):
			a.functionsMissing.Store(true)
			a.logger.Info("reaction functions unavailable, using fetch-then-update", "function", fn)
		default:
			a.logger.Error("reaction failed", "function", fn, "message_id", messageID, "error", err)
			return fmt.Errorf("chatsync: %s on %s: %w", fn, messageID, err)
		}
	}

	rows, err := a.store.Select(ctx, gateway.Query{
		Table:   gateway.Messages,
		Filters: []gateway.Filter{gateway.Eq("id", messageID)},
		Limit:   1,
	})
	if err != nil {
		a.logger.Error("reading reactions failed", "message_id", messageID, "error", err)
		return fmt.Errorf("chatsync: reading reactions of %s: %w", messageID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("chatsync: %s: %w", fn, gateway.Errorf(gateway.CodeNotFound, "message %s does not exist", messageID))
	}
	reactions := apply(chat.ParseReactions(rows[0]["reactions"]), userID, emoji)
	if _, err := a.store.Update(ctx, gateway.Messages,
		gateway.Row{"reactions": chat.ReactionsValue(reactions)},
		gateway.Eq("id", messageID),
	); err != nil {
		a.logger.Error("writing reactions failed", "message_id", messageID, "error", err)
		return fmt.Errorf("chatsync: writing reactions of %s: %w", messageID, err)
	}
	return nil
}

// functionUnknown tells a missing function apart from a missing
// message, both of which the store reports as not found: the function
// is missing if the message exists.
func (a *Actions) functionUnknown(ctx context.Context, messageID string) bool {
	rows, err := a.store.Select(ctx, gateway.Query{
		Table:   gateway.Messages,
		Filters: []gateway.Filter{gateway.Eq("id", messageID)},
		Limit:   1,
	})
	return err == nil && len(rows) > 0
}

// CreateConversation creates a conversation between the acting user
// and participantIDs and returns its id.
//
// A direct conversation takes exactly one other participant and is
// reused when one already exists for the pair: conversations both
// users belong to are intersected and the first direct one is
// returned. The check is a read followed by a write, so two
// simultaneous creations can both pass it; the conversations.direct_key
// uniqueness constraint catches that case and the existing row is
// returned instead.
//
// Group and community conversations are always new. Participant rows
// are written after the conversation row; if that write fails the
// conversation row is deleted again.
func (a *Actions) CreateConversation(ctx context.Context, participantIDs []string, conversationType chat.ConversationType, name string) (string, error) {
	userID, err := a.actor()
	if err != nil {
		return "", err
	}

	members := []string{userID}
	for _, id := range participantIDs {
		if id != "" && !slices.Contains(members, id) {
			members = append(members, id)
		}
	}

	row := gateway.Row{"type": string(conversationType)}
	if name != "" {
		row["name"] = name
	}

	switch conversationType {
	case chat.ConversationDirect:
		if len(members) != 2 {
			return "", fmt.Errorf("chatsync: a direct conversation needs exactly one other participant, got %d",
				len(members)-1)
		}
		existing, err := a.findDirect(ctx, members[0], members[1])
		if err != nil {
			return "", err
		}
		if existing != "" {
			a.logger.Debug("reusing direct conversation", "conversation_id", existing)
			return existing, nil
		}
		row["direct_key"] = chat.DirectKey(members[0], members[1])
	case chat.ConversationGroup, chat.ConversationCommunity:
	default:
		return "", fmt.Errorf("chatsync: unknown conversation type %q", conversationType)
	}

	inserted, err := a.store.Insert(ctx, gateway.Conversations, row)
	if err != nil {
		if conversationType == chat.ConversationDirect && gateway.IsCode(err, gateway.CodeUniqueViolation) {
			return a.existingDirect(ctx, chat.Text(row["direct_key"]))
		}
		a.logger.Error("creating conversation failed", "type", conversationType, "error", err)
		return "", fmt.Errorf("chatsync: creating conversation: %w", err)
	}
	if len(inserted) == 0 {
		return "", fmt.Errorf("chatsync: creating conversation: store returned no row")
	}
	conversationID := chat.Text(inserted[0]["id"])

	participants := make([]gateway.Row, 0, len(members))
	for _, member := range members {
		participants = append(participants, gateway.Row{
			"conversation_id": conversationID,
			"user_id":         member,
		})
	}
	if _, err := a.store.Insert(ctx, gateway.ConversationParticipants, participants...); err != nil {
		a.logger.Error("adding participants failed, removing conversation",
			"conversation_id", conversationID,
			"error", err,
		)
		if _, deleteErr := a.store.Delete(ctx, gateway.Conversations, gateway.Eq("id", conversationID)); deleteErr != nil {
			a.logger.Error("removing orphaned conversation failed",
				"conversation_id", conversationID,
				"error", deleteErr,
			)
		}
		return "", fmt.Errorf("chatsync: adding participants to %s: %w", conversationID, err)
	}

	a.logger.Info("conversation created",
		"conversation_id", conversationID,
		"type", conversationType,
		"participants", len(members),
	)
	return conversationID, nil
}

// findDirect returns the id of a direct conversation both users
// belong to, or "".
func (a *Actions) findDirect(ctx context.Context, first, second string) (string, error) {
	rows, err := a.store.Select(ctx, gateway.Query{
		Table:   gateway.ConversationParticipants,
		Filters: []gateway.Filter{gateway.Eq("user_id", first)},
	})
	if err != nil {
		return "", fmt.Errorf("chatsync: listing conversations of %s: %w", first, err)
	}
	firstIDs := uniqueColumn(rows, "conversation_id")
	if len(firstIDs) == 0 {
		return "", nil
	}

	rows, err = a.store.Select(ctx, gateway.Query{
		Table: gateway.ConversationParticipants,
		Filters: []gateway.Filter{
			gateway.Eq("user_id", second),
			gateway.In("conversation_id", firstIDs),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chatsync: listing conversations of %s: %w", second, err)
	}
	shared := uniqueColumn(rows, "conversation_id")
	if len(shared) == 0 {
		return "", nil
	}

	rows, err = a.store.Select(ctx, gateway.Query{
		Table: gateway.Conversations,
		Filters: []gateway.Filter{
			gateway.In("id", shared),
			gateway.Eq("type", string(chat.ConversationDirect)),
		},
		OrderBy: "created_at",
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("chatsync: filtering direct conversations: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return chat.Text(rows[0]["id"]), nil
}

func (a *Actions) existingDirect(ctx context.Context, directKey string) (string, error) {
	rows, err := a.store.Select(ctx, gateway.Query{
		Table:   gateway.Conversations,
		Filters: []gateway.Filter{gateway.Eq("direct_key", directKey)},
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("chatsync: reading direct conversation %s: %w", directKey, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("chatsync: direct conversation %s collided but cannot be read", directKey)
	}
	a.logger.Debug("direct conversation created concurrently, reusing", "direct_key", directKey)
	return chat.Text(rows[0]["id"]), nil
}

// UpdateStatus sets the acting user's presence and last_seen.
func (a *Actions) UpdateStatus(ctx context.Context, status chat.UserStatus) error {
	userID, err := a.actor()
	if err != nil {
		return err
	}
	return a.updateStatus(ctx, userID, status)
}

func (a *Actions) updateStatus(ctx context.Context, userID string, status chat.UserStatus) error {
	if _, err := a.store.Update(ctx, gateway.Profiles,
		gateway.Row{"status": string(status), "last_seen": a.now()},
		gateway.Eq("id", userID),
	); err != nil {
		return fmt.Errorf("chatsync: setting status of %s to %s: %w", userID, status, err)
	}
	return nil
}

// ProfilePatch lists profile fields to change. Nil fields are left
// alone.
type ProfilePatch struct {
	Username  *string
	FullName  *string
	AvatarURL *string
}

// UpdateProfile writes the non-nil fields of patch to the acting
// user's profile. An empty patch writes nothing.
func (a *Actions) UpdateProfile(ctx context.Context, patch ProfilePatch) error {
	userID, err := a.actor()
	if err != nil {
		return err
	}
	row := gateway.Row{}
	if patch.Username != nil {
		row["username"] = *patch.Username
	}
	if patch.FullName != nil {
		row["full_name"] = *patch.FullName
	}
	if patch.AvatarURL != nil {
		row["avatar_url"] = *patch.AvatarURL
	}
	if len(row) == 0 {
		return nil
	}
	if _, err := a.store.Update(ctx, gateway.Profiles, row, gateway.Eq("id", userID)); err != nil {
		a.logger.Error("updating profile failed", "user_id", userID, "error", err)
		return fmt.Errorf("chatsync: updating profile of %s: %w", userID, err)
	}
	return nil
}
