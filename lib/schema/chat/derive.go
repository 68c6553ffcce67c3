// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// UnknownUserName is shown for a direct conversation whose other
// participant has no profile.
const UnknownUserName = "Unknown User"

// DirectKey returns the order-independent identity of a direct
// conversation between a and b.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// DisplayName returns the name shown for the conversation to
// localUserID: the explicit name if set, the other participant for a
// direct conversation, or "Group (N)".
func (c Conversation) DisplayName(localUserID string) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Type == ConversationDirect {
		for _, participant := range c.Participants {
			if participant.ID != localUserID {
				if label := participant.Label(); label != "" {
					return label
				}
				break
			}
		}
		return UnknownUserName
	}
	return "Group (" + strconv.Itoa(len(c.Participants)) + ")"
}

// Matches reports whether query (case-insensitive) occurs in the
// conversation's name or in any participant's username or full name.
// An empty query matches everything.
func (c Conversation) Matches(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Name), query) {
		return true
	}
	return slices.ContainsFunc(c.Participants, func(user User) bool {
		return user.Matches(query)
	})
}

// Matches reports whether query (case-insensitive) occurs in the
// username or full name. An empty query matches everything.
func (u User) Matches(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	return query == "" ||
		strings.Contains(strings.ToLower(u.Username), query) ||
		strings.Contains(strings.ToLower(u.FullName), query)
}

// SortConversations orders conversations most recent first by
// RecencyKey. Ties keep their input order.
func SortConversations(conversations []Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].RecencyKey().After(conversations[j].RecencyKey())
	})
}

// CountUnread counts the messages unread by userID.
func CountUnread(messages []Message, userID string) int {
	count := 0
	for _, message := range messages {
		if message.IsUnreadFor(userID) {
			count++
		}
	}
	return count
}

// WithReaction returns reactions plus (userID, emoji), unchanged if the
// pair is already present. The input slice is not modified.
func WithReaction(reactions []Reaction, userID, emoji string) []Reaction {
	added := append(slices.Clip(reactions), Reaction{UserID: userID, Emoji: emoji})
	return dedupeReactions(added)
}

// WithoutReaction returns reactions minus (userID, emoji). The input
// slice is not modified.
func WithoutReaction(reactions []Reaction, userID, emoji string) []Reaction {
	target := Reaction{UserID: userID, Emoji: emoji}
	result := make([]Reaction, 0, len(reactions))
	for _, reaction := range reactions {
		if reaction != target {
			result = append(result, reaction)
		}
	}
	return result
}

// ReactionGroup is every reaction with one emoji.
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// SummarizeReactions groups reactions by emoji, in the order each
// emoji first appears.
func SummarizeReactions(reactions []Reaction) []ReactionGroup {
	var groups []ReactionGroup
	index := make(map[string]int)
	for _, reaction := range dedupeReactions(reactions) {
		position, ok := index[reaction.Emoji]
		if !ok {
			position = len(groups)
			index[reaction.Emoji] = position
			groups = append(groups, ReactionGroup{Emoji: reaction.Emoji})
		}
		groups[position].Count++
		groups[position].UserIDs = append(groups[position].UserIDs, reaction.UserID)
	}
	return groups
}
