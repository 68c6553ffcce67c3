// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultRole is assigned to profiles without a role.
const DefaultRole = "user"

// ParseUserStatus maps a raw status to a UserStatus. Anything other
// than online, away, or busy is offline.
func ParseUserStatus(raw any) UserStatus {
	switch status := UserStatus(text(raw)); status {
	case StatusOnline, StatusAway, StatusBusy:
		return status
	default:
		return StatusOffline
	}
}

// ParseMessageStatus maps a raw status to a MessageStatus. Anything
// other than delivered or seen is sent.
func ParseMessageStatus(raw any) MessageStatus {
	switch status := MessageStatus(text(raw)); status {
	case MessageDelivered, MessageSeen:
		return status
	default:
		return MessageSent
	}
}

// ParseContentType maps a raw content type. Unknown values are text.
func ParseContentType(raw any) ContentType {
	switch contentType := ContentType(text(raw)); contentType {
	case ContentImage, ContentFile, ContentEmoji:
		return contentType
	default:
		return ContentText
	}
}

// ParseConversationType maps a raw conversation type. Unknown values
// are group, the type with no pair-uniqueness rule attached.
func ParseConversationType(raw any) ConversationType {
	switch conversationType := ConversationType(text(raw)); conversationType {
	case ConversationDirect, ConversationCommunity:
		return conversationType
	default:
		return ConversationGroup
	}
}

// ParseReactions accepts a decoded JSON array, a JSON-encoded string
// or byte slice, or a []Reaction. Entries lacking a user id or an
// emoji are dropped, and only the first of any duplicate
// (user_id, emoji) pair is kept. Anything unparseable yields an empty,
// non-nil list.
func ParseReactions(raw any) []Reaction {
	var entries []any
	switch value := raw.(type) {
	case []Reaction:
		return dedupeReactions(value)
	case []any:
		entries = value
	case []map[string]any:
		for _, entry := range value {
			entries = append(entries, entry)
		}
	case string:
		entries = decodeReactionJSON([]byte(value))
	case []byte:
		entries = decodeReactionJSON(value)
	case json.RawMessage:
		entries = decodeReactionJSON(value)
	}

	reactions := make([]Reaction, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		reactions = append(reactions, Reaction{
			UserID: text(fields["user_id"]),
			Emoji:  text(fields["emoji"]),
		})
	}
	return dedupeReactions(reactions)
}

func decodeReactionJSON(data []byte) []any {
	var entries []any
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func dedupeReactions(input []Reaction) []Reaction {
	result := make([]Reaction, 0, len(input))
	seen := make(map[Reaction]bool, len(input))
	for _, reaction := range input {
		if reaction.UserID == "" || reaction.Emoji == "" || seen[reaction] {
			continue
		}
		seen[reaction] = true
		result = append(result, reaction)
	}
	return result
}

// ReactionsValue converts reactions to the row representation stored
// in the messages.reactions column. ParseReactions(ReactionsValue(r))
// returns r with duplicates and incomplete entries removed.
func ReactionsValue(reactions []Reaction) []any {
	value := make([]any, 0, len(reactions))
	for _, reaction := range reactions {
		value = append(value, map[string]any{
			"user_id": reaction.UserID,
			"emoji":   reaction.Emoji,
		})
	}
	return value
}

// ParseUser builds a User from a profiles row. A missing last_seen
// defaults to now.
func ParseUser(row map[string]any, now time.Time) User {
	role := text(row["role"])
	if role == "" {
		role = DefaultRole
	}
	return User{
		ID:        text(row["id"]),
		Username:  text(row["username"]),
		FullName:  text(row["full_name"]),
		AvatarURL: text(row["avatar_url"]),
		Email:     text(row["email"]),
		Role:      role,
		Status:    ParseUserStatus(row["status"]),
		LastSeen:  ParseTime(row["last_seen"], now),
	}
}

// ParseMessage builds a Message from a messages row. A missing
// updated_at defaults to created_at.
func ParseMessage(row map[string]any) Message {
	createdAt := ParseTime(row["created_at"], time.Time{})
	return Message{
		ID:             text(row["id"]),
		ConversationID: text(row["conversation_id"]),
		SenderID:       text(row["sender_id"]),
		Content:        text(row["content"]),
		ContentType:    ParseContentType(row["content_type"]),
		CreatedAt:      createdAt,
		UpdatedAt:      ParseTime(row["updated_at"], createdAt),
		IsEdited:       flag(row["is_edited"]),
		Status:         ParseMessageStatus(row["status"]),
		Reactions:      ParseReactions(row["reactions"]),
		ReplyTo:        text(row["reply_to"]),
	}
}

// ParseConversation builds a Conversation from a conversations row.
// Participants, LastMessage, and UnreadCount are left for the loader.
func ParseConversation(row map[string]any) Conversation {
	createdAt := ParseTime(row["created_at"], time.Time{})
	return Conversation{
		ID:           text(row["id"]),
		Name:         text(row["name"]),
		Type:         ParseConversationType(row["type"]),
		CreatedAt:    createdAt,
		UpdatedAt:    ParseTime(row["updated_at"], createdAt),
		IsPinned:     flag(row["is_pinned"]),
		DirectKey:    text(row["direct_key"]),
		Participants: []User{},
	}
}

// Text returns raw as a string, or "" when raw is not textual. Row
// ids and filter values go through it.
func Text(raw any) string { return text(raw) }

func text(raw any) string {
	switch value := raw.(type) {
	case string:
		return value
	case []byte:
		return string(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	case int:
		return strconv.Itoa(value)
	default:
		return ""
	}
}

func flag(raw any) bool {
	switch value := raw.(type) {
	case bool:
		return value
	case int64:
		return value != 0
	case int:
		return value != 0
	case float64:
		return value != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		return err == nil && parsed
	default:
		return false
	}
}

// TimeLayout is the fixed-width layout FormatTime writes.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in UTC with TimeLayout. Values produced by
// FormatTime compare lexicographically in time order.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

var timeColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"last_seen":  true,
	"joined_at":  true,
}

// IsTimeColumn reports whether column holds a timestamp in the chat
// tables.
func IsTimeColumn(column string) bool { return timeColumns[column] }

// CanonicalTime rewrites a timestamp value in FormatTime's form so
// stored timestamps order correctly as text. Values that do not parse
// are returned unchanged.
func CanonicalTime(raw any) any {
	parsed := ParseTime(raw, time.Time{})
	if parsed.IsZero() {
		return raw
	}
	return FormatTime(parsed)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime accepts a time.Time or a timestamp string in any of the
// forms backends emit (RFC 3339, Postgres text with a space separator
// or short offset, or no offset meaning UTC). Anything else returns
// fallback.
func ParseTime(raw any, fallback time.Time) time.Time {
	switch value := raw.(type) {
	case time.Time:
		return value.UTC()
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.UTC()
			}
		}
	}
	return fallback
}
