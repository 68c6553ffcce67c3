// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "time"

// UserStatus is a user's presence.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusAway    UserStatus = "away"
	StatusBusy    UserStatus = "busy"
)

// ContentType describes how a message's content is rendered.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
	ContentEmoji ContentType = "emoji"
)

// MessageStatus is a message's delivery state. It only moves forward:
// sent, then delivered, then seen.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageSeen      MessageStatus = "seen"
)

// Rank orders statuses for monotonic comparison.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageDelivered:
		return 1
	case MessageSeen:
		return 2
	default:
		return 0
	}
}

// Max returns whichever of s and other is further along.
func (s MessageStatus) Max(other MessageStatus) MessageStatus {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// ConversationType distinguishes one-to-one from multi-party
// conversations.
type ConversationType string

const (
	ConversationDirect    ConversationType = "direct"
	ConversationGroup     ConversationType = "group"
	ConversationCommunity ConversationType = "community"
)

// User is a profile row plus presence.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	FullName  string     `json:"full_name,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role"`
	Status    UserStatus `json:"status"`
	LastSeen  time.Time  `json:"last_seen"`
}

// Label returns the full name, or the username when no full name is
// set.
func (u User) Label() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Reaction is one user's emoji on a message. A message holds at most
// one Reaction per (UserID, Emoji) pair.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is one entry in a conversation's history.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	ContentType    ContentType   `json:"content_type"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	IsEdited       bool          `json:"is_edited"`
	Status         MessageStatus `json:"status"`
	Reactions      []Reaction    `json:"reactions"`

	// ReplyTo is the id of the message this one answers. The target
	// may since have been deleted; readers must tolerate a dangling
	// reference.
	ReplyTo string `json:"reply_to,omitempty"`
}

// IsUnreadFor reports whether the message counts toward userID's
// unread total: someone else sent it and userID has not seen it.
func (m Message) IsUnreadFor(userID string) bool {
	return m.SenderID != userID && m.Status != MessageSeen
}

// HasReaction reports whether userID has reacted with emoji.
func (m Message) HasReaction(userID, emoji string) bool {
	for _, reaction := range m.Reactions {
		if reaction.UserID == userID && reaction.Emoji == emoji {
			return true
		}
	}
	return false
}

// Conversation is a conversation row with its derived fields filled
// in by the conversation loader.
type Conversation struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	Type      ConversationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	IsPinned  bool             `json:"is_pinned"`

	// DirectKey is the sorted participant pair of a direct
	// conversation (see [DirectKey]). Empty for other types.
	DirectKey string `json:"direct_key,omitempty"`

	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"last_message,omitempty"`

	// UnreadCount is computed from the live message set at load time
	// and is never stored.
	UnreadCount int `json:"unread_count"`
}

// RecencyKey is the time the conversation list sorts on: the last
// message's creation time, or the conversation's own creation time
// when it has no messages.
func (c Conversation) RecencyKey() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}
