// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/tui"
)

const (
	nameWidth    = 24
	previewWidth = 48
)

// pad right-fills text to width terminal cells. Styled text is
// measured without its escape sequences.
func pad(text string, width int) string {
	if gap := width - lipgloss.Width(text); gap > 0 {
		return text + strings.Repeat(" ", gap)
	}
	return text
}

func renderUsers(w io.Writer, theme tui.Theme, users []chat.User) {
	for _, user := range users {
		fmt.Fprintf(w, "%s %s %s %s\n",
			theme.PresenceDot(user.Status),
			pad(tui.Truncate(user.Label(), nameWidth), nameWidth),
			pad("@"+user.Username, nameWidth),
			theme.Faint(user.ID))
	}
}

func renderConversations(w io.Writer, theme tui.Theme, conversations []chat.Conversation, userID string) {
	for _, conversation := range conversations {
		marker := "  "
		if conversation.IsPinned {
			marker = theme.Pinned()
		}
		name := tui.Truncate(conversation.DisplayName(userID), nameWidth)
		if conversation.UnreadCount > 0 {
			name = theme.Bold(name)
		}
		preview := ""
		if last := conversation.LastMessage; last != nil {
			preview = tui.Truncate(last.Content, previewWidth)
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			marker,
			pad(name, nameWidth),
			pad(theme.UnreadBadge(conversation.UnreadCount), 5),
			pad(theme.Faint(preview), previewWidth),
			theme.Faint(conversation.ID))
	}
}

// userLookup resolves a sender id to a display label.
type userLookup func(id string) (chat.User, bool)

func senderLabel(lookup userLookup, id string) string {
	if lookup != nil {
		if user, ok := lookup(id); ok {
			return user.Label()
		}
	}
	return chat.UnknownUserName
}

func renderMessages(w io.Writer, theme tui.Theme, messages []chat.Message, userID string, lookup userLookup) {
	byID := make(map[string]chat.Message, len(messages))
	for _, message := range messages {
		byID[message.ID] = message
	}
	for _, message := range messages {
		renderMessage(w, theme, message, userID, lookup, byID)
	}
}

func renderMessage(w io.Writer, theme tui.Theme, message chat.Message, userID string, lookup userLookup, byID map[string]chat.Message) {
	if message.ReplyTo != "" {
		quoted := theme.Faint("  ↳ (message deleted)")
		if target, ok := byID[message.ReplyTo]; ok {
			quoted = theme.Faint("  ↳ " + senderLabel(lookup, target.SenderID) + ": " + tui.Truncate(target.Content, previewWidth))
		}
		fmt.Fprintln(w, quoted)
	}

	mark := "  "
	if message.SenderID == userID {
		mark = theme.DeliveryMark(message.Status)
	}
	edited := ""
	if message.IsEdited {
		edited = theme.Faint(" (edited)")
	}
	content := message.Content
	if message.ContentType != chat.ContentText && message.ContentType != "" {
		content = "[" + string(message.ContentType) + "] " + content
	}
	fmt.Fprintf(w, "%s %s %s %s%s %s\n",
		theme.Faint(message.CreatedAt.Local().Format(time.DateTime)),
		mark,
		theme.Bold(senderLabel(lookup, message.SenderID)+":"),
		content,
		edited,
		theme.Faint(message.ID))

	if groups := chat.SummarizeReactions(message.Reactions); len(groups) > 0 {
		parts := make([]string, 0, len(groups))
		for _, group := range groups {
			parts = append(parts, fmt.Sprintf("%s %d", group.Emoji, group.Count))
		}
		fmt.Fprintln(w, "    "+strings.Join(parts, "  "))
	}
}
