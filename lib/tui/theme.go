// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// Theme is the color palette for chatsync output.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color
	Accent     lipgloss.Color

	// Presence.
	StatusOnline  lipgloss.Color
	StatusAway    lipgloss.Color
	StatusBusy    lipgloss.Color
	StatusOffline lipgloss.Color

	// Delivery status of the local user's own messages.
	DeliverySent      lipgloss.Color
	DeliveryDelivered lipgloss.Color
	DeliverySeen      lipgloss.Color

	UnreadForeground lipgloss.Color
	UnreadBackground lipgloss.Color

	PinnedForeground lipgloss.Color
	TypingForeground lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),
	Accent:     lipgloss.Color("75"),

	StatusOnline:  lipgloss.Color("114"), // green
	StatusAway:    lipgloss.Color("220"), // amber
	StatusBusy:    lipgloss.Color("196"), // red
	StatusOffline: lipgloss.Color("240"), // dim gray

	DeliverySent:      lipgloss.Color("245"),
	DeliveryDelivered: lipgloss.Color("252"),
	DeliverySeen:      lipgloss.Color("75"),

	UnreadForeground: lipgloss.Color("255"),
	UnreadBackground: lipgloss.Color("161"), // magenta

	PinnedForeground: lipgloss.Color("208"),
	TypingForeground: lipgloss.Color("141"),
}

// StatusColor returns the presence color. Unknown values use FaintText.
func (theme Theme) StatusColor(status chat.UserStatus) lipgloss.Color {
	switch status {
	case chat.StatusOnline:
		return theme.StatusOnline
	case chat.StatusAway:
		return theme.StatusAway
	case chat.StatusBusy:
		return theme.StatusBusy
	case chat.StatusOffline:
		return theme.StatusOffline
	default:
		return theme.FaintText
	}
}

// PresenceDot renders a colored dot for status.
func (theme Theme) PresenceDot(status chat.UserStatus) string {
	return lipgloss.NewStyle().Foreground(theme.StatusColor(status)).Render("●")
}

// DeliveryMark renders the tick marks for a message status: one for
// sent, two for delivered, two in the accent color for seen.
func (theme Theme) DeliveryMark(status chat.MessageStatus) string {
	switch status {
	case chat.MessageSeen:
		return lipgloss.NewStyle().Foreground(theme.DeliverySeen).Bold(true).Render("✓✓")
	case chat.MessageDelivered:
		return lipgloss.NewStyle().Foreground(theme.DeliveryDelivered).Render("✓✓")
	default:
		return lipgloss.NewStyle().Foreground(theme.DeliverySent).Render("✓ ")
	}
}

// UnreadBadge renders count as a reverse badge, or an empty string of
// the same visual weight when count is zero.
func (theme Theme) UnreadBadge(count int) string {
	if count <= 0 {
		return ""
	}
	label := " " + strconv.Itoa(count) + " "
	if count > 99 {
		label = " 99+ "
	}
	return lipgloss.NewStyle().
		Foreground(theme.UnreadForeground).
		Background(theme.UnreadBackground).
		Bold(true).
		Render(label)
}

// Faint renders text in the faint color.
func (theme Theme) Faint(text string) string {
	return lipgloss.NewStyle().Foreground(theme.FaintText).Render(text)
}

// Bold renders text bold in the normal color.
func (theme Theme) Bold(text string) string {
	return lipgloss.NewStyle().Foreground(theme.NormalText).Bold(true).Render(text)
}

// Pinned renders the pin marker.
func (theme Theme) Pinned() string {
	return lipgloss.NewStyle().Foreground(theme.PinnedForeground).Render("📌")
}

// Typing renders a typing notice.
func (theme Theme) Typing(who string) string {
	return lipgloss.NewStyle().Foreground(theme.TypingForeground).Italic(true).Render(who + " is typing…")
}

// Truncate shortens text to at most width terminal cells, ending in an
// ellipsis when cut. Width is measured with lipgloss.Width, so wide
// runes count double.
func Truncate(text string, width int) string {
	if width <= 0 {
		return ""
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if lipgloss.Width(text) <= width {
		return text
	}
	var builder strings.Builder
	used := 0
	for _, r := range text {
		cell := lipgloss.Width(string(r))
		if used+cell > width-1 {
			break
		}
		builder.WriteRune(r)
		used += cell
	}
	return builder.String() + "…"
}
