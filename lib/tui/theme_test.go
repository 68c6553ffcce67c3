// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello w…"},
		{"newlines flattened", "a\nb", 5, "a b"},
		{"wide runes", "👍👍👍👍", 5, "👍👍…"},
		{"zero width", "hello", 0, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Truncate(test.text, test.width)
			if got != test.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", test.text, test.width, got, test.want)
			}
			if lipgloss.Width(got) > test.width {
				t.Errorf("width %d exceeds %d", lipgloss.Width(got), test.width)
			}
		})
	}
}

func TestStatusColor(t *testing.T) {
	theme := DefaultTheme
	tests := []struct {
		status chat.UserStatus
		want   lipgloss.Color
	}{
		{chat.StatusOnline, theme.StatusOnline},
		{chat.StatusAway, theme.StatusAway},
		{chat.StatusBusy, theme.StatusBusy},
		{chat.StatusOffline, theme.StatusOffline},
		{"invisible", theme.FaintText},
	}
	for _, test := range tests {
		if got := theme.StatusColor(test.status); got != test.want {
			t.Errorf("StatusColor(%q) = %q, want %q", test.status, got, test.want)
		}
	}
}

func TestUnreadBadge(t *testing.T) {
	theme := DefaultTheme
	if badge := theme.UnreadBadge(0); badge != "" {
		t.Errorf("UnreadBadge(0) = %q, want empty", badge)
	}
	if badge := theme.UnreadBadge(3); !strings.Contains(badge, " 3 ") {
		t.Errorf("UnreadBadge(3) = %q", badge)
	}
	if badge := theme.UnreadBadge(250); !strings.Contains(badge, "99+") {
		t.Errorf("UnreadBadge(250) = %q", badge)
	}
}

func TestDeliveryMark(t *testing.T) {
	theme := DefaultTheme
	if mark := theme.DeliveryMark(chat.MessageSent); !strings.Contains(mark, "✓") || strings.Contains(mark, "✓✓") {
		t.Errorf("sent mark = %q", mark)
	}
	for _, status := range []chat.MessageStatus{chat.MessageDelivered, chat.MessageSeen} {
		if mark := theme.DeliveryMark(status); !strings.Contains(mark, "✓✓") {
			t.Errorf("%s mark = %q", status, mark)
		}
	}
}
