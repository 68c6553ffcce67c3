// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestParseUserStatus(t *testing.T) {
	tests := []struct {
		raw  any
		want UserStatus
	}{
		{"online", StatusOnline},
		{"away", StatusAway},
		{"busy", StatusBusy},
		{"offline", StatusOffline},
		{"ONLINE", StatusOffline},
		{"invisible", StatusOffline},
		{"", StatusOffline},
		{nil, StatusOffline},
		{42, StatusOffline},
		{map[string]any{}, StatusOffline},
	}
	for _, test := range tests {
		if got := ParseUserStatus(test.raw); got != test.want {
			t.Errorf("ParseUserStatus(%#v) = %q, want %q", test.raw, got, test.want)
		}
	}
}

func TestParseMessageStatus(t *testing.T) {
	tests := []struct {
		raw  any
		want MessageStatus
	}{
		{"sent", MessageSent},
		{"delivered", MessageDelivered},
		{"seen", MessageSeen},
		{"read", MessageSent},
		{nil, MessageSent},
		{true, MessageSent},
	}
	for _, test := range tests {
		if got := ParseMessageStatus(test.raw); got != test.want {
			t.Errorf("ParseMessageStatus(%#v) = %q, want %q", test.raw, got, test.want)
		}
	}
}

func TestParseContentAndConversationType(t *testing.T) {
	for raw, want := range map[string]ContentType{
		"text": ContentText, "image": ContentImage, "file": ContentFile,
		"emoji": ContentEmoji, "video": ContentText, "": ContentText,
	} {
		if got := ParseContentType(raw); got != want {
			t.Errorf("ParseContentType(%q) = %q, want %q", raw, got, want)
		}
	}
	for raw, want := range map[string]ConversationType{
		"direct": ConversationDirect, "group": ConversationGroup,
		"community": ConversationCommunity, "channel": ConversationGroup,
	} {
		if got := ParseConversationType(raw); got != want {
			t.Errorf("ParseConversationType(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestMessageStatusMonotonic(t *testing.T) {
	if got := MessageSeen.Max(MessageDelivered); got != MessageSeen {
		t.Errorf("seen.Max(delivered) = %q", got)
	}
	if got := MessageSent.Max(MessageDelivered); got != MessageDelivered {
		t.Errorf("sent.Max(delivered) = %q", got)
	}
}

func TestParseReactions(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []Reaction
	}{
		{"nil", nil, []Reaction{}},
		{"not a list", map[string]any{"user_id": "u1"}, []Reaction{}},
		{"malformed json string", `[{"user_id":`, []Reaction{}},
		{
			"decoded array",
			[]any{
				map[string]any{"user_id": "u1", "emoji": "👍"},
				map[string]any{"user_id": "u2", "emoji": "🎉"},
			},
			[]Reaction{{"u1", "👍"}, {"u2", "🎉"}},
		},
		{
			"drops incomplete entries",
			[]any{
				map[string]any{"user_id": "u1"},
				map[string]any{"emoji": "👍"},
				"not an object",
				map[string]any{"user_id": 7, "emoji": "👍"},
				map[string]any{"user_id": "u3", "emoji": "👍"},
			},
			[]Reaction{{"7", "👍"}, {"u3", "👍"}},
		},
		{
			"dedupes pairs keeping first",
			`[{"user_id":"u1","emoji":"👍"},{"user_id":"u1","emoji":"👍"},{"user_id":"u1","emoji":"❤️"}]`,
			[]Reaction{{"u1", "👍"}, {"u1", "❤️"}},
		},
		{
			"raw json",
			json.RawMessage(`[{"user_id":"u9","emoji":"🔥"}]`),
			[]Reaction{{"u9", "🔥"}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ParseReactions(test.raw)
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("ParseReactions = %#v, want %#v", got, test.want)
			}
		})
	}
}

func TestParseReactionsRoundTripStable(t *testing.T) {
	inputs := []any{
		`[{"user_id":"u1","emoji":"👍"},{"user_id":"u1","emoji":"👍"},{"user_id":"","emoji":"x"}]`,
		[]any{map[string]any{"user_id": "a", "emoji": "b"}, map[string]any{"user_id": "a", "emoji": "c"}},
		nil,
		"garbage",
	}
	for _, input := range inputs {
		first := ParseReactions(input)

		// Through the row form and through a JSON encoding, as a backend
		// would store it.
		second := ParseReactions(ReactionsValue(first))
		encoded, err := json.Marshal(ReactionsValue(first))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		third := ParseReactions(string(encoded))

		if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(first, third) {
			t.Errorf("round trip of %#v unstable: %v / %v / %v", input, first, second, third)
		}
		seen := map[Reaction]bool{}
		for _, reaction := range first {
			if seen[reaction] {
				t.Errorf("duplicate %v in %v", reaction, first)
			}
			seen[reaction] = true
		}
	}
}

func TestParseUserDefaults(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	user := ParseUser(map[string]any{
		"id":       "u1",
		"username": "alice",
		"status":   "dancing",
	}, now)

	if user.Role != DefaultRole {
		t.Errorf("Role = %q, want %q", user.Role, DefaultRole)
	}
	if user.Status != StatusOffline {
		t.Errorf("Status = %q, want offline", user.Status)
	}
	if !user.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", user.LastSeen, now)
	}

	full := ParseUser(map[string]any{
		"id":         "u2",
		"username":   "bob",
		"full_name":  "Bob Stone",
		"avatar_url": "https://example.com/b.png",
		"email":      "bob@example.com",
		"role":       "admin",
		"status":     "busy",
		"last_seen":  "2026-03-01T10:00:00.5+00:00",
	}, now)
	want := User{
		ID: "u2", Username: "bob", FullName: "Bob Stone",
		AvatarURL: "https://example.com/b.png", Email: "bob@example.com",
		Role: "admin", Status: StatusBusy,
		LastSeen: time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC),
	}
	if !reflect.DeepEqual(full, want) {
		t.Errorf("ParseUser = %+v, want %+v", full, want)
	}
}

func TestParseMessage(t *testing.T) {
	message := ParseMessage(map[string]any{
		"id":              "m1",
		"conversation_id": "c1",
		"sender_id":       "u1",
		"content":         "hello",
		"content_type":    "sticker",
		"created_at":      "2026-01-01 10:00:00+00",
		"is_edited":       int64(1),
		"status":          "delivered",
		"reactions":       `[{"user_id":"u2","emoji":"👍"}]`,
		"reply_to":        nil,
	})
	if message.ContentType != ContentText {
		t.Errorf("ContentType = %q, want text", message.ContentType)
	}
	wantCreated := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !message.CreatedAt.Equal(wantCreated) || !message.UpdatedAt.Equal(wantCreated) {
		t.Errorf("CreatedAt/UpdatedAt = %v/%v, want %v", message.CreatedAt, message.UpdatedAt, wantCreated)
	}
	if !message.IsEdited {
		t.Error("IsEdited = false, want true for integer 1")
	}
	if message.Status != MessageDelivered || len(message.Reactions) != 1 || message.ReplyTo != "" {
		t.Errorf("message = %+v", message)
	}
}

func TestParseConversation(t *testing.T) {
	conversation := ParseConversation(map[string]any{
		"id":         "c1",
		"type":       "direct",
		"direct_key": "a|b",
		"is_pinned":  "true",
		"created_at": FormatTime(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)),
	})
	if conversation.Type != ConversationDirect || conversation.DirectKey != "a|b" || !conversation.IsPinned {
		t.Errorf("conversation = %+v", conversation)
	}
	if conversation.Participants == nil {
		t.Error("Participants is nil, want empty")
	}
}

func TestFormatTimeSortsLexicographically(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	earlier := FormatTime(base)
	later := FormatTime(base.Add(time.Microsecond))
	much := FormatTime(base.Add(10 * time.Hour))
	if !(earlier < later && later < much) {
		t.Fatalf("ordering broken: %s %s %s", earlier, later, much)
	}
	if len(earlier) != len(much) {
		t.Fatalf("width differs: %q vs %q", earlier, much)
	}
	if got := ParseTime(earlier, time.Time{}); !got.Equal(base) {
		t.Fatalf("ParseTime(FormatTime(t)) = %v, want %v", got, base)
	}
}

func TestParseTimeFallback(t *testing.T) {
	fallback := time.Unix(100, 0).UTC()
	for _, raw := range []any{nil, "", "yesterday", 12345} {
		if got := ParseTime(raw, fallback); !got.Equal(fallback) {
			t.Errorf("ParseTime(%#v) = %v, want fallback", raw, got)
		}
	}
}

func TestCanonicalTime(t *testing.T) {
	tests := []struct {
		raw  any
		want any
	}{
		{"2026-06-01T10:00:00Z", "2026-06-01T10:00:00.000000Z"},
		{"2026-06-01T10:00:00.5Z", "2026-06-01T10:00:00.500000Z"},
		{"2026-06-01T11:30:00+02:00", "2026-06-01T09:30:00.000000Z"},
		{"2026-06-01 10:00:00+00", "2026-06-01T10:00:00.000000Z"},
		{time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), "2026-06-01T10:00:00.000000Z"},
		{"not a time", "not a time"},
		{nil, nil},
	}
	for _, test := range tests {
		if got := CanonicalTime(test.raw); got != test.want {
			t.Errorf("CanonicalTime(%#v) = %#v, want %#v", test.raw, got, test.want)
		}
	}
}
