// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"reflect"
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2026, 5, 1, hour, 0, 0, 0, time.UTC)
}

func TestSortConversationsByRecency(t *testing.T) {
	conversations := []Conversation{
		{ID: "ten", LastMessage: &Message{CreatedAt: at(10)}},
		{ID: "nine", LastMessage: &Message{CreatedAt: at(9)}},
		{ID: "eleven", LastMessage: &Message{CreatedAt: at(11)}},
		{ID: "empty-at-ten-thirty", CreatedAt: at(10).Add(30 * time.Minute)},
	}
	SortConversations(conversations)

	var order []string
	for _, conversation := range conversations {
		order = append(order, conversation.ID)
	}
	want := []string{"eleven", "empty-at-ten-thirty", "ten", "nine"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestCountUnread(t *testing.T) {
	var messages []Message
	for i := 0; i < 5; i++ {
		status := MessageDelivered
		if i < 2 {
			status = MessageSeen
		}
		messages = append(messages, Message{SenderID: "bob", Status: status})
	}
	messages = append(messages, Message{SenderID: "alice", Status: MessageSent})

	if got := CountUnread(messages, "alice"); got != 3 {
		t.Fatalf("CountUnread = %d, want 3", got)
	}
}

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	if DirectKey("b", "a") != DirectKey("a", "b") || DirectKey("a", "b") != "a|b" {
		t.Fatalf("DirectKey not normalized: %q %q", DirectKey("b", "a"), DirectKey("a", "b"))
	}
}

func TestDisplayName(t *testing.T) {
	alice := User{ID: "alice", Username: "alice"}
	bob := User{ID: "bob", Username: "bobby", FullName: "Bob Stone"}
	carol := User{ID: "carol", Username: "carol"}

	tests := []struct {
		name         string
		conversation Conversation
		want         string
	}{
		{"explicit name", Conversation{Name: "Launch", Type: ConversationGroup}, "Launch"},
		{"direct full name", Conversation{Type: ConversationDirect, Participants: []User{alice, bob}}, "Bob Stone"},
		{"direct username fallback", Conversation{Type: ConversationDirect, Participants: []User{carol, alice}}, "carol"},
		{"direct missing profile", Conversation{Type: ConversationDirect, Participants: []User{alice}}, UnknownUserName},
		{"group", Conversation{Type: ConversationGroup, Participants: []User{alice, bob, carol}}, "Group (3)"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.conversation.DisplayName("alice"); got != test.want {
				t.Errorf("DisplayName = %q, want %q", got, test.want)
			}
		})
	}
}

func TestConversationMatches(t *testing.T) {
	conversation := Conversation{
		Name:         "Design Review",
		Participants: []User{{Username: "dana", FullName: "Dana Whitfield"}},
	}
	for query, want := range map[string]bool{
		"":        true,
		"review":  true,
		"WHIT":    true,
		"dana":    true,
		"missing": false,
	} {
		if got := conversation.Matches(query); got != want {
			t.Errorf("Matches(%q) = %v, want %v", query, got, want)
		}
	}
}

func TestReactionSetOperations(t *testing.T) {
	original := []Reaction{{"u1", "👍"}}

	added := WithReaction(original, "u2", "👍")
	again := WithReaction(added, "u2", "👍")
	if len(added) != 2 || !reflect.DeepEqual(added, again) {
		t.Fatalf("WithReaction not idempotent: %v then %v", added, again)
	}
	if len(original) != 1 {
		t.Fatalf("input modified: %v", original)
	}

	removed := WithoutReaction(added, "u1", "👍")
	if !reflect.DeepEqual(removed, []Reaction{{"u2", "👍"}}) {
		t.Fatalf("WithoutReaction = %v", removed)
	}
	if got := WithoutReaction(removed, "nobody", "👍"); !reflect.DeepEqual(got, removed) {
		t.Fatalf("removing an absent pair changed the set: %v", got)
	}
}

func TestSummarizeReactions(t *testing.T) {
	groups := SummarizeReactions([]Reaction{
		{"u1", "❤️"}, {"u2", "👍"}, {"u3", "❤️"}, {"u3", "❤️"},
	})
	want := []ReactionGroup{
		{Emoji: "❤️", Count: 2, UserIDs: []string{"u1", "u3"}},
		{Emoji: "👍", Count: 1, UserIDs: []string{"u2"}},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("SummarizeReactions = %+v, want %+v", groups, want)
	}
}
