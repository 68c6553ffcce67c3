// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/memgw"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// newTestActions returns Actions bound to u-me with the messages of
// conversationID open, or nothing open when conversationID is empty.
func newTestActions(t *testing.T, f *fixture, conversationID string) (*Actions, *Messages) {
	t.Helper()
	messages := newTestMessages(f)
	t.Cleanup(messages.Close)
	if conversationID != "" {
		if err := messages.Open(f.ctx, conversationID, "u-me"); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	actions := NewActions(ActionsConfig{
		Store:    f.conn,
		Clock:    f.clock,
		Logger:   f.logger,
		Messages: messages,
	})
	actions.Bind("u-me")
	return actions, messages
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	f.conversation("c1", chat.ConversationGroup, at(8, 0), "u-me", "u-bob")
	actions, messages := newTestActions(t, f, "c1")

	f.clock.Advance(time.Hour)
	sent, err := actions.SendMessage(f.ctx, "hello", "", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.ID == "" || sent.Status != chat.MessageSent || sent.ContentType != chat.ContentText || len(sent.Reactions) != 0 {
		t.Errorf("sent = %+v", sent)
	}
	if got := f.row(gateway.Conversations, "c1")["updated_at"]; got != chat.FormatTime(f.clock.Now()) {
		t.Errorf("conversation updated_at = %v, want %s", got, chat.FormatTime(f.clock.Now()))
	}

	// The cache changes only through the notification.
	f.waitUntil("sent message visible", func() bool {
		_, ok := messages.Get(sent.ID)
		return ok
	})

	reply, err := actions.SendMessage(f.ctx, "follow-up", chat.ContentText, sent.ID)
	if err != nil {
		t.Fatalf("SendMessage(reply): %v", err)
	}
	if reply.ReplyTo != sent.ID {
		t.Errorf("reply_to = %q, want %q", reply.ReplyTo, sent.ID)
	}
}

func TestSendMessageWithoutConversation(t *testing.T) {
	f := newFixture(t)
	actions, _ := newTestActions(t, f, "")

	if _, err := actions.SendMessage(f.ctx, "lost", "", ""); !errors.Is(err, ErrNoActiveConversation) {
		t.Errorf("SendMessage = %v, want ErrNoActiveConversation", err)
	}
	if rows := f.backend.Rows(gateway.Messages); len(rows) != 0 {
		t.Errorf("a message was written: %v", rows)
	}

	actions.Bind("")
	if _, err := actions.CreateConversation(f.ctx, []string{"u-bob"}, chat.ConversationDirect, ""); !errors.Is(err, ErrNotStarted) {
		t.Errorf("CreateConversation unbound = %v, want ErrNotStarted", err)
	}
}

func TestSendMessageTouchFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.conversation("c1", chat.ConversationGroup, at(8, 0), "u-me")
	actions, _ := newTestActions(t, f, "c1")

	f.backend.FailNext(memgw.OpUpdate, gateway.Conversations, errors.New("refused"))
	sent, err := actions.SendMessage(f.ctx, "hello", "", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if f.row(gateway.Messages, sent.ID) == nil {
		t.Error("message not stored")
	}
}

func TestEditAndDeleteAreOwnershipScoped(t *testing.T) {
	f := newFixture(t)
	mine := f.message("c1", "u-me", "mine", at(9, 0), chat.MessageSeen)
	theirs := f.message("c1", "u-bob", "theirs", at(9, 1), chat.MessageSeen)
	actions, _ := newTestActions(t, f, "")

	if err := actions.EditMessage(f.ctx, mine, "mine, edited"); err != nil {
		t.Fatalf("EditMessage(own): %v", err)
	}
	row := f.row(gateway.Messages, mine)
	if row["content"] != "mine, edited" || row["is_edited"] != true {
		t.Errorf("edited row = %v", row)
	}

	if err := actions.EditMessage(f.ctx, theirs, "hijacked"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("EditMessage(other) = %v, want ErrNoMatch", err)
	}
	if got := f.row(gateway.Messages, theirs)["content"]; got != "theirs" {
		t.Errorf("other user's message changed to %v", got)
	}

	if err := actions.DeleteMessage(f.ctx, theirs); !errors.Is(err, ErrNoMatch) {
		t.Errorf("DeleteMessage(other) = %v, want ErrNoMatch", err)
	}
	if err := actions.DeleteMessage(f.ctx, mine); err != nil {
		t.Errorf("DeleteMessage(own): %v", err)
	}
	if err := actions.DeleteMessage(f.ctx, mine); !errors.Is(err, ErrNoMatch) {
		t.Errorf("DeleteMessage(already gone) = %v, want ErrNoMatch", err)
	}
	if rows := f.backend.Rows(gateway.Messages); len(rows) != 1 {
		t.Errorf("%d messages left, want 1", len(rows))
	}
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t)
	a := f.message("c1", "u-bob", "a", at(9, 0), chat.MessageDelivered)
	b := f.message("c1", "u-bob", "b", at(9, 1), chat.MessageDelivered)
	own := f.message("c1", "u-me", "c", at(9, 2), chat.MessageSent)
	actions, messages := newTestActions(t, f, "c1")
	messages.Wait()

	if err := actions.MarkMessageAsSeen(f.ctx, a); err != nil {
		t.Fatalf("MarkMessageAsSeen: %v", err)
	}
	if err := actions.MarkMessageAsSeen(f.ctx, "missing"); err != nil {
		t.Errorf("MarkMessageAsSeen(missing) = %v, want nil", err)
	}
	f.waitUntil("a seen", func() bool {
		message, _ := messages.Get(a)
		return message.Status == chat.MessageSeen
	})

	count, err := actions.MarkConversationSeen(f.ctx)
	if err != nil {
		t.Fatalf("MarkConversationSeen: %v", err)
	}
	if count != 1 {
		t.Errorf("marked %d, want 1", count)
	}
	if got := f.row(gateway.Messages, b)["status"]; got != "seen" {
		t.Errorf("b status = %v", got)
	}
	if got := f.row(gateway.Messages, own)["status"]; got != "sent" {
		t.Errorf("own message status = %v, want untouched", got)
	}
}

func TestReactions(t *testing.T) {
	for _, disabled := range []bool{false, true} {
		name := "atomic"
		if disabled {
			name = "fetch-then-update"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, func(cfg *memgw.Config) { cfg.DisableFunctions = disabled })
			id := f.message("c1", "u-bob", "hi", at(9, 0), chat.MessageSeen)
			actions, _ := newTestActions(t, f, "")

			for range 2 {
				if err := actions.AddReaction(f.ctx, id, "👍"); err != nil {
					t.Fatalf("AddReaction: %v", err)
				}
			}
			if err := actions.AddReaction(f.ctx, id, "🎉"); err != nil {
				t.Fatalf("AddReaction: %v", err)
			}
			reactions := chat.ParseReactions(f.row(gateway.Messages, id)["reactions"])
			if len(reactions) != 2 {
				t.Fatalf("reactions = %v, want 2 distinct", reactions)
			}

			if err := actions.RemoveReaction(f.ctx, id, "👍"); err != nil {
				t.Fatalf("RemoveReaction: %v", err)
			}
			reactions = chat.ParseReactions(f.row(gateway.Messages, id)["reactions"])
			if len(reactions) != 1 || reactions[0] != (chat.Reaction{UserID: "u-me", Emoji: "🎉"}) {
				t.Errorf("reactions = %v", reactions)
			}
			if actions.functionsMissing.Load() != disabled {
				t.Errorf("functionsMissing = %v, want %v", actions.functionsMissing.Load(), disabled)
			}

			if err := actions.AddReaction(f.ctx, "missing", "👍"); !gateway.IsCode(err, gateway.CodeNotFound) {
				t.Errorf("AddReaction(missing) = %v, want not found", err)
			}
		})
	}
}

func TestCreateDirectConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.user("u-me", "me", "")
	f.user("u-bob", "bob", "")
	actions, _ := newTestActions(t, f, "")

	first, err := actions.CreateConversation(f.ctx, []string{"u-bob"}, chat.ConversationDirect, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	second, err := actions.CreateConversation(f.ctx, []string{"u-bob", "u-me"}, chat.ConversationDirect, "")
	if err != nil {
		t.Fatalf("CreateConversation again: %v", err)
	}
	if first != second {
		t.Errorf("second create returned %s, want %s", second, first)
	}
	if rows := f.backend.Rows(gateway.Conversations); len(rows) != 1 {
		t.Errorf("%d conversations stored, want 1", len(rows))
	}
	if rows := f.backend.Rows(gateway.ConversationParticipants); len(rows) != 2 {
		t.Errorf("%d participant rows, want 2", len(rows))
	}

	// The same pair from the other side.
	bobActions := NewActions(ActionsConfig{Store: f.conn, Clock: f.clock, Logger: f.logger})
	bobActions.Bind("u-bob")
	fromBob, err := bobActions.CreateConversation(f.ctx, []string{"u-me"}, chat.ConversationDirect, "")
	if err != nil {
		t.Fatalf("CreateConversation from bob: %v", err)
	}
	if fromBob != first {
		t.Errorf("bob got %s, want %s", fromBob, first)
	}
}

func TestCreateDirectConversationResolvesConflict(t *testing.T) {
	f := newFixture(t)
	actions, _ := newTestActions(t, f, "")

	// A concurrent creator stored the row but its participants are
	// not visible yet, so the intersection check finds nothing.
	f.insert(gateway.Conversations, gateway.Row{
		"id":         "c-raced",
		"type":       "direct",
		"direct_key": chat.DirectKey("u-me", "u-bob"),
	})
	id, err := actions.CreateConversation(f.ctx, []string{"u-bob"}, chat.ConversationDirect, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if id != "c-raced" {
		t.Errorf("id = %s, want c-raced", id)
	}
	if rows := f.backend.Rows(gateway.Conversations); len(rows) != 1 {
		t.Errorf("%d conversations stored, want 1", len(rows))
	}
}

func TestCreateConversationValidation(t *testing.T) {
	f := newFixture(t)
	actions, _ := newTestActions(t, f, "")

	tests := []struct {
		name         string
		participants []string
		kind         chat.ConversationType
	}{
		{"direct with self only", []string{"u-me"}, chat.ConversationDirect},
		{"direct with two others", []string{"u-bob", "u-carol"}, chat.ConversationDirect},
		{"unknown type", []string{"u-bob"}, "channel"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := actions.CreateConversation(f.ctx, test.participants, test.kind, ""); err == nil {
				t.Error("CreateConversation succeeded")
			}
		})
	}
	if rows := f.backend.Rows(gateway.Conversations); len(rows) != 0 {
		t.Errorf("invalid creates stored %d rows", len(rows))
	}
}

func TestCreateGroupConversation(t *testing.T) {
	f := newFixture(t)
	actions, _ := newTestActions(t, f, "")

	first, err := actions.CreateConversation(f.ctx, []string{"u-bob", "u-carol", "u-bob"}, chat.ConversationGroup, "Team")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	second, err := actions.CreateConversation(f.ctx, []string{"u-bob", "u-carol"}, chat.ConversationGroup, "Team")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if first == second {
		t.Error("group creation reused an existing conversation")
	}
	if got := f.row(gateway.Conversations, first)["name"]; got != "Team" {
		t.Errorf("name = %v", got)
	}
	if rows := f.backend.Rows(gateway.ConversationParticipants); len(rows) != 6 {
		t.Errorf("%d participant rows, want 6", len(rows))
	}
}

func TestCreateConversationCompensates(t *testing.T) {
	f := newFixture(t)
	actions, _ := newTestActions(t, f, "")

	injected := errors.New("participants rejected")
	f.backend.FailNext(memgw.OpInsert, gateway.ConversationParticipants, injected)
	if _, err := actions.CreateConversation(f.ctx, []string{"u-bob"}, chat.ConversationGroup, ""); !errors.Is(err, injected) {
		t.Fatalf("CreateConversation = %v, want injected failure", err)
	}
	if rows := f.backend.Rows(gateway.Conversations); len(rows) != 0 {
		t.Errorf("orphaned conversation left behind: %v", rows)
	}
}

func TestUpdateStatusAndProfile(t *testing.T) {
	f := newFixture(t)
	f.user("u-me", "me", "Me")
	actions, _ := newTestActions(t, f, "")

	f.clock.Advance(time.Minute)
	if err := actions.UpdateStatus(f.ctx, chat.StatusBusy); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	row := f.row(gateway.Profiles, "u-me")
	if row["status"] != "busy" || row["last_seen"] != chat.FormatTime(f.clock.Now()) {
		t.Errorf("profile = %v", row)
	}

	fullName := "Me Myself"
	if err := actions.UpdateProfile(f.ctx, ProfilePatch{FullName: &fullName}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	row = f.row(gateway.Profiles, "u-me")
	if row["full_name"] != fullName || row["username"] != "me" {
		t.Errorf("profile = %v", row)
	}
}
