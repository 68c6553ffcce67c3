// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitegw

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/testutil"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestBackend(t *testing.T) (*Backend, *Conn) {
	t.Helper()
	backend, err := Open(Config{
		Path:     testutil.DatabasePath(t),
		PoolSize: 4,
		Clock:    clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend, backend.Connect()
}

func mustInsert(t *testing.T, conn *Conn, table gateway.Table, rows ...gateway.Row) []gateway.Row {
	t.Helper()
	inserted, err := conn.Insert(context.Background(), table, rows...)
	if err != nil {
		t.Fatalf("Insert into %s: %v", table, err)
	}
	return inserted
}

func seedConversation(t *testing.T, conn *Conn, id string) {
	t.Helper()
	mustInsert(t, conn, gateway.Conversations, gateway.Row{"id": id, "type": "group"})
}

func TestInsertDefaultsAndShapes(t *testing.T) {
	_, conn := openTestBackend(t)
	seedConversation(t, conn, "c1")

	rows := mustInsert(t, conn, gateway.Messages, gateway.Row{
		"conversation_id": "c1",
		"sender_id":       "alice",
		"content":         "hi",
	})
	row := rows[0]
	if chat.Text(row["id"]) == "" {
		t.Error("id not generated")
	}
	if row["created_at"] != chat.FormatTime(epoch) {
		t.Errorf("created_at = %v", row["created_at"])
	}
	if row["is_edited"] != false || row["status"] != "sent" || row["content_type"] != "text" {
		t.Errorf("defaults = %v", row)
	}
	if reactions, ok := row["reactions"].([]any); !ok || len(reactions) != 0 {
		t.Errorf("reactions = %#v, want empty []any", row["reactions"])
	}
	if value, present := row["reply_to"]; !present || value != nil {
		t.Errorf("reply_to = %#v, want present nil", value)
	}

	message := chat.ParseMessage(row)
	if message.Content != "hi" || message.Status != chat.MessageSent {
		t.Errorf("parsed = %+v", message)
	}
}

func TestInsertValidation(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		table gateway.Table
		row   gateway.Row
		code  gateway.Code
	}{
		{"unknown table", "widgets", gateway.Row{"id": "w"}, gateway.CodeNotFound},
		{"unknown column", gateway.Profiles, gateway.Row{"id": "u", "shoe_size": 9}, gateway.CodeInvalid},
		{"missing required", gateway.Messages, gateway.Row{"content": "orphan"}, gateway.CodeInvalid},
		{"foreign key", gateway.Messages, gateway.Row{"conversation_id": "nope", "sender_id": "u"}, gateway.CodeInvalid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := conn.Insert(ctx, test.table, test.row); !gateway.IsCode(err, test.code) {
				t.Errorf("err = %v, want %s", err, test.code)
			}
		})
	}
}

func TestUniqueConstraints(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()

	key := chat.DirectKey("alice", "bob")
	mustInsert(t, conn, gateway.Conversations, gateway.Row{"type": "direct", "direct_key": key})
	if _, err := conn.Insert(ctx, gateway.Conversations, gateway.Row{"type": "direct", "direct_key": key}); !gateway.IsCode(err, gateway.CodeUniqueViolation) {
		t.Errorf("duplicate direct_key: err = %v, want unique violation", err)
	}
	// Group conversations leave direct_key NULL and never collide.
	mustInsert(t, conn, gateway.Conversations, gateway.Row{"type": "group"}, gateway.Row{"type": "group"})

	mustInsert(t, conn, gateway.Profiles, gateway.Row{"id": "u1", "username": "sam"})
	if _, err := conn.Insert(ctx, gateway.Profiles, gateway.Row{"id": "u2", "username": "sam"}); !gateway.IsCode(err, gateway.CodeUniqueViolation) {
		t.Errorf("duplicate username: err = %v, want unique violation", err)
	}
}

func TestInsertBatchIsAtomic(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()
	seedConversation(t, conn, "c1")

	_, err := conn.Insert(ctx, gateway.ConversationParticipants,
		gateway.Row{"conversation_id": "c1", "user_id": "alice"},
		gateway.Row{"conversation_id": "c1", "user_id": "alice"},
	)
	if !gateway.IsCode(err, gateway.CodeUniqueViolation) {
		t.Fatalf("err = %v, want unique violation", err)
	}
	rows, err := conn.Select(ctx, gateway.Query{Table: gateway.ConversationParticipants})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("partial batch stored %d rows", len(rows))
	}
}

func TestSelectFilters(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()
	for i, username := range []string{"carol", "alice", "Bob_1", "dave"} {
		mustInsert(t, conn, gateway.Profiles, gateway.Row{
			"id":        fmt.Sprintf("u%d", i),
			"username":  username,
			"full_name": username + " Example",
		})
	}

	usernames := func(rows []gateway.Row) string {
		var names []string
		for _, row := range rows {
			names = append(names, chat.Text(row["username"]))
		}
		return fmt.Sprint(names)
	}

	tests := []struct {
		name  string
		query gateway.Query
		want  string
	}{
		{"eq", gateway.Query{Filters: []gateway.Filter{gateway.Eq("id", "u1")}}, "[alice]"},
		{"neq ordered", gateway.Query{Filters: []gateway.Filter{gateway.Neq("id", "u1")}, OrderBy: "username"}, "[Bob_1 carol dave]"},
		{"in", gateway.Query{Filters: []gateway.Filter{gateway.In("id", []string{"u0", "u3"})}, OrderBy: "username", Descending: true}, "[dave carol]"},
		{"empty in", gateway.Query{Filters: []gateway.Filter{gateway.In("id", nil)}}, "[]"},
		{"ilike case", gateway.Query{Filters: []gateway.Filter{gateway.ILike("username", "BOB")}}, "[Bob_1]"},
		{"ilike literal underscore", gateway.Query{Filters: []gateway.Filter{gateway.ILike("username", "b_")}}, "[Bob_1]"},
		{"ilike wildcard escaped", gateway.Query{Filters: []gateway.Filter{gateway.ILike("username", "%")}}, "[]"},
		{"any of", gateway.Query{AnyOf: []gateway.Filter{gateway.Eq("username", "dave"), gateway.Eq("username", "alice")}, OrderBy: "username"}, "[alice dave]"},
		{"limit", gateway.Query{OrderBy: "username", Limit: 2}, "[Bob_1 alice]"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.query.Table = gateway.Profiles
			rows, err := conn.Select(ctx, test.query)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if got := usernames(rows); got != test.want {
				t.Errorf("got %s, want %s", got, test.want)
			}
		})
	}

	if _, err := conn.Select(ctx, gateway.Query{Table: gateway.Profiles, OrderBy: "id; DROP TABLE profiles"}); !gateway.IsCode(err, gateway.CodeInvalid) {
		t.Errorf("unknown order column: err = %v, want invalid", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()
	seedConversation(t, conn, "c1")
	rows := mustInsert(t, conn, gateway.Messages,
		gateway.Row{"conversation_id": "c1", "sender_id": "alice", "content": "a"},
		gateway.Row{"conversation_id": "c1", "sender_id": "bob", "content": "b"},
	)
	aliceID := chat.Text(rows[0]["id"])

	updated, err := conn.Update(ctx, gateway.Messages,
		gateway.Row{"content": "edited", "is_edited": true},
		gateway.Eq("id", aliceID), gateway.Eq("sender_id", "bob"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(updated) != 0 {
		t.Errorf("ownership-scoped update matched %d rows", len(updated))
	}

	updated, err = conn.Update(ctx, gateway.Messages,
		gateway.Row{"content": "edited", "is_edited": true},
		gateway.Eq("id", aliceID), gateway.Eq("sender_id", "alice"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(updated) != 1 || updated[0]["content"] != "edited" || updated[0]["is_edited"] != true {
		t.Errorf("updated = %v", updated)
	}

	removed, err := conn.Delete(ctx, gateway.Messages, gateway.Eq("sender_id", "bob"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(removed) != 1 || removed[0]["content"] != "b" {
		t.Errorf("removed = %v", removed)
	}
}

func TestChangeNotifications(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()
	seedConversation(t, conn, "c1")
	seedConversation(t, conn, "c2")

	events := make(chan gateway.ChangeEvent, 16)
	scope := gateway.Eq("conversation_id", "c1")
	sub, err := conn.Subscribe(ctx, gateway.ChangeFilter{Table: gateway.Messages, Filter: &scope},
		func(event gateway.ChangeEvent) { events <- event })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	rows := mustInsert(t, conn, gateway.Messages, gateway.Row{"conversation_id": "c1", "sender_id": "alice", "content": "one"})
	mustInsert(t, conn, gateway.Messages, gateway.Row{"conversation_id": "c2", "sender_id": "alice", "content": "elsewhere"})
	id := chat.Text(rows[0]["id"])
	if _, err := conn.Update(ctx, gateway.Messages, gateway.Row{"status": "seen"}, gateway.Eq("id", id)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := conn.Delete(ctx, gateway.Messages, gateway.Eq("id", id)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	insert := testutil.RequireReceive(t, events, 5*time.Second, "insert")
	if insert.Type != gateway.EventInsert || insert.New["content"] != "one" {
		t.Errorf("first event = %+v", insert)
	}
	update := testutil.RequireReceive(t, events, 5*time.Second, "update")
	if update.Type != gateway.EventUpdate || update.New["status"] != "seen" || update.Old["status"] != "sent" {
		t.Errorf("second event = %+v", update)
	}
	deleted := testutil.RequireReceive(t, events, 5*time.Second, "delete")
	if deleted.Type != gateway.EventDelete || chat.Text(deleted.Old["id"]) != id {
		t.Errorf("third event = %+v", deleted)
	}
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "event for another conversation")
}

func TestDeleteConversationCascades(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()
	seedConversation(t, conn, "c1")
	mustInsert(t, conn, gateway.ConversationParticipants, gateway.Row{"conversation_id": "c1", "user_id": "alice"})
	mustInsert(t, conn, gateway.Messages, gateway.Row{"conversation_id": "c1", "sender_id": "alice"})

	events := make(chan gateway.ChangeEvent, 4)
	sub, err := conn.Subscribe(ctx, gateway.ChangeFilter{Table: gateway.Messages, Event: gateway.EventDelete},
		func(event gateway.ChangeEvent) { events <- event })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := conn.Delete(ctx, gateway.Conversations, gateway.Eq("id", "c1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, table := range []gateway.Table{gateway.ConversationParticipants, gateway.Messages} {
		rows, err := conn.Select(ctx, gateway.Query{Table: table})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("%s still has %d rows", table, len(rows))
		}
	}
	testutil.RequireReceive(t, events, 5*time.Second, "cascaded message delete")
}

func TestReactionFunctionsAreAtomic(t *testing.T) {
	_, conn := openTestBackend(t)
	ctx := context.Background()
	seedConversation(t, conn, "c1")
	rows := mustInsert(t, conn, gateway.Messages, gateway.Row{"conversation_id": "c1", "sender_id": "alice"})
	id := chat.Text(rows[0]["id"])

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := conn.Call(ctx, gateway.FuncAddReaction, gateway.Row{
				"message_id": id,
				"user_id":    fmt.Sprintf("user-%d", i),
				"emoji":      "👍",
			})
			if err != nil {
				t.Errorf("add_reaction: %v", err)
			}
		}()
	}
	wg.Wait()

	selected, err := conn.Select(ctx, gateway.Query{Table: gateway.Messages, Filters: []gateway.Filter{gateway.Eq("id", id)}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := chat.ParseReactions(selected[0]["reactions"]); len(got) != 8 {
		t.Errorf("%d reactions after concurrent adds, want 8", len(got))
	}

	if err := conn.Call(ctx, gateway.FuncRemoveReaction, gateway.Row{"message_id": id, "user_id": "user-0", "emoji": "👍"}); err != nil {
		t.Fatalf("remove_reaction: %v", err)
	}
	if err := conn.Call(ctx, gateway.FuncAddReaction, gateway.Row{"message_id": "missing", "user_id": "u", "emoji": "👍"}); !gateway.IsCode(err, gateway.CodeNotFound) {
		t.Errorf("missing message: err = %v, want not found", err)
	}
	if err := conn.Call(ctx, "launch_rockets", nil); !gateway.IsCode(err, gateway.CodeNotFound) {
		t.Errorf("unknown function: err = %v, want not found", err)
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	backend, alice := openTestBackend(t)
	bob := backend.Connect()
	ctx := context.Background()

	aliceMessages := make(chan gateway.BroadcastMessage, 1)
	bobMessages := make(chan gateway.BroadcastMessage, 1)
	for conn, ch := range map[*Conn]chan gateway.BroadcastMessage{alice: aliceMessages, bob: bobMessages} {
		sub, err := conn.Listen(ctx, "typing", func(message gateway.BroadcastMessage) { ch <- message })
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		defer sub.Unsubscribe()
	}

	if err := alice.Broadcast(ctx, "typing", "typing", map[string]any{"is_typing": true}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	message := testutil.RequireReceive(t, bobMessages, 5*time.Second, "bob receives")
	if string(message.Payload) != `{"is_typing":true}` {
		t.Errorf("payload = %s", message.Payload)
	}
	testutil.RequireNoReceive(t, aliceMessages, 50*time.Millisecond, "sender echo")
}

func TestTimestampsOrderInTimeOrder(t *testing.T) {
	_, conn := openTestBackend(t)
	seedConversation(t, conn, "c1")
	ctx := context.Background()

	for _, input := range []struct{ content, createdAt string }{
		{"whole second", "2026-06-01T10:00:00Z"},
		{"half second", "2026-06-01T10:00:00.5Z"},
		{"offset", "2026-06-01T11:30:00+02:00"},
	} {
		mustInsert(t, conn, gateway.Messages, gateway.Row{
			"conversation_id": "c1", "sender_id": "bob",
			"content": input.content, "created_at": input.createdAt,
		})
	}

	rows, err := conn.Select(ctx, gateway.Query{Table: gateway.Messages, OrderBy: "created_at"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	var order []string
	for _, row := range rows {
		order = append(order, chat.Text(row["content"]))
	}
	if want := []string{"offset", "whole second", "half second"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}

	updated, err := conn.Update(ctx, gateway.Conversations,
		gateway.Row{"updated_at": "2026-06-01 12:00:00+00"},
		gateway.Eq("id", "c1"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := updated[0]["updated_at"]; got != chat.FormatTime(epoch) {
		t.Errorf("updated_at = %v, want %s", got, chat.FormatTime(epoch))
	}
}
