// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/memgw"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/testutil"
)

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

// fixture is an in-memory backend with a fake clock and a recorder of
// change notifications.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	backend *memgw.Backend
	conn    *memgw.Conn
	clock   *clock.FakeClock
	logger  *slog.Logger
	changes chan Change
}

func newFixture(t *testing.T, configure ...func(*memgw.Config)) *fixture {
	t.Helper()
	fake := clock.Fake(epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memgw.Config{Clock: fake, Logger: logger}
	for _, fn := range configure {
		fn(&cfg)
	}
	backend := memgw.New(cfg)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		backend: backend,
		conn:    backend.Connect(),
		clock:   fake,
		logger:  logger,
		changes: make(chan Change, 256),
	}
}

// record is an OnChange hook feeding f.changes.
func (f *fixture) record(change Change) {
	select {
	case f.changes <- change:
	default:
	}
}

// waitUntil consumes change notifications until condition holds.
func (f *fixture) waitUntil(description string, condition func() bool) {
	f.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !condition() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.t.Fatalf("timed out waiting for %s", description)
		}
		testutil.RequireReceive(f.t, f.changes, remaining, description)
	}
}

func (f *fixture) insert(table gateway.Table, row gateway.Row) gateway.Row {
	f.t.Helper()
	rows, err := f.conn.Insert(f.ctx, table, row)
	if err != nil {
		f.t.Fatalf("inserting into %s: %v", table, err)
	}
	return rows[0]
}

func (f *fixture) user(id, username, fullName string) {
	f.t.Helper()
	f.insert(gateway.Profiles, gateway.Row{
		"id":        id,
		"username":  username,
		"full_name": fullName,
		"status":    "offline",
	})
}

// conversation creates a conversation row at createdAt with members.
func (f *fixture) conversation(id string, conversationType chat.ConversationType, createdAt time.Time, members ...string) {
	f.t.Helper()
	row := gateway.Row{
		"id":         id,
		"type":       string(conversationType),
		"created_at": chat.FormatTime(createdAt),
		"updated_at": chat.FormatTime(createdAt),
	}
	if conversationType == chat.ConversationDirect && len(members) == 2 {
		row["direct_key"] = chat.DirectKey(members[0], members[1])
	}
	f.insert(gateway.Conversations, row)
	for _, member := range members {
		f.insert(gateway.ConversationParticipants, gateway.Row{
			"conversation_id": id,
			"user_id":         member,
		})
	}
}

func (f *fixture) message(conversationID, senderID, content string, createdAt time.Time, status chat.MessageStatus) string {
	f.t.Helper()
	row := f.insert(gateway.Messages, gateway.Row{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"content":         content,
		"created_at":      chat.FormatTime(createdAt),
		"status":          string(status),
	})
	return chat.Text(row["id"])
}

func (f *fixture) row(table gateway.Table, id string) gateway.Row {
	f.t.Helper()
	for _, row := range f.backend.Rows(table) {
		if chat.Text(row["id"]) == id {
			return row
		}
	}
	return nil
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 6, 1, hour, minute, 0, 0, time.UTC)
}
