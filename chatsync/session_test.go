// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/memgw"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

type errorLog struct {
	mu     sync.Mutex
	errors []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, err)
}

func (l *errorLog) list() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errors...)
}

func newTestSession(t *testing.T, f *fixture, metrics *Metrics, errs *errorLog) *Session {
	t.Helper()
	cfg := Config{
		Gateway: f.conn,
		Clock:   f.clock,
		Logger:  f.logger,
		Metrics: metrics,
	}
	if errs != nil {
		cfg.OnError = errs.add
	}
	session, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	session.OnChange(f.record)
	return session
}

func seedChat(f *fixture) {
	f.user("u-me", "me", "Me")
	f.user("u-bob", "bob", "Bob")
	f.conversation("c1", chat.ConversationDirect, at(8, 0), "u-me", "u-bob")
	f.message("c1", "u-bob", "hello", at(9, 0), chat.MessageSent)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	seedChat(f)
	session := newTestSession(t, f, nil, nil)

	if err := session.Start(f.ctx, "u-me"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.row(gateway.Profiles, "u-me")["status"]; got != "online" {
		t.Errorf("status after Start = %v, want online", got)
	}
	if session.Self().Username != "me" {
		t.Errorf("Self = %+v", session.Self())
	}
	if err := session.Start(f.ctx, "u-me"); err == nil {
		t.Error("second Start succeeded")
	}

	if err := session.Open(f.ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	session.Messages().Wait()

	snapshot := session.Snapshot()
	if snapshot.UserID != "u-me" || len(snapshot.Users) != 1 || len(snapshot.Conversations) != 1 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.ActiveConversationID != "c1" || len(snapshot.Messages) != 1 {
		t.Errorf("snapshot messages = %q %v", snapshot.ActiveConversationID, snapshot.Messages)
	}

	if err := session.Stop(f.ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.row(gateway.Profiles, "u-me")["status"]; got != "offline" {
		t.Errorf("status after Stop = %v, want offline", got)
	}
	if got := f.backend.SubscriptionCount(); got != 0 {
		t.Errorf("%d subscriptions left after Stop", got)
	}
	if err := session.Stop(f.ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := session.Open(f.ctx, "c1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Open after Stop = %v, want ErrNotStarted", err)
	}
	if _, err := session.Actions().SendMessage(f.ctx, "late", "", ""); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SendMessage after Stop = %v, want ErrNotStarted", err)
	}
}

func TestSessionStartReportsSoftFailures(t *testing.T) {
	f := newFixture(t)
	seedChat(f)
	errs := &errorLog{}
	session := newTestSession(t, f, nil, errs)
	defer session.Stop(f.ctx)

	f.backend.FailNext(memgw.OpSelect, gateway.ConversationParticipants, gateway.Unavailable(errors.New("down")))
	if err := session.Start(f.ctx, "u-me"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reported := errs.list()
	if len(reported) != 1 || !gateway.IsCode(reported[0], gateway.CodeUnavailable) {
		t.Fatalf("reported errors = %v, want one unavailable", reported)
	}
	if len(session.Directory().Users()) != 1 {
		t.Error("directory did not load despite the conversation failure")
	}
	if len(session.Conversations().List()) != 0 {
		t.Error("conversations loaded despite injected failure")
	}

	// The next conversations change recovers the list.
	if _, err := f.conn.Update(f.ctx, gateway.Conversations, gateway.Row{"is_pinned": true}, gateway.Eq("id", "c1")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	f.waitUntil("conversations recovered", func() bool {
		return len(session.Conversations().List()) == 1
	})
}

func TestSessionUnreadCountFollowsSeenWrites(t *testing.T) {
	f := newFixture(t)
	seedChat(f)
	f.message("c1", "u-bob", "still there?", at(9, 5), chat.MessageSent)
	session := newTestSession(t, f, nil, nil)
	defer session.Stop(f.ctx)

	if err := session.Start(f.ctx, "u-me"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if conversation, _ := session.Conversations().Get("c1"); conversation.UnreadCount != 2 {
		t.Fatalf("unread before reading = %d, want 2", conversation.UnreadCount)
	}
	if err := session.Open(f.ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	session.Messages().Wait()

	marked, err := session.Actions().MarkConversationSeen(f.ctx)
	if err != nil {
		t.Fatalf("MarkConversationSeen: %v", err)
	}
	if marked != 2 {
		t.Errorf("marked %d, want 2", marked)
	}
	f.waitUntil("unread count cleared", func() bool {
		conversation, ok := session.Conversations().Get("c1")
		return ok && conversation.UnreadCount == 0
	})

	// A single seen write keeps the count in step too.
	id := f.message("c1", "u-bob", "one more", at(9, 10), chat.MessageDelivered)
	if _, err := f.conn.Update(f.ctx, gateway.Conversations, gateway.Row{"updated_at": chat.FormatTime(at(9, 10))}, gateway.Eq("id", "c1")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	f.waitUntil("new message counted", func() bool {
		conversation, _ := session.Conversations().Get("c1")
		return conversation.UnreadCount == 1
	})
	if err := session.Actions().MarkMessageAsSeen(f.ctx, id); err != nil {
		t.Fatalf("MarkMessageAsSeen: %v", err)
	}
	f.waitUntil("unread count cleared again", func() bool {
		conversation, _ := session.Conversations().Get("c1")
		return conversation.UnreadCount == 0
	})
}

func TestSessionTypingEndToEnd(t *testing.T) {
	f := newFixture(t)
	seedChat(f)
	mine := newTestSession(t, f, nil, nil)
	defer mine.Stop(f.ctx)

	bobConn := f.backend.Connect()
	bob, err := NewSession(Config{Gateway: bobConn, Clock: f.clock, Logger: f.logger})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer bob.Stop(f.ctx)

	for _, start := range []struct {
		session *Session
		userID  string
	}{{mine, "u-me"}, {bob, "u-bob"}} {
		if err := start.session.Start(f.ctx, start.userID); err != nil {
			t.Fatalf("Start(%s): %v", start.userID, err)
		}
		if err := start.session.Open(f.ctx, "c1"); err != nil {
			t.Fatalf("Open(%s): %v", start.userID, err)
		}
	}

	if err := bob.SetTyping(f.ctx, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	f.waitUntil("bob typing", func() bool {
		indicator, ok := mine.Typing().Current()
		return ok && indicator.Username == "bob"
	})
}

func TestSessionMetrics(t *testing.T) {
	f := newFixture(t)
	seedChat(f)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	session := newTestSession(t, f, metrics, nil)
	defer session.Stop(f.ctx)

	if err := session.Start(f.ctx, "u-me"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Open(f.ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	session.Messages().Wait()

	for _, component := range []string{"directory", "conversations", "messages"} {
		if got := promtestutil.ToFloat64(metrics.Loads.WithLabelValues(component)); got != 1 {
			t.Errorf("loads{%s} = %v, want 1", component, got)
		}
	}
	if got := promtestutil.ToFloat64(metrics.Promotions); got != 1 {
		t.Errorf("promotions = %v, want 1", got)
	}

	if err := session.SetTyping(f.ctx, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := session.SetTyping(f.ctx, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if got := promtestutil.ToFloat64(metrics.TypingPublished); got != 1 {
		t.Errorf("typing published = %v, want 1", got)
	}
	if got := promtestutil.ToFloat64(metrics.TypingThrottled); got != 1 {
		t.Errorf("typing throttled = %v, want 1", got)
	}
	if count, err := promtestutil.GatherAndCount(registry); err != nil || count == 0 {
		t.Errorf("GatherAndCount = %d, %v", count, err)
	}
}

func TestNewSessionRequiresGateway(t *testing.T) {
	if _, err := NewSession(Config{}); err == nil {
		t.Error("NewSession without a gateway succeeded")
	}
}
