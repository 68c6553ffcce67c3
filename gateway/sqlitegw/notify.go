// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitegw

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/fanout"
)

// Subscribe implements gateway.Notifier. Only equality filters are
// supported, matching the hosted backend.
func (c *Conn) Subscribe(ctx context.Context, filter gateway.ChangeFilter, handler func(gateway.ChangeEvent)) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, err := lookupTable(filter.Table)
	if err != nil {
		return nil, err
	}
	if filter.Filter != nil {
		if filter.Filter.Op != gateway.OpEq {
			return nil, gateway.Errorf(gateway.CodeInvalid, "subscription filters support eq only, got %s", filter.Filter.Op)
		}
		if err := spec.checkColumn(filter.Table, filter.Filter.Column); err != nil {
			return nil, err
		}
	}
	sub := &subscription{backend: c.backend, filter: filter, queue: fanout.New(handler)}
	c.backend.mu.Lock()
	c.backend.subscriptions[sub] = struct{}{}
	c.backend.mu.Unlock()
	return sub, nil
}

type subscription struct {
	backend *Backend
	filter  gateway.ChangeFilter
	queue   *fanout.Queue[gateway.ChangeEvent]
}

func (s *subscription) Unsubscribe() {
	s.backend.mu.Lock()
	delete(s.backend.subscriptions, s)
	s.backend.mu.Unlock()
	s.queue.Close()
}

// publish queues event for every matching subscription. Each
// subscription gets its own copy of the rows.
func (b *Backend) publish(event gateway.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscriptions {
		if sub.filter.Matches(event) {
			sub.queue.Push(gateway.ChangeEvent{
				Type:  event.Type,
				Table: event.Table,
				New:   gateway.CloneRow(event.New),
				Old:   gateway.CloneRow(event.Old),
			})
		}
	}
}

// SubscriptionCount returns the number of live change subscriptions.
func (b *Backend) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Broadcast implements gateway.Broadcaster.
func (c *Conn) Broadcast(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return gateway.Errorf(gateway.CodeInvalid, "encoding broadcast payload: %v", err)
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	for l := range c.backend.listeners {
		if l.topic == topic && l.conn != c.id {
			l.queue.Push(gateway.BroadcastMessage{Topic: topic, Event: event, Payload: encoded})
		}
	}
	return nil
}

// Listen implements gateway.Broadcaster.
func (c *Conn) Listen(ctx context.Context, topic string, handler func(gateway.BroadcastMessage)) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &listener{backend: c.backend, conn: c.id, topic: topic, queue: fanout.New(handler)}
	c.backend.mu.Lock()
	c.backend.listeners[l] = struct{}{}
	c.backend.mu.Unlock()
	return l, nil
}

type listener struct {
	backend *Backend
	conn    int
	topic   string
	queue   *fanout.Queue[gateway.BroadcastMessage]
}

func (l *listener) Unsubscribe() {
	l.backend.mu.Lock()
	delete(l.backend.listeners, l)
	l.backend.mu.Unlock()
	l.queue.Close()
}
