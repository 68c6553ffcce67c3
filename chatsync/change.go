// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import "sync"

// ChangeKind names the cache that changed.
type ChangeKind string

const (
	ChangeUsers         ChangeKind = "users"
	ChangeConversations ChangeKind = "conversations"
	ChangeMessages      ChangeKind = "messages"
	ChangeTyping        ChangeKind = "typing"
)

// Change tells a listener which cache to re-read.
type Change struct {
	Kind ChangeKind

	// ConversationID is the conversation the messages or typing state
	// belongs to. Empty for users and conversations.
	ConversationID string
}

// listeners is a set of change callbacks. The zero value is ready.
type listeners struct {
	mu    sync.RWMutex
	funcs map[int]func(Change)
	next  int
}

func (l *listeners) add(fn func(Change)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.funcs == nil {
		l.funcs = make(map[int]func(Change))
	}
	id := l.next
	l.next++
	l.funcs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.funcs, id)
	}
}

func (l *listeners) emit(change Change) {
	l.mu.RLock()
	funcs := make([]func(Change), 0, len(l.funcs))
	for _, fn := range l.funcs {
		funcs = append(funcs, fn)
	}
	l.mu.RUnlock()
	for _, fn := range funcs {
		fn(change)
	}
}
