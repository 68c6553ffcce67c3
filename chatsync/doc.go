// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatsync keeps a local, consistent mirror of a user's chat
// state (the user directory, the conversation list, the active
// conversation's messages, and typing indicators) on top of a
// gateway.Gateway that is reachable only through asynchronous reads,
// writes, and change notifications.
//
// A [Session] owns one instance of each component for one signed-in
// user:
//
//   - [Directory]: the roster of other users with presence, patched
//     in place by profile update notifications.
//   - [Conversations]: the user's conversations with derived
//     participants, last message, and unread count, sorted by
//     recency. Any change to the conversations table reloads the
//     whole list.
//   - [Messages]: the ordered history of the active conversation,
//     kept current by insert, update, and delete notifications, with
//     sent-to-delivered promotion of inbound messages.
//   - [Typing]: ephemeral "someone is typing" state carried over the
//     broadcast channel, cleared by a local timer.
//   - [Actions]: the write operations. Actions never modify a cache
//     directly; the resulting change notification does.
//
// # Concurrency
//
// Gateway handlers run on the gateway's delivery goroutines, one event
// at a time per subscription. Each component guards its cache with a
// mutex and copies on read, so accessors may be called from any
// goroutine. Change listeners registered with [Session.OnChange] are
// invoked outside every component lock.
//
// Message notifications are bound to the conversation they were
// subscribed for. [Messages.Open] unsubscribes the previous
// conversation before subscribing the next, and a late event or load
// result from the previous conversation is discarded by generation
// number, so it can never alter the visible list.
//
// # Errors
//
// Read failures leave caches at their last good value and are reported
// to Config.OnError. Malformed remote data is never an error; the
// normalizer in lib/schema/chat substitutes defaults. A scoped edit or
// delete that matches no rows returns [ErrNoMatch]. Missing
// preconditions return [ErrNotStarted] or [ErrNoActiveConversation]
// without touching the gateway.
package chatsync
