// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package realtime is a gateway.Notifier and gateway.Broadcaster over
// a hosted realtime websocket speaking the Phoenix channel protocol
// (vsn 1.0.0).
//
// Every frame is a JSON object {topic, event, payload, ref}. A channel
// is joined with phx_join and confirmed by a phx_reply carrying the
// same ref. Row changes arrive as postgres_changes events on the
// channel that requested them; ephemeral messages arrive as broadcast
// events. The client keeps the socket alive with a heartbeat on the
// "phoenix" topic.
//
// Each Subscribe joins its own channel so that change events route by
// topic without matching server-assigned binding ids. Broadcast topics
// share one channel per topic between the sender and all listeners.
//
// The client does not reconnect. When the socket drops, pending joins
// fail, subscriptions stop receiving, and Done is closed; callers
// rebuild the session.
package realtime
