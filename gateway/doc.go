// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway defines the contract between the chat sync core and
// the remote data store it mirrors.
//
// A [Gateway] combines three facilities:
//
//   - [Store]: row operations on the profiles, conversations,
//     conversation_participants, and messages tables (filtered select,
//     insert, filtered update and delete) plus named server-side
//     functions via [Store.Call].
//   - [Notifier]: row-change subscriptions scoped to a table and an
//     optional equality filter. Events for one subscription are
//     delivered in commit order, one at a time.
//   - [Broadcaster]: ephemeral publish/subscribe keyed by topic, with
//     best-effort delivery and no persistence.
//
// Implementations live in subpackages: memgw (in-process), sqlitegw
// (embedded SQLite), rest and realtime (hosted backend over HTTP and
// websocket), natsbus (broadcast over NATS). [Compose] assembles a
// Gateway from independently chosen parts.
//
// Rows are map[string]any using the column names of the remote
// tables. Timestamp columns hold strings written with chat.FormatTime.
//
// Failures are reported as *[Error] values carrying a [Code], so
// callers can tell a uniqueness conflict or a missing function from a
// transport failure without inspecting messages.
package gateway
