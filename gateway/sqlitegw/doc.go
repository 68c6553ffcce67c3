// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitegw is a gateway.Gateway backed by an embedded SQLite
// database, for running the chat core without a hosted backend.
//
// Rows are stored in four tables mirroring the hosted schema. Values
// cross the gateway in their JSON-decoded shape: text columns as
// strings, flags as bools, and the reactions column as a []any of
// {user_id, emoji} objects (stored as JSON text).
//
// Writes are serialized by a process-wide mutex and run inside
// IMMEDIATE transactions. Change notifications are published after
// commit while the mutex is still held, so every subscriber observes
// changes in commit order. Notifications and broadcasts only reach
// subscribers in the same process; two processes sharing a database
// file see each other's rows but not each other's events.
//
// The reaction functions run as a single read-modify-write
// transaction, and conversations.direct_key carries a UNIQUE
// constraint, so concurrent reactors and concurrent direct-conversation
// creators cannot lose updates or create duplicates.
package sqlitegw
