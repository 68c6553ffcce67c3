// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat defines the chat domain entities and the normalizer
// that builds them from loosely typed remote rows.
//
// Rows arrive from the gateway as map[string]any decoded from JSON (or
// scanned from SQLite). Any field may be missing, null, or carry an
// unexpected value. The Parse* functions are total: they never fail
// and always return a valid entity, substituting documented defaults:
//
//   - unknown user status -> [StatusOffline]
//   - unknown message status -> [MessageSent]
//   - unknown content type -> [ContentText]
//   - unknown conversation type -> [ConversationGroup]
//   - malformed reactions -> empty list; entries without both a user
//     id and an emoji are dropped, duplicates keep the first
//
// Code downstream of this package therefore never sees an invalid
// enum value.
//
// Timestamps are written with [FormatTime]: fixed-width UTC with
// microsecond precision, so they sort lexicographically in every
// backend.
//
// This package depends on no other chatsync packages.
package chat
