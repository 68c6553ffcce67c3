// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens a pool of SQLite connections with a fixed
// set of pragmas and an optional schema script.
//
// It is a thin layer over zombiezen.com/go/sqlite/sqlitex. Callers
// [Pool.Take] a connection, run SQL with sqlitex.Execute, and
// [Pool.Put] it back. Connections are not safe for concurrent use.
//
// Every connection gets:
//
//   - journal_mode=WAL so readers never block the writer
//   - synchronous=NORMAL
//   - busy_timeout=5000 to wait out write contention
//   - foreign_keys=ON
//   - temp_store=MEMORY
//
// The schema script runs once per connection. It must be idempotent
// (CREATE ... IF NOT EXISTS).
package sqlitepool
