// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test binary.
// Use it for message contents and usernames that must be told apart.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// DatabasePath returns a fresh SQLite file path inside t.TempDir().
func DatabasePath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), UniqueID("chatsync")+".db")
}
