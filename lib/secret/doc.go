// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials (the gateway API key and access
// token) in memory that is locked against swap, excluded from core
// dumps, and zeroed on Close. The region is mmap'd outside the Go heap
// so the garbage collector never copies it.
package secret
