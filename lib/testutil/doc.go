// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by chatsync tests.
//
// Notifications in chatsync arrive on background goroutines. Tests
// funnel them into channels and read with [RequireReceive] or assert
// silence with [RequireNoReceive], so no test contains a bare
// time.After or time.Sleep.
package testutil
