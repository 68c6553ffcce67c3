// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import "errors"

var (
	// ErrNotStarted is returned by operations that need a signed-in
	// user before Session.Start (or after Stop).
	ErrNotStarted = errors.New("chatsync: session not started")

	// ErrNoActiveConversation is returned by operations on the active
	// conversation when none is open.
	ErrNoActiveConversation = errors.New("chatsync: no active conversation")

	// ErrNoMatch is returned when an ownership-scoped edit or delete
	// matched no rows. The message may belong to someone else or may
	// already be gone; the two cases are not distinguished.
	ErrNoMatch = errors.New("chatsync: no matching message owned by the current user")
)
