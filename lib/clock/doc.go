// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that schedule work (the typing indicator expiry, realtime
// heartbeats, row timestamps) hold a [Clock] instead of calling the
// time package. Production wiring passes [Real]; tests pass [Fake] and
// move time forward explicitly with [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	typing := chatsync.NewTyping(chatsync.TypingConfig{Clock: fake, ...})
//	typing.HandleEvent(event)
//	fake.Advance(3 * time.Second) // expiry fires synchronously
//
// AfterFunc callbacks registered on a FakeClock run synchronously inside
// Advance, in deadline order, so assertions made after Advance returns
// observe their effects without any sleeping.
package clock
