// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memgw is an in-process implementation of the gateway
// contract.
//
// A [Backend] holds the four chat tables in memory. Each client obtains
// its own [Conn] with [Backend.Connect]; a Conn implements
// gateway.Gateway, and broadcasts from one Conn reach every other
// Conn's listeners but not its own, matching a hosted backend's
// "self: false" broadcast setting.
//
// The backend applies the same server-side rules as the SQL schema
// used by sqlitegw: generated ids and timestamps, primary-key and
// direct_key uniqueness, and atomic add_reaction/remove_reaction
// functions. Change events are queued to subscribers while the table
// lock is held, so every subscription observes commit order.
//
// Tests drive failure paths with [Backend.FailNext], which makes the
// next matching operation return the given error.
package memgw
