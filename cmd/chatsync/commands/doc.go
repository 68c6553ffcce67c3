// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the chatsync CLI command tree.
//
// Every command that touches data embeds [Connection], which supplies
// --config, --user, and --seed. One-shot commands build only the
// components they need (a directory, the conversation list, a message
// list, the action facade bound to --user) so running them does not
// change the user's presence. The watch command is the exception: it
// runs a full session, which marks the user online for its lifetime
// and offline on exit.
package commands
