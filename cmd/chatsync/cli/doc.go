// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the chatsync CLI.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function. The tree is assembled in cmd/chatsync/commands and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and help output with examples.
//
// An unknown subcommand or flag gets a "did you mean" suggestion
// computed by Levenshtein distance (threshold 3).
//
// Parameter structs declare their flags with struct tags and are bound
// by [FlagsFromParams]; types that manage their own flags implement
// [FlagBinder]. Embedding [JSONOutput] adds a --json flag.
package cli
