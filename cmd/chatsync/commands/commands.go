// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/version"
)

// Root builds and returns the complete chatsync command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "chatsync",
		Description: `chatsync: realtime chat sync client.

Read and write chat data as a signed-in user against a REST backend
with realtime notifications, a local SQLite database, or an in-memory
store. The backend is chosen by the file named in --config or
$CHATSYNC_CONFIG.`,
		Subcommands: []*cli.Command{
			usersCommand(),
			conversationsCommand(),
			messagesCommand(),
			sendCommand(),
			editCommand(),
			deleteCommand(),
			reactCommand(),
			unreactCommand(),
			createCommand(),
			statusCommand(),
			profileCommand(),
			watchCommand(),
			exportCommand(),
			seedCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Fprintf(cli.Stdout, "chatsync %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Load a fixture into a local database",
				Command:     "chatsync seed demo.jsonc --config local.yaml",
			},
			{
				Description: "List your conversations with unread counts",
				Command:     "chatsync conversations -u 2b1c…",
			},
			{
				Description: "Follow a conversation live and chat from stdin",
				Command:     "chatsync watch 7f0e… --interactive",
			},
		},
	}
}
