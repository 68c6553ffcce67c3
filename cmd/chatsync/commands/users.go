// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/tui"
)

type usersParams struct {
	Connection
	cli.JSONOutput
	Search string `json:"search" flag:"search,s" desc:"ask the backend for users matching this text (capped at session.search_limit)"`
	Filter string `json:"filter" flag:"filter,f" desc:"narrow the loaded directory by username or full name"`
}

func usersCommand() *cli.Command {
	var params usersParams

	return &cli.Command{
		Name:    "users",
		Summary: "List or search the user directory",
		Description: `List every user other than yourself with their presence, or search the
backend with --search. --filter narrows the full directory locally
and --search asks the backend, which caps the result.

With --search, the command exits 1 when nothing matches.`,
		Usage: "chatsync users [--search TEXT | --filter TEXT] [flags]",
		Examples: []cli.Example{
			{
				Description: "Show everyone and their presence",
				Command:     "chatsync users -u 2b1c…",
			},
			{
				Description: "Find users whose name contains 'ann'",
				Command:     "chatsync users --search ann --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("users", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 0, 0, "chatsync users [flags]"); err != nil {
				return err
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				directory := env.directory()
				defer directory.Close()

				users, err := directory.Load(ctx, env.userID)
				if err != nil {
					return err
				}
				switch {
				case params.Search != "":
					users, err = directory.Search(ctx, params.Search)
					if err != nil {
						return err
					}
				case params.Filter != "":
					users = directory.Filter(params.Filter)
				}

				if params.Search != "" && len(users) == 0 {
					if done, err := params.EmitJSON(users); done && err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "no users match %q\n", params.Search)
					return &cli.ExitError{Code: 1}
				}
				if done, err := params.EmitJSON(users); done {
					return err
				}
				renderUsers(cli.Stdout, tui.DefaultTheme, users)
				return nil
			})
		},
	}
}
