// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/chatsync"
	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

type createParams struct {
	Connection
	Type string `json:"type" flag:"type,t" desc:"conversation type (direct, group, community)" default:"direct"`
	Name string `json:"name" flag:"name,n" desc:"conversation name (group and community only)"`
}

func createCommand() *cli.Command {
	var params createParams

	return &cli.Command{
		Name:    "create",
		Summary: "Start a conversation",
		Description: `Create a conversation with you and the listed users. A direct
conversation takes exactly one other user and is reused when one
already exists between the two of you. Group and community
conversations are always new.

Prints the conversation id.`,
		Usage: "chatsync create <user-id>... [flags]",
		Examples: []cli.Example{
			{
				Description: "Open (or reuse) a direct conversation",
				Command:     "chatsync create 5d3a…",
			},
			{
				Description: "Start a named group",
				Command:     "chatsync create 5d3a… 8c21… --type group --name 'release crew'",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 1, -1, "chatsync create <user-id>..."); err != nil {
				return err
			}
			conversationType, err := parseConversationType(params.Type, false)
			if err != nil {
				return err
			}
			if conversationType == chat.ConversationDirect && params.Name != "" {
				return fmt.Errorf("--name applies to group and community conversations only")
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				id, err := env.actions(userID, nil).CreateConversation(ctx, args, conversationType, params.Name)
				if err != nil {
					return err
				}
				fmt.Fprintln(cli.Stdout, id)
				return nil
			})
		},
	}
}

type statusParams struct {
	Connection
}

func statusCommand() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Set your presence",
		Description: `Set your presence to online, away, busy, or offline, and stamp
last_seen. Everyone watching the directory sees the change.`,
		Usage: "chatsync status <online|away|busy|offline> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 1, 1, "chatsync status <online|away|busy|offline>"); err != nil {
				return err
			}
			status := chat.UserStatus(args[0])
			switch status {
			case chat.StatusOnline, chat.StatusAway, chat.StatusBusy, chat.StatusOffline:
			default:
				return fmt.Errorf("status must be online, away, busy, or offline; got %q", args[0])
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				return env.actions(userID, nil).UpdateStatus(ctx, status)
			})
		},
	}
}

type profileParams struct {
	Connection
	Username  string
	FullName  string
	AvatarURL string
}

func profileCommand() *cli.Command {
	var params profileParams
	var flagSet *pflag.FlagSet

	return &cli.Command{
		Name:    "profile",
		Summary: "Update your profile",
		Description: `Change your username, full name, or avatar URL. Only the flags you
pass are written; pass an empty value to clear a field. A username
already taken by someone else is rejected by the backend.`,
		Usage: "chatsync profile [--username NAME] [--full-name NAME] [--avatar-url URL] [flags]",
		Examples: []cli.Example{
			{
				Description: "Rename yourself",
				Command:     "chatsync profile --full-name 'Ana Lima'",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("profile", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.Username, "username", "", "new username")
			flagSet.StringVar(&params.FullName, "full-name", "", "new full name")
			flagSet.StringVar(&params.AvatarURL, "avatar-url", "", "new avatar URL")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 0, 0, "chatsync profile [flags]"); err != nil {
				return err
			}
			var patch chatsync.ProfilePatch
			if flagSet.Changed("username") {
				patch.Username = &params.Username
			}
			if flagSet.Changed("full-name") {
				patch.FullName = &params.FullName
			}
			if flagSet.Changed("avatar-url") {
				patch.AvatarURL = &params.AvatarURL
			}
			if patch == (chatsync.ProfilePatch{}) {
				return fmt.Errorf("nothing to change: pass --username, --full-name, or --avatar-url")
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				return env.actions(userID, nil).UpdateProfile(ctx, patch)
			})
		},
	}
}
