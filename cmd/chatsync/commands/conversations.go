// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/tui"
)

type conversationsParams struct {
	Connection
	cli.JSONOutput
	Filter string `json:"filter" flag:"filter,f" desc:"narrow by display name, participant, or last message"`
	Type   string `json:"type"   flag:"type,t"   desc:"only this conversation type (direct, group, community)"`
}

func conversationsCommand() *cli.Command {
	var params conversationsParams

	return &cli.Command{
		Name:    "conversations",
		Summary: "List your conversations",
		Description: `List the conversations you participate in, most recent activity first.
Each row shows a pin marker, the unread count, and a preview of the
last message.`,
		Usage: "chatsync conversations [flags]",
		Examples: []cli.Example{
			{
				Description: "Only group conversations mentioning 'launch'",
				Command:     "chatsync conversations --type group --filter launch",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("conversations", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 0, 0, "chatsync conversations [flags]"); err != nil {
				return err
			}
			conversationType, err := parseConversationType(params.Type, true)
			if err != nil {
				return err
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				conversations := env.conversations()
				defer conversations.Close()

				if _, err := conversations.Load(ctx, userID); err != nil {
					return err
				}
				list := conversations.Filter(params.Filter, conversationType)
				if done, err := params.EmitJSON(list); done {
					return err
				}
				renderConversations(cli.Stdout, tui.DefaultTheme, list, userID)
				return nil
			})
		},
	}
}

// parseConversationType validates a --type value. An empty value is
// allowed only when allowEmpty is set.
func parseConversationType(value string, allowEmpty bool) (chat.ConversationType, error) {
	switch conversationType := chat.ConversationType(value); conversationType {
	case chat.ConversationDirect, chat.ConversationGroup, chat.ConversationCommunity:
		return conversationType, nil
	case "":
		if allowEmpty {
			return "", nil
		}
	}
	return "", fmt.Errorf("--type must be direct, group, or community; got %q", value)
}
