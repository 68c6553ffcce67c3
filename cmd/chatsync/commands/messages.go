// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/chatsync"
	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/tui"
)

type messagesParams struct {
	Connection
	cli.JSONOutput
	MarkSeen bool `json:"mark_seen" flag:"mark-seen" desc:"mark every message unread by you as seen after listing"`
}

func messagesCommand() *cli.Command {
	var params messagesParams

	return &cli.Command{
		Name:    "messages",
		Summary: "Show a conversation's history",
		Description: `Print every message of a conversation, oldest first. Opening a
conversation promotes the other participants' sent messages to
delivered, as a chat client does when the conversation is shown.

Your own messages carry delivery marks: one tick for sent, two for
delivered, two highlighted for seen.`,
		Usage: "chatsync messages <conversation-id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Read a conversation and clear its unread count",
				Command:     "chatsync messages 7f0e… --mark-seen",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("messages", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 1, 1, "chatsync messages <conversation-id>"); err != nil {
				return err
			}
			conversationID := args[0]
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				messages, err := openConversation(ctx, env, conversationID, userID)
				if err != nil {
					return err
				}
				defer messages.Close()

				if params.MarkSeen {
					count, err := env.actions(userID, messages).MarkConversationSeen(ctx)
					if err != nil {
						return err
					}
					logger.Debug("conversation marked seen", "conversation_id", conversationID, "messages", count)
				}

				list := messages.List()
				if done, err := params.EmitJSON(list); done {
					return err
				}
				lookup, err := everyone(ctx, env)
				if err != nil {
					return err
				}
				renderMessages(cli.Stdout, tui.DefaultTheme, list, userID, lookup)
				return nil
			})
		},
	}
}

// openConversation activates conversationID and waits for delivery
// promotion to finish so the listing reflects it.
func openConversation(ctx context.Context, env *environment, conversationID, userID string) (*chatsync.Messages, error) {
	messages := env.messages()
	if err := messages.Open(ctx, conversationID, userID); err != nil {
		messages.Close()
		return nil, err
	}
	messages.Wait()
	return messages, nil
}

// everyone loads the whole directory, including the acting user, for
// sender labels.
func everyone(ctx context.Context, env *environment) (userLookup, error) {
	directory := env.directory()
	if _, err := directory.Load(ctx, ""); err != nil {
		return nil, err
	}
	return directory.User, nil
}

type sendParams struct {
	Connection
	cli.JSONOutput
	ReplyTo string `json:"reply_to" flag:"reply-to,r" desc:"id of the message this one answers"`
	Type    string `json:"type"     flag:"type,t"     desc:"content type (text, image, file, emoji)" default:"text"`
}

func sendCommand() *cli.Command {
	var params sendParams

	return &cli.Command{
		Name:    "send",
		Summary: "Send a message",
		Description: `Post a message to a conversation. Remaining arguments are joined with
spaces to form the content. The conversation's updated_at is touched
so it sorts to the top of every participant's list.`,
		Usage: "chatsync send <conversation-id> <text>... [flags]",
		Examples: []cli.Example{
			{
				Description: "Reply to a message",
				Command:     "chatsync send 7f0e… 'sounds good' --reply-to 91ab…",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("send", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 2, -1, "chatsync send <conversation-id> <text>..."); err != nil {
				return err
			}
			contentType := chat.ContentType(params.Type)
			switch contentType {
			case chat.ContentText, chat.ContentImage, chat.ContentFile, chat.ContentEmoji:
			default:
				return fmt.Errorf("--type must be text, image, file, or emoji; got %q", params.Type)
			}
			conversationID := args[0]
			content := strings.Join(args[1:], " ")

			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				messages, err := openConversation(ctx, env, conversationID, userID)
				if err != nil {
					return err
				}
				defer messages.Close()

				message, err := env.actions(userID, messages).SendMessage(ctx, content, contentType, params.ReplyTo)
				if err != nil {
					return err
				}
				logger.Debug("message sent", "conversation_id", conversationID, "message_id", message.ID)
				if done, err := params.EmitJSON(message); done {
					return err
				}
				fmt.Fprintln(cli.Stdout, message.ID)
				return nil
			})
		},
	}
}

type messageParams struct {
	Connection
}

func editCommand() *cli.Command {
	var params messageParams

	return &cli.Command{
		Name:    "edit",
		Summary: "Edit one of your messages",
		Description: `Replace the content of a message you sent and mark it edited. Only
your own messages can be edited; when the id matches none of them the
command says so and exits 1.`,
		Usage: "chatsync edit <message-id> <text>... [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("edit", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 2, -1, "chatsync edit <message-id> <text>..."); err != nil {
				return err
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				err = env.actions(userID, nil).EditMessage(ctx, args[0], strings.Join(args[1:], " "))
				return unchanged(err, "edit")
			})
		},
	}
}

func deleteCommand() *cli.Command {
	var params messageParams

	return &cli.Command{
		Name:    "delete",
		Summary: "Delete one of your messages",
		Description: `Delete a message you sent. Replies to it keep their reference and
render the quote as deleted. When the id matches none of your messages
the command says so and exits 1.`,
		Usage: "chatsync delete <message-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 1, 1, "chatsync delete <message-id>"); err != nil {
				return err
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				return unchanged(env.actions(userID, nil).DeleteMessage(ctx, args[0]), "delete")
			})
		},
	}
}

func reactCommand() *cli.Command {
	return reactionCommand("react", "Add a reaction to a message",
		`Add your emoji reaction to a message. Reacting twice with the same
emoji leaves a single reaction.`,
		func(ctx context.Context, actions *chatsync.Actions, messageID, emoji string) error {
			return actions.AddReaction(ctx, messageID, emoji)
		})
}

func unreactCommand() *cli.Command {
	return reactionCommand("unreact", "Remove your reaction from a message",
		`Remove your emoji reaction from a message. Removing a reaction you
never added is not an error.`,
		func(ctx context.Context, actions *chatsync.Actions, messageID, emoji string) error {
			return actions.RemoveReaction(ctx, messageID, emoji)
		})
}

func reactionCommand(name, summary, description string,
	apply func(ctx context.Context, actions *chatsync.Actions, messageID, emoji string) error,
) *cli.Command {
	var params messageParams
	usage := "chatsync " + name + " <message-id> <emoji>"

	return &cli.Command{
		Name:        name,
		Summary:     summary,
		Description: description,
		Usage:       usage + " [flags]",
		Examples: []cli.Example{
			{
				Description: summary,
				Command:     "chatsync " + name + " 91ab… 👍",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 2, 2, usage); err != nil {
				return err
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				userID, err := env.requireUser()
				if err != nil {
					return err
				}
				return apply(ctx, env.actions(userID, nil), args[0], args[1])
			})
		},
	}
}
