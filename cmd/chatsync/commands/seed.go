// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// seedFixture is the JSONC document read by seed and --seed. Rows use
// the remote column names. A conversation row may carry a
// "participants" array of user ids, which becomes
// conversation_participants rows.
type seedFixture struct {
	Profiles      []gateway.Row `json:"profiles"`
	Conversations []gateway.Row `json:"conversations"`
	Messages      []gateway.Row `json:"messages"`
}

// seedCounts reports how many rows of each kind were written.
type seedCounts struct {
	Profiles      int `json:"profiles"`
	Conversations int `json:"conversations"`
	Participants  int `json:"participants"`
	Messages      int `json:"messages"`
}

func readSeed(path string) (*seedFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return parseSeed(data)
}

// parseSeed decodes a fixture. Comments and trailing commas are
// allowed.
func parseSeed(data []byte) (*seedFixture, error) {
	var fixture seedFixture
	if err := json.Unmarshal(jsonc.ToJSON(data), &fixture); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	for i, conversation := range fixture.Conversations {
		if _, ok := conversation["participants"]; !ok {
			continue
		}
		if _, err := participantIDs(conversation); err != nil {
			return nil, fmt.Errorf("parsing seed: conversations[%d]: %w", i, err)
		}
	}
	return &fixture, nil
}

func participantIDs(conversation gateway.Row) ([]string, error) {
	raw, ok := conversation["participants"].([]any)
	if !ok && conversation["participants"] != nil {
		return nil, fmt.Errorf("participants must be an array of user ids")
	}
	ids := make([]string, 0, len(raw))
	for _, value := range raw {
		id, ok := value.(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("participants must be an array of user ids")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applySeed inserts the fixture in dependency order: profiles,
// conversations, participants, then messages. A direct conversation
// with exactly two participants and no direct_key gets one.
func applySeed(ctx context.Context, store gateway.Store, fixture *seedFixture) (seedCounts, error) {
	var counts seedCounts

	if len(fixture.Profiles) > 0 {
		inserted, err := store.Insert(ctx, gateway.Profiles, fixture.Profiles...)
		if err != nil {
			return counts, fmt.Errorf("seeding profiles: %w", err)
		}
		counts.Profiles = len(inserted)
	}

	for i, conversation := range fixture.Conversations {
		ids, err := participantIDs(conversation)
		if err != nil {
			return counts, fmt.Errorf("seeding conversations[%d]: %w", i, err)
		}
		row := make(gateway.Row, len(conversation))
		for column, value := range conversation {
			if column != "participants" {
				row[column] = value
			}
		}
		if chat.ParseConversationType(row["type"]) == chat.ConversationDirect && len(ids) == 2 && row["direct_key"] == nil {
			row["direct_key"] = chat.DirectKey(ids[0], ids[1])
		}

		inserted, err := store.Insert(ctx, gateway.Conversations, row)
		if err != nil {
			return counts, fmt.Errorf("seeding conversations[%d]: %w", i, err)
		}
		if len(inserted) == 0 {
			return counts, fmt.Errorf("seeding conversations[%d]: insert returned no row", i)
		}
		counts.Conversations++

		conversationID := chat.Text(inserted[0]["id"])
		participants := make([]gateway.Row, 0, len(ids))
		for _, userID := range slices.Compact(slices.Sorted(slices.Values(ids))) {
			participants = append(participants, gateway.Row{
				"conversation_id": conversationID,
				"user_id":         userID,
			})
		}
		if len(participants) > 0 {
			if _, err := store.Insert(ctx, gateway.ConversationParticipants, participants...); err != nil {
				return counts, fmt.Errorf("seeding participants of %s: %w", conversationID, err)
			}
			counts.Participants += len(participants)
		}
	}

	if len(fixture.Messages) > 0 {
		inserted, err := store.Insert(ctx, gateway.Messages, fixture.Messages...)
		if err != nil {
			return counts, fmt.Errorf("seeding messages: %w", err)
		}
		counts.Messages = len(inserted)
	}
	return counts, nil
}

type seedParams struct {
	Connection
	cli.JSONOutput
}

func seedCommand() *cli.Command {
	var params seedParams

	return &cli.Command{
		Name:    "seed",
		Summary: "Load a JSONC fixture into the backend",
		Description: `Insert the profiles, conversations, participants, and messages of a
JSONC fixture. Conversations may list their members in a
"participants" array. Direct conversations with two participants get
their direct_key computed.

Most useful with the sqlite backend, whose data survives the command.`,
		Usage: "chatsync seed <fixture.jsonc> [flags]",
		Examples: []cli.Example{
			{
				Description: "Populate a local database",
				Command:     "chatsync seed testdata/demo.jsonc --config chatsync.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("seed", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 1, 1, "chatsync seed <fixture.jsonc>"); err != nil {
				return err
			}
			fixture, err := readSeed(args[0])
			if err != nil {
				return err
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				counts, err := applySeed(ctx, env.gateway, fixture)
				if err != nil {
					return err
				}
				logger.Info("seed applied", "path", args[0], "profiles", counts.Profiles,
					"conversations", counts.Conversations, "messages", counts.Messages)
				if done, err := params.EmitJSON(counts); done {
					return err
				}
				fmt.Fprintf(cli.Stdout, "%d profiles, %d conversations, %d participants, %d messages\n",
					counts.Profiles, counts.Conversations, counts.Participants, counts.Messages)
				return nil
			})
		},
	}
}
