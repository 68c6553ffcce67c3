// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/chatsync/chatsync"
	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/codec"
)

// Export formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatCBOR = "cbor"
)

type exportParams struct {
	Connection
	Conversation string `json:"conversation" flag:"conversation,c" desc:"include this conversation's messages"`
	Format       string `json:"format"       flag:"format,f"       desc:"output format (json, yaml, cbor)" default:"json"`
	Output       string `json:"output"       flag:"output,o"       desc:"write to this file instead of stdout"`
}

func exportCommand() *cli.Command {
	var params exportParams

	return &cli.Command{
		Name:    "export",
		Summary: "Write a snapshot of your synced state",
		Description: `Load the user directory and your conversations (and optionally one
conversation's messages) and write them as a single snapshot
document. CBOR output is deterministic, so two exports of unchanged
state are byte-identical.`,
		Usage: "chatsync export [flags]",
		Examples: []cli.Example{
			{
				Description: "Archive a conversation as YAML",
				Command:     "chatsync export --conversation 7f0e… --format yaml -o chat.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("export", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 0, 0, "chatsync export [flags]"); err != nil {
				return err
			}
			switch params.Format {
			case formatJSON, formatYAML, formatCBOR:
			default:
				return fmt.Errorf("--format must be json, yaml, or cbor; got %q", params.Format)
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				snapshot, err := buildSnapshot(ctx, env, params.Conversation)
				if err != nil {
					return err
				}
				data, err := encodeSnapshot(snapshot, params.Format)
				if err != nil {
					return err
				}
				if params.Output == "" {
					_, err = cli.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(params.Output, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", params.Output, err)
				}
				logger.Info("snapshot written", "path", params.Output, "format", params.Format, "bytes", len(data))
				return nil
			})
		},
	}
}

// buildSnapshot loads each cache once, without watching.
func buildSnapshot(ctx context.Context, env *environment, conversationID string) (chatsync.Snapshot, error) {
	userID, err := env.requireUser()
	if err != nil {
		return chatsync.Snapshot{}, err
	}
	snapshot := chatsync.Snapshot{UserID: userID}

	directory := env.directory()
	defer directory.Close()
	if snapshot.Users, err = directory.Load(ctx, userID); err != nil {
		return chatsync.Snapshot{}, err
	}

	conversations := env.conversations()
	defer conversations.Close()
	if snapshot.Conversations, err = conversations.Load(ctx, userID); err != nil {
		return chatsync.Snapshot{}, err
	}

	if conversationID != "" {
		messages, err := openConversation(ctx, env, conversationID, userID)
		if err != nil {
			return chatsync.Snapshot{}, err
		}
		defer messages.Close()
		snapshot.ActiveConversationID = conversationID
		snapshot.Messages = messages.List()
	}
	return snapshot, nil
}

// encodeSnapshot renders snapshot in format. YAML goes through JSON
// first so both use the same field names.
func encodeSnapshot(snapshot chatsync.Snapshot, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil

	case formatYAML:
		data, err := json.Marshal(snapshot)
		if err != nil {
			return nil, err
		}
		var document any
		if err := json.Unmarshal(data, &document); err != nil {
			return nil, err
		}
		var buffer bytes.Buffer
		encoder := yaml.NewEncoder(&buffer)
		encoder.SetIndent(2)
		if err := encoder.Encode(document); err != nil {
			return nil, err
		}
		if err := encoder.Close(); err != nil {
			return nil, err
		}
		return buffer.Bytes(), nil

	case formatCBOR:
		return codec.Marshal(snapshot)

	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
