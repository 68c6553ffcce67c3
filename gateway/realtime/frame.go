// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/chatsync/gateway"
)

// Protocol event names.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
	eventBroadcast       = "broadcast"
	eventSystem          = "system"

	heartbeatTopic = "phoenix"
	topicPrefix    = "realtime:"
	changeSchema   = "public"
)

// frame is one protocol message in either direction.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// joinPayload is the phx_join body.
type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig  `json:"broadcast"`
	Presence        presenceConfig   `json:"presence"`
	PostgresChanges []postgresChange `json:"postgres_changes"`
	Private         bool             `json:"private"`
}

type broadcastConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// replyPayload is the phx_reply body.
type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// broadcastPayload wraps a broadcast message in both directions.
type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// changesPayload is the postgres_changes body.
type changesPayload struct {
	IDs  []int64    `json:"ids"`
	Data changeData `json:"data"`
}

type changeData struct {
	Type      string      `json:"type"`
	Schema    string      `json:"schema"`
	Table     string      `json:"table"`
	Record    gateway.Row `json:"record"`
	OldRecord gateway.Row `json:"old_record"`
}

// changeConfig renders a gateway.ChangeFilter as a postgres_changes
// binding.
func changeConfig(filter gateway.ChangeFilter) (postgresChange, error) {
	if filter.Table == "" {
		return postgresChange{}, gateway.Errorf(gateway.CodeInvalid, "subscription without a table")
	}
	change := postgresChange{
		Event:  string(filter.Event),
		Schema: changeSchema,
		Table:  string(filter.Table),
	}
	if change.Event == "" {
		change.Event = string(gateway.EventAll)
	}
	if filter.Filter != nil {
		if filter.Filter.Op != gateway.OpEq {
			return postgresChange{}, gateway.Errorf(gateway.CodeInvalid, "subscription filters support eq only, got %s", filter.Filter.Op)
		}
		change.Filter = fmt.Sprintf("%s=eq.%s", filter.Filter.Column, gateway.Text(filter.Filter.Value))
	}
	return change, nil
}

// changeEvent converts a postgres_changes body to a gateway event. It
// reports false for kinds the gateway does not model.
func changeEvent(data changeData) (gateway.ChangeEvent, bool) {
	event := gateway.ChangeEvent{
		Type:  gateway.EventType(data.Type),
		Table: gateway.Table(data.Table),
	}
	switch event.Type {
	case gateway.EventInsert:
		event.New = data.Record
	case gateway.EventUpdate:
		event.New = data.Record
		if len(data.OldRecord) > 0 {
			event.Old = data.OldRecord
		}
	case gateway.EventDelete:
		event.Old = data.OldRecord
	default:
		return gateway.ChangeEvent{}, false
	}
	return event, true
}
