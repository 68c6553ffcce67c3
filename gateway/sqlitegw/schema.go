// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitegw

import "github.com/bureau-foundation/chatsync/gateway"

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	username   TEXT UNIQUE,
	full_name  TEXT,
	avatar_url TEXT,
	email      TEXT,
	status     TEXT NOT NULL DEFAULT 'offline',
	role       TEXT NOT NULL DEFAULT 'user',
	last_seen  TEXT
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	name       TEXT,
	type       TEXT NOT NULL DEFAULT 'group',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	is_pinned  INTEGER NOT NULL DEFAULT 0,
	direct_key TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	joined_at       TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE INDEX IF NOT EXISTS conversation_participants_user
	ON conversation_participants (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender_id       TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	content_type    TEXT NOT NULL DEFAULT 'text',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	is_edited       INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'sent',
	reactions       TEXT NOT NULL DEFAULT '[]',
	reply_to        TEXT
);

CREATE INDEX IF NOT EXISTS messages_conversation_created
	ON messages (conversation_id, created_at);
`

type columnKind int

const (
	kindText columnKind = iota
	kindBool
	kindJSON
	kindTime
)

// tableSpec describes one table: its columns and which of them the
// backend generates when an insert leaves them out.
type tableSpec struct {
	columns    map[string]columnKind
	generateID bool
	timestamps []string
	required   []string
}

var tables = map[gateway.Table]tableSpec{
	gateway.Profiles: {
		columns: map[string]columnKind{
			"id": kindText, "username": kindText, "full_name": kindText,
			"avatar_url": kindText, "email": kindText, "status": kindText,
			"role": kindText, "last_seen": kindTime,
		},
		timestamps: []string{"last_seen"},
		required:   []string{"id"},
	},
	gateway.Conversations: {
		columns: map[string]columnKind{
			"id": kindText, "name": kindText, "type": kindText,
			"created_at": kindTime, "updated_at": kindTime,
			"is_pinned": kindBool, "direct_key": kindText,
		},
		generateID: true,
		timestamps: []string{"created_at", "updated_at"},
	},
	gateway.ConversationParticipants: {
		columns: map[string]columnKind{
			"conversation_id": kindText, "user_id": kindText, "joined_at": kindTime,
		},
		timestamps: []string{"joined_at"},
		required:   []string{"conversation_id", "user_id"},
	},
	gateway.Messages: {
		columns: map[string]columnKind{
			"id": kindText, "conversation_id": kindText, "sender_id": kindText,
			"content": kindText, "content_type": kindText,
			"created_at": kindTime, "updated_at": kindTime,
			"is_edited": kindBool, "status": kindText,
			"reactions": kindJSON, "reply_to": kindText,
		},
		generateID: true,
		timestamps: []string{"created_at", "updated_at"},
		required:   []string{"conversation_id", "sender_id"},
	},
}

func lookupTable(table gateway.Table) (tableSpec, error) {
	spec, ok := tables[table]
	if !ok {
		return tableSpec{}, gateway.Errorf(gateway.CodeNotFound, "table %s does not exist", table)
	}
	return spec, nil
}

func (s tableSpec) checkColumn(table gateway.Table, column string) error {
	if _, ok := s.columns[column]; !ok {
		return gateway.Errorf(gateway.CodeInvalid, "column %s.%s does not exist", table, column)
	}
	return nil
}
