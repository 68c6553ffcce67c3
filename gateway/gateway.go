// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
)

// Table names a remote table.
type Table string

const (
	Profiles                 Table = "profiles"
	Conversations            Table = "conversations"
	ConversationParticipants Table = "conversation_participants"
	Messages                 Table = "messages"
)

// Row is one record keyed by column name.
type Row = map[string]any

// Operator is a filter comparison.
type Operator string

const (
	// OpEq matches rows whose column equals Value.
	OpEq Operator = "eq"
	// OpNeq matches rows whose column differs from Value.
	OpNeq Operator = "neq"
	// OpILike matches rows whose column contains Value as a
	// case-insensitive substring.
	OpILike Operator = "ilike"
	// OpIn matches rows whose column equals any element of Value,
	// which must be a []string.
	OpIn Operator = "in"
)

// Filter is one column predicate.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

// Eq returns an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Neq returns an inequality filter.
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }

// ILike returns a case-insensitive substring filter.
func ILike(column, substring string) Filter {
	return Filter{Column: column, Op: OpILike, Value: substring}
}

// In returns a set-membership filter.
func In(column string, values []string) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

// Query describes a select. All Filters must match; when AnyOf is
// non-empty at least one of its filters must also match.
type Query struct {
	Table   Table
	Filters []Filter
	AnyOf   []Filter

	// OrderBy names the sort column. Rows with equal keys keep
	// insertion order.
	OrderBy    string
	Descending bool

	// Limit caps the result. Zero means no limit.
	Limit int
}

// Store is the row API.
type Store interface {
	// Select returns the rows matching q.
	Select(ctx context.Context, q Query) ([]Row, error)

	// Insert adds rows and returns them as stored, with server
	// defaults (id, timestamps) filled in.
	Insert(ctx context.Context, table Table, rows ...Row) ([]Row, error)

	// Update applies patch to every row matching all filters and
	// returns the updated rows. Matching nothing is not an error.
	Update(ctx context.Context, table Table, patch Row, filters ...Filter) ([]Row, error)

	// Delete removes every row matching all filters and returns the
	// removed rows. Matching nothing is not an error.
	Delete(ctx context.Context, table Table, filters ...Filter) ([]Row, error)

	// Call invokes a named server-side function. A backend that does
	// not provide fn returns an Error with CodeNotFound.
	Call(ctx context.Context, fn string, args Row) error
}

// Server-side function names understood by every backend in this
// module.
const (
	FuncAddReaction    = "add_reaction"
	FuncRemoveReaction = "remove_reaction"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventAll subscribes to every kind.
	EventAll EventType = "*"
)

// ChangeEvent is one committed row change. New is set for inserts and
// updates; Old is set for deletes and, when the backend has it, for
// updates. Old may hold only the primary key.
type ChangeEvent struct {
	Type  EventType
	Table Table
	New   Row
	Old   Row
}

// ChangeFilter scopes a subscription.
type ChangeFilter struct {
	Table Table

	// Event restricts delivery to one kind. Empty means EventAll.
	Event EventType

	// Filter, when non-nil, must be an OpEq filter. It is matched
	// against New, or Old for deletes.
	Filter *Filter
}

// Subscription is a live registration. Unsubscribe is idempotent and
// returns only after the handler will no longer be invoked for events
// that have not started delivery.
type Subscription interface {
	Unsubscribe()
}

// Notifier delivers row changes.
type Notifier interface {
	// Subscribe registers handler for changes matching filter.
	// Handler calls for one subscription never overlap and arrive in
	// commit order.
	Subscribe(ctx context.Context, filter ChangeFilter, handler func(ChangeEvent)) (Subscription, error)
}

// BroadcastMessage is one message received on a topic.
type BroadcastMessage struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

// Broadcaster is ephemeral topic messaging.
type Broadcaster interface {
	// Broadcast sends payload (JSON-encoded) to every other member of
	// topic. The sender does not receive its own messages.
	Broadcast(ctx context.Context, topic, event string, payload any) error

	// Listen joins topic and delivers messages to handler in arrival
	// order.
	Listen(ctx context.Context, topic string, handler func(BroadcastMessage)) (Subscription, error)
}

// Gateway is the full remote contract.
type Gateway interface {
	Store
	Notifier
	Broadcaster
}

// Compose assembles a Gateway from separate parts, for example a REST
// store, a realtime notifier, and a NATS broadcaster.
func Compose(store Store, notifier Notifier, broadcaster Broadcaster) Gateway {
	return composite{Store: store, Notifier: notifier, Broadcaster: broadcaster}
}

type composite struct {
	Store
	Notifier
	Broadcaster
}

// Matches reports whether row satisfies filter. Values are compared as
// strings, and ilike is a case-insensitive substring test. Backends
// that evaluate filters in process share this.
func (f Filter) Matches(row Row) bool {
	value := stringValue(row[f.Column])
	switch f.Op {
	case OpEq:
		return row[f.Column] != nil && value == stringValue(f.Value)
	case OpNeq:
		return row[f.Column] == nil || value != stringValue(f.Value)
	case OpILike:
		return containsFold(value, stringValue(f.Value))
	case OpIn:
		values, _ := f.Value.([]string)
		for _, candidate := range values {
			if row[f.Column] != nil && value == candidate {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Matches reports whether row satisfies the query's predicates.
func (q Query) Matches(row Row) bool {
	for _, filter := range q.Filters {
		if !filter.Matches(row) {
			return false
		}
	}
	if len(q.AnyOf) == 0 {
		return true
	}
	for _, filter := range q.AnyOf {
		if filter.Matches(row) {
			return true
		}
	}
	return false
}

// Matches reports whether event falls within the subscription scope.
func (f ChangeFilter) Matches(event ChangeEvent) bool {
	if event.Table != f.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != event.Type {
		return false
	}
	if f.Filter == nil {
		return true
	}
	row := event.New
	if event.Type == EventDelete {
		row = event.Old
	}
	return f.Filter.Matches(row)
}
