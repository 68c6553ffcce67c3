// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memgw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/fanout"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// Op names a backend operation for failure injection.
type Op string

const (
	OpSelect    Op = "select"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpCall      Op = "call"
	OpSubscribe Op = "subscribe"
	OpBroadcast Op = "broadcast"
)

// Config configures a Backend.
type Config struct {
	// Clock stamps generated timestamps. Default: clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// DisableFunctions makes Call report every function as missing,
	// as a hosted backend without the reaction functions would.
	DisableFunctions bool
}

// Backend is the shared in-memory database.
type Backend struct {
	clock            clock.Clock
	logger           *slog.Logger
	disableFunctions bool

	mu            sync.Mutex
	tables        map[gateway.Table][]gateway.Row
	subscriptions map[*subscription]struct{}
	listeners     map[*listener]struct{}
	failures      []failure
	nextConn      int
}

type failure struct {
	op    Op
	table gateway.Table
	err   error
}

// New returns an empty backend.
func New(cfg Config) *Backend {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		disableFunctions: cfg.DisableFunctions,
		tables:           make(map[gateway.Table][]gateway.Row),
		subscriptions:    make(map[*subscription]struct{}),
		listeners:        make(map[*listener]struct{}),
	}
}

// Connect returns a new client connection.
func (b *Backend) Connect() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextConn++
	return &Conn{backend: b, id: b.nextConn}
}

// FailNext arranges for the next op on table to fail with err. An
// empty table matches any table. Failures are consumed in the order
// they were registered.
func (b *Backend) FailNext(op Op, table gateway.Table, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, failure{op: op, table: table, err: err})
}

// Rows returns a copy of every row in table, in insertion order.
func (b *Backend) Rows(table gateway.Table) []gateway.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := make([]gateway.Row, 0, len(b.tables[table]))
	for _, row := range b.tables[table] {
		rows = append(rows, gateway.CloneRow(row))
	}
	return rows
}

// SubscriptionCount returns the number of live change subscriptions.
func (b *Backend) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

func (b *Backend) injectedLocked(op Op, table gateway.Table) error {
	for i, candidate := range b.failures {
		if candidate.op == op && (candidate.table == "" || candidate.table == table) {
			b.failures = slices.Delete(b.failures, i, i+1)
			return candidate.err
		}
	}
	return nil
}

// Conn is one client's view of a Backend.
type Conn struct {
	backend *Backend
	id      int
}

var _ gateway.Gateway = (*Conn)(nil)

// Select implements gateway.Store.
func (c *Conn) Select(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpSelect, q.Table); err != nil {
		return nil, err
	}
	if err := validateFilters(append(slices.Clone(q.Filters), q.AnyOf...)); err != nil {
		return nil, err
	}

	var rows []gateway.Row
	for _, row := range b.tables[q.Table] {
		if q.Matches(row) {
			rows = append(rows, gateway.CloneRow(row))
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			left, right := chat.Text(rows[i][q.OrderBy]), chat.Text(rows[j][q.OrderBy])
			if q.Descending {
				return left > right
			}
			return left < right
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// Insert implements gateway.Store.
func (c *Conn) Insert(ctx context.Context, table gateway.Table, rows ...gateway.Row) ([]gateway.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpInsert, table); err != nil {
		return nil, err
	}

	prepared := make([]gateway.Row, 0, len(rows))
	for _, row := range rows {
		stored, err := b.withDefaultsLocked(table, row)
		if err != nil {
			return nil, err
		}
		if err := b.checkUniqueLocked(table, stored, prepared); err != nil {
			return nil, err
		}
		prepared = append(prepared, stored)
	}

	result := make([]gateway.Row, 0, len(prepared))
	for _, row := range prepared {
		b.tables[table] = append(b.tables[table], row)
		b.publishLocked(gateway.ChangeEvent{Type: gateway.EventInsert, Table: table, New: row})
		result = append(result, gateway.CloneRow(row))
	}
	return result, nil
}

// Update implements gateway.Store.
func (c *Conn) Update(ctx context.Context, table gateway.Table, patch gateway.Row, filters ...gateway.Filter) ([]gateway.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpUpdate, table); err != nil {
		return nil, err
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	return b.updateLocked(table, patch, filters), nil
}

func (b *Backend) updateLocked(table gateway.Table, patch gateway.Row, filters []gateway.Filter) []gateway.Row {
	query := gateway.Query{Filters: filters}
	var result []gateway.Row
	for i, row := range b.tables[table] {
		if !query.Matches(row) {
			continue
		}
		old := row
		updated := gateway.CloneRow(row)
		for column, value := range patch {
			updated[column] = normalizeColumn(column, value)
		}
		b.tables[table][i] = updated
		b.publishLocked(gateway.ChangeEvent{Type: gateway.EventUpdate, Table: table, New: updated, Old: old})
		result = append(result, gateway.CloneRow(updated))
	}
	return result
}

// Delete implements gateway.Store.
func (c *Conn) Delete(ctx context.Context, table gateway.Table, filters ...gateway.Filter) ([]gateway.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpDelete, table); err != nil {
		return nil, err
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	query := gateway.Query{Filters: filters}
	var kept, removed []gateway.Row
	for _, row := range b.tables[table] {
		if query.Matches(row) {
			removed = append(removed, row)
		} else {
			kept = append(kept, row)
		}
	}
	b.tables[table] = kept

	result := make([]gateway.Row, 0, len(removed))
	for _, row := range removed {
		b.publishLocked(gateway.ChangeEvent{Type: gateway.EventDelete, Table: table, Old: row})
		result = append(result, gateway.CloneRow(row))
	}
	if table == gateway.Conversations {
		b.cascadeLocked(removed)
	}
	return result, nil
}

// cascadeLocked removes participant rows and messages of deleted
// conversations, as the ON DELETE CASCADE foreign keys do in SQL.
func (b *Backend) cascadeLocked(conversations []gateway.Row) {
	for _, conversation := range conversations {
		id := chat.Text(conversation["id"])
		for _, table := range []gateway.Table{gateway.ConversationParticipants, gateway.Messages} {
			var kept []gateway.Row
			for _, row := range b.tables[table] {
				if chat.Text(row["conversation_id"]) == id {
					b.publishLocked(gateway.ChangeEvent{Type: gateway.EventDelete, Table: table, Old: row})
					continue
				}
				kept = append(kept, row)
			}
			b.tables[table] = kept
		}
	}
}

// Call implements gateway.Store. The reaction functions take
// message_id, user_id, and emoji and apply the set change under the
// table lock.
func (c *Conn) Call(ctx context.Context, fn string, args gateway.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpCall, ""); err != nil {
		return err
	}
	if b.disableFunctions {
		return gateway.Errorf(gateway.CodeNotFound, "function %s does not exist", fn)
	}

	var apply func(reactions []chat.Reaction, userID, emoji string) []chat.Reaction
	switch fn {
	case gateway.FuncAddReaction:
		apply = chat.WithReaction
	case gateway.FuncRemoveReaction:
		apply = chat.WithoutReaction
	default:
		return gateway.Errorf(gateway.CodeNotFound, "function %s does not exist", fn)
	}

	messageID, userID, emoji := chat.Text(args["message_id"]), chat.Text(args["user_id"]), chat.Text(args["emoji"])
	if messageID == "" || userID == "" || emoji == "" {
		return gateway.Errorf(gateway.CodeInvalid, "%s requires message_id, user_id, and emoji", fn)
	}
	for _, row := range b.tables[gateway.Messages] {
		if chat.Text(row["id"]) != messageID {
			continue
		}
		reactions := apply(chat.ParseReactions(row["reactions"]), userID, emoji)
		b.updateLocked(gateway.Messages, gateway.Row{"reactions": chat.ReactionsValue(reactions)},
			[]gateway.Filter{gateway.Eq("id", messageID)})
		return nil
	}
	return gateway.Errorf(gateway.CodeNotFound, "message %s does not exist", messageID)
}

func validateFilters(filters []gateway.Filter) error {
	for _, filter := range filters {
		switch filter.Op {
		case gateway.OpEq, gateway.OpNeq, gateway.OpILike:
		case gateway.OpIn:
			if _, ok := filter.Value.([]string); !ok {
				return gateway.Errorf(gateway.CodeInvalid, "in filter on %s needs a []string, got %T", filter.Column, filter.Value)
			}
		default:
			return gateway.Errorf(gateway.CodeInvalid, "unsupported operator %q", filter.Op)
		}
	}
	return nil
}

// normalizeValue stores values in their JSON-decoded shape so rows
// look the same as rows from an HTTP backend.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []chat.Reaction:
		return chat.ReactionsValue(typed)
	case time.Time:
		return chat.FormatTime(typed)
	case chat.UserStatus:
		return string(typed)
	case chat.MessageStatus:
		return string(typed)
	case chat.ContentType:
		return string(typed)
	case chat.ConversationType:
		return string(typed)
	default:
		return gateway.CloneValue(typed)
	}
}

// normalizeColumn is normalizeValue plus canonical timestamps, so
// ordering by a time column sorts in time order.
func normalizeColumn(column string, value any) any {
	if chat.IsTimeColumn(column) {
		return chat.CanonicalTime(normalizeValue(value))
	}
	return normalizeValue(value)
}

func (b *Backend) withDefaultsLocked(table gateway.Table, input gateway.Row) (gateway.Row, error) {
	row := make(gateway.Row, len(input)+4)
	for column, value := range input {
		row[column] = normalizeColumn(column, value)
	}
	now := chat.FormatTime(b.clock.Now())
	setDefault := func(column string, value any) {
		if row[column] == nil {
			row[column] = value
		}
	}

	switch table {
	case gateway.Profiles:
		if chat.Text(row["id"]) == "" {
			return nil, gateway.Errorf(gateway.CodeInvalid, "profiles.id is required")
		}
		setDefault("status", string(chat.StatusOffline))
		setDefault("role", chat.DefaultRole)
		setDefault("last_seen", now)
	case gateway.Conversations:
		setDefault("id", uuid.NewString())
		setDefault("created_at", now)
		setDefault("updated_at", now)
		setDefault("is_pinned", false)
	case gateway.ConversationParticipants:
		if chat.Text(row["conversation_id"]) == "" || chat.Text(row["user_id"]) == "" {
			return nil, gateway.Errorf(gateway.CodeInvalid, "conversation_participants needs conversation_id and user_id")
		}
		setDefault("joined_at", now)
	case gateway.Messages:
		if chat.Text(row["conversation_id"]) == "" || chat.Text(row["sender_id"]) == "" {
			return nil, gateway.Errorf(gateway.CodeInvalid, "messages needs conversation_id and sender_id")
		}
		setDefault("id", uuid.NewString())
		setDefault("created_at", now)
		setDefault("updated_at", now)
		setDefault("is_edited", false)
		setDefault("status", string(chat.MessageSent))
		setDefault("content_type", string(chat.ContentText))
		setDefault("reactions", []any{})
	default:
		return nil, gateway.Errorf(gateway.CodeNotFound, "table %s does not exist", table)
	}
	return row, nil
}

// uniqueKeys lists the unique column sets of each table.
var uniqueKeys = map[gateway.Table][][]string{
	gateway.Profiles:                 {{"id"}, {"username"}},
	gateway.Conversations:            {{"id"}, {"direct_key"}},
	gateway.ConversationParticipants: {{"conversation_id", "user_id"}},
	gateway.Messages:                 {{"id"}},
}

func (b *Backend) checkUniqueLocked(table gateway.Table, row gateway.Row, pending []gateway.Row) error {
	existing := append(slices.Clone(b.tables[table]), pending...)
	for _, columns := range uniqueKeys[table] {
		key, ok := compositeKey(row, columns)
		if !ok {
			continue
		}
		for _, other := range existing {
			if otherKey, ok := compositeKey(other, columns); ok && otherKey == key {
				return &gateway.Error{
					Code:    gateway.CodeUniqueViolation,
					Message: fmt.Sprintf("duplicate key value violates unique constraint on %s(%v)", table, columns),
					Details: fmt.Sprintf("Key (%v)=(%s) already exists.", columns, key),
				}
			}
		}
	}
	return nil
}

// compositeKey joins the row's values for columns. Rows with a missing
// or empty value in any column do not participate, like NULL in SQL.
func compositeKey(row gateway.Row, columns []string) (string, bool) {
	key := ""
	for _, column := range columns {
		value := chat.Text(row[column])
		if value == "" {
			return "", false
		}
		key += value + "\x00"
	}
	return key, true
}

// Subscribe implements gateway.Notifier.
func (c *Conn) Subscribe(ctx context.Context, filter gateway.ChangeFilter, handler func(gateway.ChangeEvent)) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter.Filter != nil && filter.Filter.Op != gateway.OpEq {
		return nil, gateway.Errorf(gateway.CodeInvalid, "subscription filters support eq only, got %s", filter.Filter.Op)
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpSubscribe, filter.Table); err != nil {
		return nil, err
	}
	sub := &subscription{backend: b, filter: filter, queue: fanout.New(handler)}
	b.subscriptions[sub] = struct{}{}
	return sub, nil
}

type subscription struct {
	backend *Backend
	filter  gateway.ChangeFilter
	queue   *fanout.Queue[gateway.ChangeEvent]
}

func (s *subscription) Unsubscribe() {
	s.backend.mu.Lock()
	delete(s.backend.subscriptions, s)
	s.backend.mu.Unlock()
	s.queue.Close()
}

func (b *Backend) publishLocked(event gateway.ChangeEvent) {
	for sub := range b.subscriptions {
		if sub.filter.Matches(event) {
			sub.queue.Push(gateway.ChangeEvent{
				Type:  event.Type,
				Table: event.Table,
				New:   gateway.CloneRow(event.New),
				Old:   gateway.CloneRow(event.Old),
			})
		}
	}
}

// Broadcast implements gateway.Broadcaster.
func (c *Conn) Broadcast(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return gateway.Errorf(gateway.CodeInvalid, "encoding broadcast payload: %v", err)
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injectedLocked(OpBroadcast, ""); err != nil {
		return err
	}
	for listener := range b.listeners {
		if listener.topic == topic && listener.conn != c.id {
			listener.queue.Push(gateway.BroadcastMessage{Topic: topic, Event: event, Payload: encoded})
		}
	}
	return nil
}

// Listen implements gateway.Broadcaster.
func (c *Conn) Listen(ctx context.Context, topic string, handler func(gateway.BroadcastMessage)) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &listener{backend: b, conn: c.id, topic: topic, queue: fanout.New(handler)}
	b.listeners[l] = struct{}{}
	return l, nil
}

type listener struct {
	backend *Backend
	conn    int
	topic   string
	queue   *fanout.Queue[gateway.BroadcastMessage]
}

func (l *listener) Unsubscribe() {
	l.backend.mu.Lock()
	delete(l.backend.listeners, l)
	l.backend.mu.Unlock()
	l.queue.Close()
}
