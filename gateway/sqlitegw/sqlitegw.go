// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitegw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/sqlitepool"
)

// Config holds the parameters for Open.
type Config struct {
	// Path is the database file. Created, with its schema, if missing.
	Path string

	// PoolSize is passed to sqlitepool.
	PoolSize int

	// Clock stamps generated timestamps. Default: clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Backend is an open database plus its in-process subscribers.
type Backend struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// writeMu serializes write transactions and the publication of
	// their events.
	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[*subscription]struct{}
	listeners     map[*listener]struct{}
	nextConn      int
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Backend, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Schema:   schema,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: %w", err)
	}
	return &Backend{
		pool:          pool,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		subscriptions: make(map[*subscription]struct{}),
		listeners:     make(map[*listener]struct{}),
	}, nil
}

// Close stops every subscription and closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	subscriptions := b.subscriptions
	listeners := b.listeners
	b.subscriptions = make(map[*subscription]struct{})
	b.listeners = make(map[*listener]struct{})
	b.mu.Unlock()
	for sub := range subscriptions {
		sub.queue.Close()
	}
	for l := range listeners {
		l.queue.Close()
	}
	return b.pool.Close()
}

// Connect returns a new client connection. Broadcasts are not echoed
// to listeners on the sending connection.
func (b *Backend) Connect() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextConn++
	return &Conn{backend: b, id: b.nextConn}
}

// Conn is one client's view of the backend.
type Conn struct {
	backend *Backend
	id      int
}

var _ gateway.Gateway = (*Conn)(nil)

// Select implements gateway.Store.
func (c *Conn) Select(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	spec, err := lookupTable(q.Table)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(q.Table, spec, q.Filters, q.AnyOf)
	if err != nil {
		return nil, err
	}
	query := "SELECT * FROM " + string(q.Table) + where
	if q.OrderBy != "" {
		if err := spec.checkColumn(q.Table, q.OrderBy); err != nil {
			return nil, err
		}
		direction := " ASC"
		if q.Descending {
			direction = " DESC"
		}
		query += " ORDER BY " + q.OrderBy + direction + ", rowid ASC"
	} else {
		query += " ORDER BY rowid ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	conn, err := c.backend.pool.Take(ctx)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	defer c.backend.pool.Put(conn)

	rows, err := collect(conn, spec, query, args)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func collect(conn *sqlite.Conn, spec tableSpec, query string, args []any) ([]gateway.Row, error) {
	var rows []gateway.Row
	err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row, _ := readRow(spec, stmt)
			rows = append(rows, row)
			return nil
		},
	})
	return rows, err
}

// write runs fn in an IMMEDIATE transaction and publishes the events
// it returns once the transaction has committed.
func (b *Backend) write(ctx context.Context, fn func(conn *sqlite.Conn) ([]gateway.ChangeEvent, error)) (err error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return gateway.Unavailable(err)
	}
	defer b.pool.Put(conn)

	events, err := func() (events []gateway.ChangeEvent, err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return nil, err
		}
		defer endTransaction(&err)
		return fn(conn)
	}()
	if err != nil {
		return classify(err)
	}
	for _, event := range events {
		b.publish(event)
	}
	return nil
}

// Insert implements gateway.Store. All rows are inserted in one
// transaction; any failure inserts none.
func (c *Conn) Insert(ctx context.Context, table gateway.Table, rows ...gateway.Row) ([]gateway.Row, error) {
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	var inserted []gateway.Row
	err = c.backend.write(ctx, func(conn *sqlite.Conn) ([]gateway.ChangeEvent, error) {
		now := chat.FormatTime(c.backend.clock.Now())
		var events []gateway.ChangeEvent
		for _, input := range rows {
			row, err := c.backend.withDefaults(table, spec, input, now)
			if err != nil {
				return nil, err
			}
			columns := make([]string, 0, len(row))
			for column := range row {
				columns = append(columns, column)
			}
			sort.Strings(columns)
			args := make([]any, len(columns))
			for i, column := range columns {
				if args[i], err = encodeValue(spec.columns[column], row[column]); err != nil {
					return nil, err
				}
			}
			query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
				table, strings.Join(columns, ", "),
				strings.TrimSuffix(strings.Repeat("?,", len(columns)), ","))
			stored, err := collect(conn, spec, query, args)
			if err != nil {
				return nil, err
			}
			inserted = append(inserted, stored...)
			for _, row := range stored {
				events = append(events, gateway.ChangeEvent{Type: gateway.EventInsert, Table: table, New: row})
			}
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneRows(inserted), nil
}

func (b *Backend) withDefaults(table gateway.Table, spec tableSpec, input gateway.Row, now string) (gateway.Row, error) {
	row := make(gateway.Row, len(input)+3)
	for column, value := range input {
		if err := spec.checkColumn(table, column); err != nil {
			return nil, err
		}
		row[column] = value
	}
	for _, column := range spec.required {
		if chat.Text(row[column]) == "" {
			return nil, gateway.Errorf(gateway.CodeInvalid, "%s.%s is required", table, column)
		}
	}
	if spec.generateID && chat.Text(row["id"]) == "" {
		row["id"] = uuid.NewString()
	}
	for _, column := range spec.timestamps {
		if row[column] == nil {
			row[column] = now
		}
	}
	return row, nil
}

// Update implements gateway.Store.
func (c *Conn) Update(ctx context.Context, table gateway.Table, patch gateway.Row, filters ...gateway.Filter) ([]gateway.Row, error) {
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, gateway.Errorf(gateway.CodeInvalid, "update of %s has an empty patch", table)
	}
	where, whereArgs, err := whereClause(table, spec, filters, nil)
	if err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(patch))
	for column := range patch {
		if err := spec.checkColumn(table, column); err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(whereArgs))
	for i, column := range columns {
		value, err := encodeValue(spec.columns[column], patch[column])
		if err != nil {
			return nil, err
		}
		assignments[i] = column + " = ?"
		args = append(args, value)
	}
	args = append(args, whereArgs...)

	var updated []gateway.Row
	err = c.backend.write(ctx, func(conn *sqlite.Conn) ([]gateway.ChangeEvent, error) {
		updated = nil
		events, rows, err := updateRows(conn, table, spec,
			"UPDATE "+string(table)+" SET "+strings.Join(assignments, ", ")+where+" RETURNING rowid, *",
			"SELECT rowid, * FROM "+string(table)+where,
			args, whereArgs)
		updated = rows
		return events, err
	})
	if err != nil {
		return nil, err
	}
	return cloneRows(updated), nil
}

// updateRows reads the rows selectQuery matches, runs updateQuery, and
// pairs old and new images by rowid.
func updateRows(conn *sqlite.Conn, table gateway.Table, spec tableSpec,
	updateQuery, selectQuery string, updateArgs, selectArgs []any,
) ([]gateway.ChangeEvent, []gateway.Row, error) {
	old := make(map[int64]gateway.Row)
	err := sqlitex.ExecuteTransient(conn, selectQuery, &sqlitex.ExecOptions{
		Args: selectArgs,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row, rowid := readRow(spec, stmt)
			old[rowid] = row
			return nil
		},
	})
	if err != nil {
		return nil, nil, err
	}

	var events []gateway.ChangeEvent
	var rows []gateway.Row
	err = sqlitex.ExecuteTransient(conn, updateQuery, &sqlitex.ExecOptions{
		Args: updateArgs,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row, rowid := readRow(spec, stmt)
			rows = append(rows, row)
			events = append(events, gateway.ChangeEvent{Type: gateway.EventUpdate, Table: table, New: row, Old: old[rowid]})
			return nil
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return events, rows, nil
}

// Delete implements gateway.Store. Deleting conversations cascades to
// their participants and messages, and a delete event is published for
// every cascaded row.
func (c *Conn) Delete(ctx context.Context, table gateway.Table, filters ...gateway.Filter) ([]gateway.Row, error) {
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(table, spec, filters, nil)
	if err != nil {
		return nil, err
	}

	var removed []gateway.Row
	err = c.backend.write(ctx, func(conn *sqlite.Conn) ([]gateway.ChangeEvent, error) {
		var cascaded []gateway.ChangeEvent
		if table == gateway.Conversations {
			for _, child := range []gateway.Table{gateway.ConversationParticipants, gateway.Messages} {
				rows, err := collect(conn, tables[child],
					"SELECT * FROM "+string(child)+" WHERE conversation_id IN (SELECT id FROM conversations"+where+") ORDER BY rowid",
					args)
				if err != nil {
					return nil, err
				}
				for _, row := range rows {
					cascaded = append(cascaded, gateway.ChangeEvent{Type: gateway.EventDelete, Table: child, Old: row})
				}
			}
		}

		rows, err := collect(conn, spec, "DELETE FROM "+string(table)+where+" RETURNING *", args)
		if err != nil {
			return nil, err
		}
		removed = rows
		events := make([]gateway.ChangeEvent, 0, len(rows)+len(cascaded))
		for _, row := range rows {
			events = append(events, gateway.ChangeEvent{Type: gateway.EventDelete, Table: table, Old: row})
		}
		return append(events, cascaded...), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneRows(removed), nil
}

// Call implements gateway.Store. add_reaction and remove_reaction take
// message_id, user_id, and emoji and change the reaction set inside
// one transaction.
func (c *Conn) Call(ctx context.Context, fn string, args gateway.Row) error {
	var apply func([]chat.Reaction, string, string) []chat.Reaction
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

	spec := tables[gateway.Messages]
	return c.backend.write(ctx, func(conn *sqlite.Conn) ([]gateway.ChangeEvent, error) {
		var current string
		found := false
		err := sqlitex.ExecuteTransient(conn, "SELECT reactions FROM messages WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{messageID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, gateway.Errorf(gateway.CodeNotFound, "message %s does not exist", messageID)
		}
		reactions := apply(chat.ParseReactions(current), userID, emoji)
		encoded, err := json.Marshal(chat.ReactionsValue(reactions))
		if err != nil {
			return nil, err
		}
		events, _, err := updateRows(conn, gateway.Messages, spec,
			"UPDATE messages SET reactions = ? WHERE id = ? RETURNING rowid, *",
			"SELECT rowid, * FROM messages WHERE id = ?",
			[]any{string(encoded), messageID}, []any{messageID})
		return events, err
	})
}

func cloneRows(rows []gateway.Row) []gateway.Row {
	if rows == nil {
		return []gateway.Row{}
	}
	return slices.Clone(rows)
}
