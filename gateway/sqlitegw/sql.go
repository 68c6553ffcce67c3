// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitegw

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// encodeValue converts a gateway value to a bindable SQLite value.
func encodeValue(kind columnKind, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case kindBool:
		switch typed := value.(type) {
		case bool:
			if typed {
				return int64(1), nil
			}
			return int64(0), nil
		case int, int64, float64:
			if gateway.Text(typed) == "0" {
				return int64(0), nil
			}
			return int64(1), nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
			if err != nil {
				return nil, gateway.Errorf(gateway.CodeInvalid, "invalid boolean %q", typed)
			}
			return encodeValue(kind, parsed)
		default:
			return nil, gateway.Errorf(gateway.CodeInvalid, "invalid boolean %T", value)
		}
	case kindJSON:
		switch typed := value.(type) {
		case string:
			if !json.Valid([]byte(typed)) {
				return nil, gateway.Errorf(gateway.CodeInvalid, "invalid JSON value")
			}
			return typed, nil
		case []chat.Reaction:
			value = chat.ReactionsValue(typed)
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, gateway.Errorf(gateway.CodeInvalid, "encoding JSON column: %v", err)
		}
		return string(encoded), nil
	case kindTime:
		// Canonical text keeps ORDER BY on the column in time order.
		if canonical, ok := chat.CanonicalTime(value).(string); ok {
			return canonical, nil
		}
		return gateway.Text(value), nil
	default:
		if t, ok := value.(time.Time); ok {
			return chat.FormatTime(t), nil
		}
		return gateway.Text(value), nil
	}
}

// readRow converts the current result row. The rowid column, when
// selected, is returned separately.
func readRow(spec tableSpec, stmt *sqlite.Stmt) (gateway.Row, int64) {
	row := make(gateway.Row, stmt.ColumnCount())
	var rowid int64
	for i := range stmt.ColumnCount() {
		name := stmt.ColumnName(i)
		if name == "rowid" {
			rowid = stmt.ColumnInt64(i)
			continue
		}
		if stmt.ColumnType(i) == sqlite.TypeNull {
			row[name] = nil
			continue
		}
		switch spec.columns[name] {
		case kindBool:
			row[name] = stmt.ColumnInt64(i) != 0
		case kindJSON:
			var decoded any
			if err := json.Unmarshal([]byte(stmt.ColumnText(i)), &decoded); err != nil {
				decoded = []any{}
			}
			row[name] = decoded
		default:
			row[name] = stmt.ColumnText(i)
		}
	}
	return row, rowid
}

// whereClause renders the filters of a query as a WHERE clause (empty
// when there are none) and its arguments.
func whereClause(table gateway.Table, spec tableSpec, filters, anyOf []gateway.Filter) (string, []any, error) {
	var conditions []string
	var args []any
	for _, filter := range filters {
		condition, filterArgs, err := renderFilter(table, spec, filter)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, condition)
		args = append(args, filterArgs...)
	}
	if len(anyOf) > 0 {
		var alternatives []string
		for _, filter := range anyOf {
			condition, filterArgs, err := renderFilter(table, spec, filter)
			if err != nil {
				return "", nil, err
			}
			alternatives = append(alternatives, condition)
			args = append(args, filterArgs...)
		}
		conditions = append(conditions, "("+strings.Join(alternatives, " OR ")+")")
	}
	if len(conditions) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func renderFilter(table gateway.Table, spec tableSpec, filter gateway.Filter) (string, []any, error) {
	if err := spec.checkColumn(table, filter.Column); err != nil {
		return "", nil, err
	}
	kind := spec.columns[filter.Column]
	column := filter.Column
	switch filter.Op {
	case gateway.OpEq:
		value, err := encodeValue(kind, filter.Value)
		if err != nil {
			return "", nil, err
		}
		return column + " = ?", []any{value}, nil
	case gateway.OpNeq:
		value, err := encodeValue(kind, filter.Value)
		if err != nil {
			return "", nil, err
		}
		return "(" + column + " IS NULL OR " + column + " != ?)", []any{value}, nil
	case gateway.OpILike:
		// SQLite's LIKE is case-insensitive for ASCII.
		pattern := "%" + likeEscaper.Replace(gateway.Text(filter.Value)) + "%"
		return column + ` LIKE ? ESCAPE '\'`, []any{pattern}, nil
	case gateway.OpIn:
		values, ok := filter.Value.([]string)
		if !ok {
			return "", nil, gateway.Errorf(gateway.CodeInvalid, "in filter on %s needs a []string, got %T", column, filter.Value)
		}
		if len(values) == 0 {
			return "0", nil, nil
		}
		args := make([]any, len(values))
		for i, value := range values {
			args[i] = value
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		return column + " IN (" + placeholders + ")", args, nil
	default:
		return "", nil, gateway.Errorf(gateway.CodeInvalid, "unsupported operator %q", filter.Op)
	}
}

// classify maps a SQLite error to a gateway error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gatewayError *gateway.Error
	if errors.As(err, &gatewayError) {
		return err
	}
	switch code := sqlite.ErrCode(err); code {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return &gateway.Error{Code: gateway.CodeUniqueViolation, Message: "duplicate key value violates unique constraint", Err: err}
	case sqlite.ResultConstraintNotNull, sqlite.ResultConstraintForeignKey, sqlite.ResultConstraintCheck:
		return &gateway.Error{Code: gateway.CodeInvalid, Message: fmt.Sprintf("constraint failed (%v)", code), Err: err}
	default:
		return &gateway.Error{Code: gateway.CodeUnavailable, Message: err.Error(), Err: err}
	}
}
