// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// Text renders a column or filter value the way filters compare it:
// strings as-is, numbers and booleans in their canonical text form, and
// named string types by their underlying value.
func Text(value any) string { return stringValue(value) }

func stringValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// CloneRow returns a deep copy of row. Nested maps and slices, as
// found in the reactions column, are copied too.
func CloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	clone := make(Row, len(row))
	for key, value := range row {
		clone[key] = CloneValue(value)
	}
	return clone
}

// CloneValue deep-copies one column value.
func CloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneRow(typed)
	case []any:
		clone := make([]any, len(typed))
		for i, element := range typed {
			clone[i] = CloneValue(element)
		}
		return clone
	case []string:
		return append([]string(nil), typed...)
	default:
		return typed
	}
}
