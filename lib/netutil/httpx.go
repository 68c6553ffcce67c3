// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds HTTP and websocket I/O helpers used by the
// gateway backends.
//
// Response helpers bound every body read at [MaxResponseSize]. The
// REST backend reads whole JSON arrays of rows, and a misbehaving
// server must not be able to exhaust memory doing so.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON response reads: 64 MB.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a bounded body and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns as much of an error response body as can be read,
// for use in diagnostics. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}
