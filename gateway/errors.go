// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
)

// Code classifies a gateway failure.
type Code string

const (
	// CodeUniqueViolation: a write collided with a uniqueness
	// constraint (Postgres SQLSTATE 23505).
	CodeUniqueViolation Code = "unique_violation"

	// CodeNotFound: the table, row, or function does not exist.
	CodeNotFound Code = "not_found"

	// CodeInvalid: the request was rejected as malformed.
	CodeInvalid Code = "invalid"

	// CodeUnavailable: the backend could not be reached or failed
	// internally. Retrying may succeed.
	CodeUnavailable Code = "unavailable"
)

// Error is a classified gateway failure.
type Error struct {
	Code    Code
	Message string

	// Details carries backend-specific context, such as the violated
	// constraint.
	Details string

	// StatusCode is the HTTP status for HTTP backends, else zero.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	message := e.Message
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway: %s (HTTP %d): %s", e.Code, e.StatusCode, message)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Code, message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a transport failure.
func Unavailable(err error) *Error {
	return &Error{Code: CodeUnavailable, Message: err.Error(), Err: err}
}

// IsCode reports whether err is or wraps an *Error with code.
func IsCode(err error, code Code) bool {
	var gatewayError *Error
	if errors.As(err, &gatewayError) {
		return gatewayError.Code == code
	}
	return false
}
