// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// logLevel is shared by every logger NewCommandLogger returns, so a
// level read from the config file after the logger exists still
// applies.
var logLevel = new(slog.LevelVar)

// NewCommandLogger creates a structured logger on stderr. When stderr
// is a terminal it uses slog.TextHandler; when piped or redirected it
// uses slog.JSONHandler.
func NewCommandLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: logLevel}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// SetLogLevel sets the level of every command logger. name is one of
// debug, info, warn, error.
func SetLogLevel(name string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return fmt.Errorf("invalid log level %q", name)
	}
	logLevel.Set(level)
	return nil
}
