// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui holds the terminal styling shared by chatsync's
// listings: the color theme, presence and delivery-status markers,
// unread badges, and width-aware truncation. Colors use lipgloss ANSI
// 256-color codes; lipgloss drops them when the output is not a
// terminal.
package tui
