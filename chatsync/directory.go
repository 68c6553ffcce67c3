// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
)

// DefaultSearchLimit caps Directory.Search results.
const DefaultSearchLimit = 10

// DirectoryConfig configures a Directory.
type DirectoryConfig struct {
	Store    gateway.Store
	Notifier gateway.Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *Metrics

	// SearchLimit defaults to DefaultSearchLimit.
	SearchLimit int

	// OnChange is called after the roster changes.
	OnChange func(Change)
}

// Directory mirrors every profile except the local user's.
type Directory struct {
	store       gateway.Store
	notifier    gateway.Notifier
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics
	searchLimit int
	onChange    func(Change)

	mu     sync.Mutex
	userID string
	users  []chat.User
	sub    gateway.Subscription
}

// NewDirectory returns an empty Directory.
func NewDirectory(cfg DirectoryConfig) *Directory {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(Change) {}
	}
	return &Directory{
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		searchLimit: cfg.SearchLimit,
		onChange:    cfg.OnChange,
	}
}

// Load fetches every profile except currentUserID and replaces the
// cache. On failure the previous cache is kept and no users are
// returned.
func (d *Directory) Load(ctx context.Context, currentUserID string) ([]chat.User, error) {
	rows, err := d.store.Select(ctx, gateway.Query{
		Table:   gateway.Profiles,
		Filters: []gateway.Filter{gateway.Neq("id", currentUserID)},
		OrderBy: "username",
	})
	d.metrics.load("directory", err)
	if err != nil {
		d.logger.Error("loading user directory failed", "user_id", currentUserID, "error", err)
		return nil, fmt.Errorf("chatsync: loading directory: %w", err)
	}

	now := d.clock.Now()
	users := make([]chat.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, chat.ParseUser(row, now))
	}

	d.mu.Lock()
	d.userID = currentUserID
	d.users = users
	d.mu.Unlock()

	d.logger.Debug("user directory loaded", "user_id", currentUserID, "users", len(users))
	d.onChange(Change{Kind: ChangeUsers})
	return append([]chat.User(nil), users...), nil
}

// Watch subscribes to profile updates. Each update patches presence
// in place via HandlePresence.
func (d *Directory) Watch(ctx context.Context) error {
	sub, err := d.notifier.Subscribe(ctx, gateway.ChangeFilter{
		Table: gateway.Profiles,
		Event: gateway.EventUpdate,
	}, d.HandlePresence)
	if err != nil {
		return fmt.Errorf("chatsync: subscribing to profiles: %w", err)
	}

	d.mu.Lock()
	previous := d.sub
	d.sub = sub
	d.mu.Unlock()
	if previous != nil {
		previous.Unsubscribe()
	}
	return nil
}

// Close stops watching and clears the cache.
func (d *Directory) Close() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.users = nil
	d.userID = ""
	d.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// HandlePresence applies a profile update. Only status and last_seen
// are taken from the event, and only when present; every other field
// keeps its cached value. Updates for unknown users are ignored.
func (d *Directory) HandlePresence(event gateway.ChangeEvent) {
	if event.Type != gateway.EventUpdate || event.New == nil {
		return
	}
	id := chat.Text(event.New["id"])

	d.mu.Lock()
	index := -1
	for i, user := range d.users {
		if user.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		d.mu.Unlock()
		return
	}
	user := d.users[index]
	if status, ok := event.New["status"]; ok {
		user.Status = chat.ParseUserStatus(status)
	}
	if lastSeen, ok := event.New["last_seen"]; ok {
		user.LastSeen = chat.ParseTime(lastSeen, user.LastSeen)
	}
	d.users[index] = user
	d.mu.Unlock()

	d.metrics.eventApplied(string(event.Table), string(event.Type))
	d.logger.Debug("presence updated", "user_id", id, "status", user.Status)
	d.onChange(Change{Kind: ChangeUsers})
}

// Users returns a copy of the cached roster.
func (d *Directory) Users() []chat.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.User(nil), d.users...)
}

// User returns the cached profile for id.
func (d *Directory) User(id string) (chat.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.ID == id {
			return user, true
		}
	}
	return chat.User{}, false
}

// Filter returns the cached users whose username or full name contains
// query, case-insensitively. It does not contact the gateway.
func (d *Directory) Filter(query string) []chat.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matches []chat.User
	for _, user := range d.users {
		if user.Matches(query) {
			matches = append(matches, user)
		}
	}
	return matches
}

// Search asks the gateway for users whose username or full name
// contains query, case-insensitively, excluding the local user. The
// result is capped at the configured limit. A blank query returns no
// users.
func (d *Directory) Search(ctx context.Context, query string) ([]chat.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []chat.User{}, nil
	}

	d.mu.Lock()
	currentUserID := d.userID
	d.mu.Unlock()

	q := gateway.Query{
		Table:   gateway.Profiles,
		AnyOf:   []gateway.Filter{gateway.ILike("username", query), gateway.ILike("full_name", query)},
		OrderBy: "username",
		Limit:   d.searchLimit,
	}
	if currentUserID != "" {
		q.Filters = []gateway.Filter{gateway.Neq("id", currentUserID)}
	}
	rows, err := d.store.Select(ctx, q)
	if err != nil {
		d.logger.Error("user search failed", "query", query, "error", err)
		return nil, fmt.Errorf("chatsync: searching users: %w", err)
	}

	now := d.clock.Now()
	users := make([]chat.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, chat.ParseUser(row, now))
	}
	return users, nil
}
