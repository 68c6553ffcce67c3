// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/chatsync"
	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/memgw"
	"github.com/bureau-foundation/chatsync/gateway/natsbus"
	"github.com/bureau-foundation/chatsync/gateway/realtime"
	"github.com/bureau-foundation/chatsync/gateway/rest"
	"github.com/bureau-foundation/chatsync/gateway/sqlitegw"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/config"
	"github.com/bureau-foundation/chatsync/lib/secret"
)

// Connection holds the flags every backend-facing command shares.
// Params structs embed it; it implements cli.FlagBinder.
type Connection struct {
	ConfigPath string
	UserID     string
	SeedPath   string
}

func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.ConfigPath, "config", "", "path to chatsync.yaml (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&c.UserID, "user", "u", "", "act as this user id (default: session.user_id from the config)")
	flagSet.StringVar(&c.SeedPath, "seed", "", "load this JSONC fixture into the backend first")
}

func (c *Connection) loadConfig() (*config.Config, error) {
	if c.ConfigPath != "" {
		return config.LoadFile(c.ConfigPath)
	}
	return config.Load()
}

// environment is an open backend plus the shared collaborators every
// component is built with.
type environment struct {
	config   *config.Config
	gateway  gateway.Gateway
	clock    clock.Clock
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *chatsync.Metrics
	userID   string
	closers  []func()
}

// open loads the configuration, connects the configured backend, and
// applies --seed.
func (c *Connection) open(ctx context.Context, logger *slog.Logger) (*environment, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cli.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	env := &environment{
		config:   cfg,
		clock:    clock.Real(),
		logger:   logger,
		registry: registry,
		metrics:  chatsync.NewMetrics(registry),
		userID:   c.UserID,
	}
	if env.userID == "" {
		env.userID = cfg.Session.UserID
	}
	if err := env.connect(ctx); err != nil {
		env.close()
		return nil, err
	}
	if c.SeedPath != "" {
		fixture, err := readSeed(c.SeedPath)
		if err != nil {
			env.close()
			return nil, err
		}
		counts, err := applySeed(ctx, env.gateway, fixture)
		if err != nil {
			env.close()
			return nil, err
		}
		logger.Debug("seed applied", "path", c.SeedPath, "profiles", counts.Profiles,
			"conversations", counts.Conversations, "messages", counts.Messages)
	}
	return env, nil
}

// connect builds the gateway named by backend.kind and, when
// broadcast.kind is nats, swaps in a NATS broadcaster.
func (env *environment) connect(ctx context.Context) error {
	cfg := env.config
	switch cfg.Backend.Kind {
	case config.BackendMemory:
		env.gateway = memgw.New(memgw.Config{Clock: env.clock, Logger: env.logger}).Connect()

	case config.BackendSQLite:
		backend, err := sqlitegw.Open(sqlitegw.Config{
			Path:   cfg.Backend.SQLitePath,
			Clock:  env.clock,
			Logger: env.logger,
		})
		if err != nil {
			return err
		}
		env.closers = append(env.closers, func() { backend.Close() })
		env.gateway = backend.Connect()

	case config.BackendREST:
		apiKey, err := secret.ReadFromPath(cfg.Backend.APIKeyFile)
		if err != nil {
			return fmt.Errorf("reading API key: %w", err)
		}
		env.closers = append(env.closers, func() { apiKey.Close() })

		store, err := rest.New(rest.Config{URL: cfg.Backend.URL, APIKey: apiKey, Logger: env.logger})
		if err != nil {
			return err
		}
		realtimeURL := cfg.Backend.RealtimeURL
		if realtimeURL == "" {
			realtimeURL = cfg.Backend.URL
		}
		socket, err := realtime.Dial(ctx, realtime.Config{
			URL:    realtimeURL,
			APIKey: apiKey,
			Clock:  env.clock,
			Logger: env.logger,
		})
		if err != nil {
			return err
		}
		env.closers = append(env.closers, func() { socket.Close() })
		env.gateway = gateway.Compose(store, socket, socket)

	default:
		return fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}

	if cfg.Broadcast.Kind == config.BroadcastNATS {
		bus, err := natsbus.Connect(natsbus.Config{
			URL:    cfg.Broadcast.NATSURL,
			Name:   "chatsync",
			Logger: env.logger,
		})
		if err != nil {
			return err
		}
		env.closers = append(env.closers, bus.Close)
		env.gateway = gateway.Compose(env.gateway, env.gateway, bus)
	}
	return nil
}

// close releases backend resources in reverse order of acquisition.
func (env *environment) close() {
	for _, closeFn := range slices.Backward(env.closers) {
		closeFn()
	}
	env.closers = nil
}

// requireUser returns the acting user id or a usage error.
func (env *environment) requireUser() (string, error) {
	if env.userID == "" {
		return "", errors.New("no user: pass --user or set session.user_id in the config")
	}
	return env.userID, nil
}

func (env *environment) directory() *chatsync.Directory {
	return chatsync.NewDirectory(chatsync.DirectoryConfig{
		Store:       env.gateway,
		Notifier:    env.gateway,
		Clock:       env.clock,
		Logger:      env.logger.With("component", "directory"),
		Metrics:     env.metrics,
		SearchLimit: env.config.Session.SearchLimit,
	})
}

func (env *environment) conversations() *chatsync.Conversations {
	return chatsync.NewConversations(chatsync.ConversationsConfig{
		Store:    env.gateway,
		Notifier: env.gateway,
		Clock:    env.clock,
		Logger:   env.logger.With("component", "conversations"),
		Metrics:  env.metrics,
		OnError: func(err error) {
			env.logger.Warn("conversation reload failed", "error", err)
		},
	})
}

func (env *environment) messages() *chatsync.Messages {
	return chatsync.NewMessages(chatsync.MessagesConfig{
		Store:    env.gateway,
		Notifier: env.gateway,
		Logger:   env.logger.With("component", "messages"),
		Metrics:  env.metrics,
	})
}

// actions returns a facade bound to userID. messages may be nil for
// operations that do not need an active conversation.
func (env *environment) actions(userID string, messages *chatsync.Messages) *chatsync.Actions {
	if messages == nil {
		messages = env.messages()
	}
	actions := chatsync.NewActions(chatsync.ActionsConfig{
		Store:    env.gateway,
		Clock:    env.clock,
		Logger:   env.logger.With("component", "actions"),
		Messages: messages,
	})
	actions.Bind(userID)
	return actions
}

// session builds a full sync session for watch.
func (env *environment) session(onError func(error)) (*chatsync.Session, error) {
	return chatsync.NewSession(chatsync.Config{
		Gateway:               env.gateway,
		Clock:                 env.clock,
		Logger:                env.logger,
		Metrics:               env.metrics,
		TypingTopic:           env.config.Broadcast.TypingTopic,
		TypingTimeout:         env.config.TypingTimeout(),
		TypingPublishInterval: env.config.TypingPublishInterval(),
		SearchLimit:           env.config.Session.SearchLimit,
		OnError:               onError,
	})
}

// withEnvironment opens the environment, runs fn, and closes it.
func withEnvironment(ctx context.Context, conn *Connection, logger *slog.Logger, fn func(env *environment) error) error {
	env, err := conn.open(ctx, logger)
	if err != nil {
		return err
	}
	defer env.close()
	return fn(env)
}

// ignoreSkipped turns the precondition sentinels into a silent no-op.
func ignoreSkipped(err error) error {
	if errors.Is(err, chatsync.ErrNotStarted) || errors.Is(err, chatsync.ErrNoActiveConversation) {
		return nil
	}
	return err
}

// unchanged reports an ownership-scoped write that matched nothing.
func unchanged(err error, what string) error {
	if errors.Is(err, chatsync.ErrNoMatch) {
		fmt.Fprintf(os.Stderr, "%s: no message of yours matched; nothing changed\n", what)
		return &cli.ExitError{Code: 1}
	}
	return err
}
