// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package natsbus is a gateway.Broadcaster over NATS core subjects.
//
// Each topic maps to the subject <prefix>.<topic>; the event name
// travels in a message header and the payload is the JSON body. The
// connection is opened with NoEcho, so a bus never receives its own
// broadcasts, matching the hosted realtime behavior. Delivery is
// at-most-once and unpersisted, which suits ephemeral signals such as
// typing indicators.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/fanout"
)

const (
	// DefaultSubjectPrefix is prepended to every topic.
	DefaultSubjectPrefix = "chatsync.broadcast"

	// EventHeader carries the broadcast event name.
	EventHeader = "Chatsync-Event"

	flushTimeout = 5 * time.Second
)

// Config holds configuration for Connect.
type Config struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string

	// Name identifies the connection in server monitoring.
	Name string

	// SubjectPrefix defaults to DefaultSubjectPrefix.
	SubjectPrefix string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bus is one NATS connection used as a broadcaster.
type Bus struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

var _ gateway.Broadcaster = (*Bus)(nil)

// Connect dials NATS. The client reconnects on its own; connection
// state changes are logged.
func Connect(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.NoEcho(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Errorf("natsbus: connecting to %s: %w", cfg.URL, err))
	}
	return &Bus{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Close closes the connection. Listeners stop receiving.
func (b *Bus) Close() {
	b.conn.Close()
}

func (b *Bus) subject(topic string) (string, error) {
	if topic == "" || strings.ContainsAny(topic, " \t\r\n*>") {
		return "", gateway.Errorf(gateway.CodeInvalid, "invalid broadcast topic %q", topic)
	}
	return b.prefix + "." + topic, nil
}

// Broadcast implements gateway.Broadcaster.
func (b *Bus) Broadcast(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := b.subject(topic)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return gateway.Errorf(gateway.CodeInvalid, "encoding broadcast payload: %v", err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(EventHeader, event)
	msg.Data = encoded
	if err := b.conn.PublishMsg(msg); err != nil {
		return publishError(subject, err)
	}
	return nil
}

func publishError(subject string, err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining) {
		return gateway.Unavailable(fmt.Errorf("natsbus: publishing to %s: %w", subject, err))
	}
	return &gateway.Error{Code: gateway.CodeInvalid, Message: fmt.Sprintf("publishing to %s", subject), Err: err}
}

// Listen implements gateway.Broadcaster. It returns once the server
// has registered the subscription.
func (b *Bus) Listen(ctx context.Context, topic string, handler func(gateway.BroadcastMessage)) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject, err := b.subject(topic)
	if err != nil {
		return nil, err
	}
	queue := fanout.New(handler)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		queue.Push(gateway.BroadcastMessage{
			Topic:   topic,
			Event:   msg.Header.Get(EventHeader),
			Payload: json.RawMessage(msg.Data),
		})
	})
	if err != nil {
		queue.Close()
		return nil, gateway.Unavailable(fmt.Errorf("natsbus: subscribing to %s: %w", subject, err))
	}
	if err := b.conn.FlushTimeout(flushTimeout); err != nil {
		sub.Unsubscribe()
		queue.Close()
		return nil, gateway.Unavailable(fmt.Errorf("natsbus: registering %s: %w", subject, err))
	}
	return &listener{sub: sub, queue: queue, logger: b.logger}, nil
}

type listener struct {
	sub    *nats.Subscription
	queue  *fanout.Queue[gateway.BroadcastMessage]
	logger *slog.Logger
}

func (l *listener) Unsubscribe() {
	if err := l.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		l.logger.Debug("nats unsubscribe failed", "subject", l.sub.Subject, "error", err)
	}
	l.queue.Close()
}
