// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/gateway/fanout"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/netutil"
	"github.com/bureau-foundation/chatsync/lib/secret"
)

const (
	// DefaultHeartbeatInterval matches the server's idle timeout
	// expectations.
	DefaultHeartbeatInterval = 25 * time.Second

	// DefaultReplyTimeout bounds a join.
	DefaultReplyTimeout = 10 * time.Second

	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("realtime: client closed")

// Config holds configuration for Dial.
type Config struct {
	// URL is the project base URL (e.g. "https://abc.supabase.co").
	// http and https map to ws and wss.
	URL string

	// APIKey is sent as the apikey query parameter. Required.
	APIKey *secret.Buffer

	// AccessToken, when set, authorizes channel joins instead of the
	// API key.
	AccessToken *secret.Buffer

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Clock drives heartbeats and reply timeouts. Default: clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	HeartbeatInterval time.Duration
	ReplyTimeout      time.Duration
}

// Client is one realtime socket.
type Client struct {
	conn         *websocket.Conn
	clock        clock.Clock
	logger       *slog.Logger
	accessToken  string
	replyTimeout time.Duration
	ticker       *clock.Ticker

	writeMu sync.Mutex

	// joinMu serializes broadcast channel joins so concurrent Listen
	// and Broadcast calls for one topic share a channel.
	joinMu sync.Mutex

	mu         sync.Mutex
	nextRef    uint64
	nextTopic  int
	pending    map[string]chan replyPayload
	channels   map[string]*channel
	broadcasts map[string]*channel
	err        error

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ gateway.Notifier    = (*Client)(nil)
	_ gateway.Broadcaster = (*Client)(nil)
)

// channel is one joined topic. A change channel has a queue; a
// broadcast channel has listeners.
type channel struct {
	topic     string
	name      string
	changes   *fanout.Queue[gateway.ChangeEvent]
	listeners map[*listener]struct{}
}

// Dial opens the socket and starts the read and heartbeat loops.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == nil {
		return nil, errors.New("realtime: APIKey is required")
	}
	endpoint, err := socketURL(cfg.URL, cfg.APIKey.String())
	if err != nil {
		return nil, err
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	accessToken := cfg.APIKey.String()
	if cfg.AccessToken != nil {
		accessToken = cfg.AccessToken.String()
	}

	conn, response, err := cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if response != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, response.StatusCode)
		}
		return nil, gateway.Unavailable(fmt.Errorf("realtime: dialing: %w", err))
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		conn:         conn,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		accessToken:  accessToken,
		replyTimeout: cfg.ReplyTimeout,
		ticker:       cfg.Clock.NewTicker(cfg.HeartbeatInterval),
		pending:      make(map[string]chan replyPayload),
		channels:     make(map[string]*channel),
		broadcasts:   make(map[string]*channel),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

// socketURL derives the websocket endpoint from the project URL.
func socketURL(base, apiKey string) (string, error) {
	if base == "" {
		return "", errors.New("realtime: URL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("realtime: invalid URL %q: %w", base, err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("realtime: unsupported URL scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/realtime/v1/websocket"
	parsed.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}.Encode()
	return parsed.String(), nil
}

// Done is closed when the socket has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the socket, or nil after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close leaves every channel and closes the socket.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.mu.Lock()
	topics := make([]string, 0, len(c.channels))
	for topic := range c.channels {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		c.send(topic, eventLeave, struct{}{})
	}

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.shutdown(nil)
	return nil
}

// shutdown tears the client down once. A nil cause means a local Close.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.ticker.Stop()

		c.mu.Lock()
		c.err = cause
		var closers []func()
		for _, ch := range c.channels {
			if ch.changes != nil {
				closers = append(closers, ch.changes.Close)
			}
			for l := range ch.listeners {
				closers = append(closers, l.queue.Close)
			}
		}
		c.channels = make(map[string]*channel)
		c.broadcasts = make(map[string]*channel)
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()

		for _, closeQueue := range closers {
			closeQueue()
		}
	})
}

func (c *Client) closedError() error {
	if err := c.Err(); err != nil {
		return gateway.Unavailable(fmt.Errorf("realtime: socket closed: %w", err))
	}
	return gateway.Unavailable(ErrClosed)
}

// send writes one frame and returns its ref.
func (c *Client) send(topic, event string, payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", gateway.Errorf(gateway.CodeInvalid, "encoding %s payload: %v", event, err)
	}
	c.mu.Lock()
	c.nextRef++
	ref := strconv.FormatUint(c.nextRef, 10)
	c.mu.Unlock()
	return ref, c.write(frame{Topic: topic, Event: event, Payload: encoded, Ref: &ref})
}

func (c *Client) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("realtime: encoding frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return c.closedError()
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return gateway.Unavailable(fmt.Errorf("realtime: writing %s: %w", f.Event, err))
	}
	return nil
}

// request sends a frame and waits for its phx_reply.
func (c *Client) request(ctx context.Context, topic, event string, payload any) (replyPayload, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return replyPayload{}, gateway.Errorf(gateway.CodeInvalid, "encoding %s payload: %v", event, err)
	}
	reply := make(chan replyPayload, 1)
	c.mu.Lock()
	c.nextRef++
	ref := strconv.FormatUint(c.nextRef, 10)
	c.pending[ref] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.write(frame{Topic: topic, Event: event, Payload: encoded, Ref: &ref}); err != nil {
		return replyPayload{}, err
	}
	select {
	case response := <-reply:
		return response, nil
	case <-ctx.Done():
		return replyPayload{}, ctx.Err()
	case <-c.done:
		return replyPayload{}, c.closedError()
	case <-c.clock.After(c.replyTimeout):
		return replyPayload{}, gateway.Unavailable(fmt.Errorf("realtime: no reply to %s on %s within %s", event, topic, c.replyTimeout))
	}
}

// join joins topic with config and checks the reply status.
func (c *Client) join(ctx context.Context, topic string, config joinConfig) error {
	if config.PostgresChanges == nil {
		config.PostgresChanges = []postgresChange{}
	}
	reply, err := c.request(ctx, topic, eventJoin, joinPayload{Config: config, AccessToken: c.accessToken})
	if err != nil {
		return err
	}
	if reply.Status != "ok" {
		return &gateway.Error{
			Code:    gateway.CodeInvalid,
			Message: fmt.Sprintf("joining %s: %s", topic, reply.Status),
			Details: string(reply.Response),
		}
	}
	c.logger.Debug("realtime channel joined", "topic", topic)
	return nil
}

// Subscribe implements gateway.Notifier. Each subscription joins its
// own channel.
func (c *Client) Subscribe(ctx context.Context, filter gateway.ChangeFilter, handler func(gateway.ChangeEvent)) (gateway.Subscription, error) {
	change, err := changeConfig(filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.closedError()
	default:
	}
	c.nextTopic++
	ch := &channel{
		topic:   fmt.Sprintf("%schanges:%s:%d", topicPrefix, filter.Table, c.nextTopic),
		changes: fanout.New(handler),
	}
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	if err := c.join(ctx, ch.topic, joinConfig{PostgresChanges: []postgresChange{change}}); err != nil {
		c.drop(ch)
		return nil, err
	}
	return &subscription{client: c, channel: ch}, nil
}

// drop forgets ch and stops its deliveries. It reports whether ch was
// still registered.
func (c *Client) drop(ch *channel) bool {
	c.mu.Lock()
	registered := c.channels[ch.topic] == ch
	if registered {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
	ch.changes.Close()
	return registered
}

type subscription struct {
	client  *Client
	channel *channel
	once    sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.client.drop(s.channel) {
			if _, err := s.client.send(s.channel.topic, eventLeave, struct{}{}); err != nil {
				s.client.logger.Debug("leaving realtime channel", "topic", s.channel.topic, "error", err)
			}
		}
	})
}

// broadcastChannel returns the joined channel for topic, joining it on
// first use. Broadcast channels stay joined until Close.
func (c *Client) broadcastChannel(ctx context.Context, topic string) (*channel, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.closedError()
	default:
	}
	if ch, ok := c.broadcasts[topic]; ok {
		c.mu.Unlock()
		return ch, nil
	}
	ch := &channel{
		topic:     topicPrefix + topic,
		name:      topic,
		listeners: make(map[*listener]struct{}),
	}
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	if err := c.join(ctx, ch.topic, joinConfig{}); err != nil {
		c.mu.Lock()
		delete(c.channels, ch.topic)
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Lock()
	c.broadcasts[topic] = ch
	c.mu.Unlock()
	return ch, nil
}

// Broadcast implements gateway.Broadcaster. The server does not echo
// messages back to the sending socket.
func (c *Client) Broadcast(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return gateway.Errorf(gateway.CodeInvalid, "encoding broadcast payload: %v", err)
	}
	ch, err := c.broadcastChannel(ctx, topic)
	if err != nil {
		return err
	}
	_, err = c.send(ch.topic, eventBroadcast, broadcastPayload{Type: eventBroadcast, Event: event, Payload: encoded})
	return err
}

// Listen implements gateway.Broadcaster.
func (c *Client) Listen(ctx context.Context, topic string, handler func(gateway.BroadcastMessage)) (gateway.Subscription, error) {
	ch, err := c.broadcastChannel(ctx, topic)
	if err != nil {
		return nil, err
	}
	l := &listener{client: c, channel: ch, queue: fanout.New(handler)}
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		l.queue.Close()
		return nil, c.closedError()
	default:
	}
	ch.listeners[l] = struct{}{}
	c.mu.Unlock()
	return l, nil
}

type listener struct {
	client  *Client
	channel *channel
	queue   *fanout.Queue[gateway.BroadcastMessage]
}

func (l *listener) Unsubscribe() {
	l.client.mu.Lock()
	delete(l.channel.listeners, l)
	l.client.mu.Unlock()
	l.queue.Close()
}

func (c *Client) heartbeatLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			if _, err := c.send(heartbeatTopic, eventHeartbeat, struct{}{}); err != nil {
				c.logger.Warn("realtime heartbeat failed", "error", err)
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if netutil.IsExpectedCloseError(err) {
					c.logger.Info("realtime socket closed by server", "error", err)
				} else {
					c.logger.Error("realtime socket read failed", "error", err)
				}
			}
			c.shutdown(err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("discarding malformed realtime frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Event {
	case eventReply:
		if f.Ref == nil {
			return
		}
		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			c.logger.Warn("discarding malformed realtime reply", "topic", f.Topic, "error", err)
			return
		}
		c.mu.Lock()
		waiter, ok := c.pending[*f.Ref]
		c.mu.Unlock()
		if ok {
			select {
			case waiter <- reply:
			default:
			}
		}

	case eventPostgresChanges:
		var payload changesPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			c.logger.Warn("discarding malformed change event", "topic", f.Topic, "error", err)
			return
		}
		event, ok := changeEvent(payload.Data)
		if !ok {
			c.logger.Debug("ignoring change event", "topic", f.Topic, "type", payload.Data.Type)
			return
		}
		c.mu.Lock()
		if ch, ok := c.channels[f.Topic]; ok && ch.changes != nil {
			ch.changes.Push(event)
		}
		c.mu.Unlock()

	case eventBroadcast:
		var payload broadcastPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			c.logger.Warn("discarding malformed broadcast", "topic", f.Topic, "error", err)
			return
		}
		c.mu.Lock()
		if ch, ok := c.channels[f.Topic]; ok {
			message := gateway.BroadcastMessage{Topic: ch.name, Event: payload.Event, Payload: payload.Payload}
			for l := range ch.listeners {
				l.queue.Push(message)
			}
		}
		c.mu.Unlock()

	case eventError:
		c.logger.Warn("realtime channel error", "topic", f.Topic, "payload", string(f.Payload))

	case eventClose, eventSystem:
		c.logger.Debug("realtime channel notice", "topic", f.Topic, "event", f.Event, "payload", string(f.Payload))

	default:
		c.logger.Debug("ignoring realtime event", "topic", f.Topic, "event", f.Event)
	}
}
