// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/chatsync"
	"github.com/bureau-foundation/chatsync/cmd/chatsync/cli"
	"github.com/bureau-foundation/chatsync/lib/schema/chat"
	"github.com/bureau-foundation/chatsync/lib/tui"
)

const stopTimeout = 5 * time.Second

type watchParams struct {
	Connection
	cli.JSONOutput
	MetricsAddr string `json:"metrics_addr" flag:"metrics-addr" desc:"serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)"`
	Interactive bool   `json:"interactive"  flag:"interactive,i" desc:"send each line read from stdin to the open conversation"`
}

func watchCommand() *cli.Command {
	var params watchParams

	return &cli.Command{
		Name:    "watch",
		Summary: "Follow live changes as a signed-in client",
		Description: `Sign in, mark yourself online, and print every change to the user
directory, the conversation list, and (when a conversation id is
given) that conversation's messages and typing indicator. Interrupt
to sign out, which marks you offline again.

With --json, each change is one JSON object per line. With
--interactive, every line read from stdin is sent to the open
conversation, preceded by a typing signal.`,
		Usage: "chatsync watch [conversation-id] [flags]",
		Examples: []cli.Example{
			{
				Description: "Follow everything for a user",
				Command:     "chatsync watch -u 2b1c…",
			},
			{
				Description: "Chat in a conversation from the terminal",
				Command:     "chatsync watch 7f0e… --interactive",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("watch", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, 0, 1, "chatsync watch [conversation-id]"); err != nil {
				return err
			}
			conversationID := ""
			if len(args) == 1 {
				conversationID = args[0]
			}
			if params.Interactive && conversationID == "" {
				return errors.New("--interactive requires a conversation id")
			}
			return withEnvironment(ctx, &params.Connection, logger, func(env *environment) error {
				return runWatch(ctx, env, &params, conversationID, os.Stdin)
			})
		},
	}
}

func runWatch(ctx context.Context, env *environment, params *watchParams, conversationID string, input io.Reader) error {
	userID, err := env.requireUser()
	if err != nil {
		return err
	}
	logger := env.logger

	if params.MetricsAddr != "" {
		shutdown, err := serveMetrics(env, params.MetricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	session, err := env.session(func(err error) {
		logger.Warn("sync error", "error", err)
	})
	if err != nil {
		return err
	}

	// Listeners may fire from any goroutine; rendering happens on
	// this one. Changes are hints to re-read, so a full buffer can
	// drop them as long as one of each kind is still pending.
	changes := make(chan chatsync.Change, 64)
	remove := session.OnChange(func(change chatsync.Change) {
		select {
		case changes <- change:
		default:
		}
	})
	defer remove()

	if err := session.Start(ctx, userID); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := session.Stop(stopCtx); err != nil {
			logger.Warn("signing out failed", "error", err)
		}
	}()

	if conversationID != "" {
		if err := session.Open(ctx, conversationID); err != nil {
			logger.Warn("opening conversation failed", "conversation_id", conversationID, "error", err)
		}
	}

	lines := make(chan string)
	if params.Interactive {
		go readLines(ctx, input, lines)
	}

	view := newWatchView(cli.Stdout, params.OutputJSON, session)
	view.render(chatsync.Change{Kind: chatsync.ChangeConversations})
	view.render(chatsync.Change{Kind: chatsync.ChangeMessages, ConversationID: conversationID})

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-changes:
			view.render(change)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			sendLine(ctx, session, line, logger)
		}
	}
}

func sendLine(ctx context.Context, session *chatsync.Session, line string, logger *slog.Logger) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if err := ignoreSkipped(session.SetTyping(ctx, true)); err != nil {
		logger.Debug("typing signal failed", "error", err)
	}
	if _, err := session.Actions().SendMessage(ctx, line, chat.ContentText, ""); err != nil {
		logger.Warn("sending message failed", "error", err)
	}
	if err := ignoreSkipped(session.SetTyping(ctx, false)); err != nil {
		logger.Debug("typing signal failed", "error", err)
	}
}

func readLines(ctx context.Context, input io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// serveMetrics exposes the session's registry on addr until the
// returned function is called.
func serveMetrics(env *environment, addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error("metrics server failed", "error", err)
		}
	}()
	env.logger.Info("serving metrics", "addr", listener.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

// watchEvent is one line of --json output.
type watchEvent struct {
	Kind           chatsync.ChangeKind       `json:"kind"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Users          []chat.User               `json:"users,omitempty"`
	Conversations  []chat.Conversation       `json:"conversations,omitempty"`
	Messages       []chat.Message            `json:"messages,omitempty"`
	Typing         *chatsync.TypingIndicator `json:"typing,omitempty"`
}

// watchView prints each change. Messages are printed once each, in
// arrival order; edits and status changes are printed again.
type watchView struct {
	out     io.Writer
	json    bool
	session *chatsync.Session
	theme   tui.Theme

	printed     map[string]chat.Message
	typingShown string
}

func newWatchView(out io.Writer, asJSON bool, session *chatsync.Session) *watchView {
	return &watchView{
		out:     out,
		json:    asJSON,
		session: session,
		theme:   tui.DefaultTheme,
		printed: make(map[string]chat.Message),
	}
}

func (v *watchView) render(change chatsync.Change) {
	snapshot := v.session.Snapshot()
	switch change.Kind {
	case chatsync.ChangeUsers:
		if v.json {
			v.emit(watchEvent{Kind: change.Kind, Users: snapshot.Users})
			return
		}
		online := 0
		for _, user := range snapshot.Users {
			if user.Status == chat.StatusOnline {
				online++
			}
		}
		fmt.Fprintln(v.out, v.theme.Faint(fmt.Sprintf("users: %d, online: %d", len(snapshot.Users), online)))

	case chatsync.ChangeConversations:
		if v.json {
			v.emit(watchEvent{Kind: change.Kind, Conversations: snapshot.Conversations})
			return
		}
		renderConversations(v.out, v.theme, snapshot.Conversations, snapshot.UserID)

	case chatsync.ChangeMessages:
		if snapshot.ActiveConversationID == "" {
			return
		}
		fresh := v.unprinted(snapshot.Messages)
		if len(fresh) == 0 {
			return
		}
		if v.json {
			v.emit(watchEvent{Kind: change.Kind, ConversationID: snapshot.ActiveConversationID, Messages: fresh})
			return
		}
		byID := make(map[string]chat.Message, len(snapshot.Messages))
		for _, message := range snapshot.Messages {
			byID[message.ID] = message
		}
		lookup := v.lookup(snapshot.UserID)
		for _, message := range fresh {
			renderMessage(v.out, v.theme, message, snapshot.UserID, lookup, byID)
		}

	case chatsync.ChangeTyping:
		who := ""
		if snapshot.Typing != nil {
			who = snapshot.Typing.UserID
		}
		if who == v.typingShown {
			return
		}
		v.typingShown = who
		if v.json {
			v.emit(watchEvent{Kind: change.Kind, ConversationID: snapshot.ActiveConversationID, Typing: snapshot.Typing})
			return
		}
		if snapshot.Typing != nil {
			fmt.Fprintln(v.out, v.theme.Typing(snapshot.Typing.Username))
		}
	}
}

// unprinted returns the messages that are new or changed since the
// last render.
func (v *watchView) unprinted(messages []chat.Message) []chat.Message {
	var fresh []chat.Message
	for _, message := range messages {
		previous, ok := v.printed[message.ID]
		if ok && previous.Content == message.Content && previous.Status == message.Status &&
			len(previous.Reactions) == len(message.Reactions) {
			continue
		}
		v.printed[message.ID] = message
		fresh = append(fresh, message)
	}
	return fresh
}

func (v *watchView) lookup(userID string) userLookup {
	return func(id string) (chat.User, bool) {
		if id == userID {
			return v.session.Self(), true
		}
		return v.session.Directory().User(id)
	}
}

func (v *watchView) emit(event watchEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(v.out, "%s\n", data)
}
