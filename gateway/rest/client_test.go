// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/secret"
)

// recorded is one request seen by the test server.
type recorded struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *recorded)) (*Client, *[]recorded) {
	t.Helper()
	var requests []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		request := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   body,
		}
		requests = append(requests, request)
		handler(w, &request)
	}))
	t.Cleanup(server.Close)

	apiKey, err := secret.NewFromBytes([]byte("anon-key"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { apiKey.Close() })

	client, err := New(Config{URL: server.URL + "/", APIKey: apiKey, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, &requests
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func TestSelectEncodesQuery(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *recorded) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "u2", "username": "sam", "is_pinned": true},
		})
	})

	rows, err := client.Select(context.Background(), gateway.Query{
		Table:   gateway.Profiles,
		Filters: []gateway.Filter{gateway.Neq("id", "u1"), gateway.In("status", []string{"online", `a"b`})},
		AnyOf:   []gateway.Filter{gateway.ILike("username", "sam"), gateway.ILike("full_name", "sam, jr")},
		OrderBy: "username",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 || rows[0]["username"] != "sam" || rows[0]["is_pinned"] != true {
		t.Errorf("rows = %v", rows)
	}

	request := (*requests)[0]
	if request.method != http.MethodGet || request.path != "/rest/v1/profiles" {
		t.Errorf("request = %s %s", request.method, request.path)
	}
	want := map[string]string{
		"select": "*",
		"id":     "neq.u1",
		"status": `in.("online","a\"b")`,
		"or":     `(username.ilike.*sam*,full_name.ilike."*sam, jr*")`,
		"order":  "username.asc,id.asc",
		"limit":  "10",
	}
	for key, value := range want {
		if got := request.query.Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}
	if got := request.header.Get("apikey"); got != "anon-key" {
		t.Errorf("apikey = %q", got)
	}
	if got := request.header.Get("Authorization"); got != "Bearer anon-key" {
		t.Errorf("Authorization = %q", got)
	}
	if got := request.header.Get("Prefer"); got != "" {
		t.Errorf("GET carried Prefer %q", got)
	}
}

func TestEncodeQueryEscapesAndOrders(t *testing.T) {
	tests := []struct {
		name  string
		query gateway.Query
		want  map[string]string
	}{
		{
			name:  "like wildcards are literal",
			query: gateway.Query{Table: gateway.Profiles, Filters: []gateway.Filter{gateway.ILike("username", `a_b%c\d*`)}},
			want:  map[string]string{"username": `ilike.*a\_b\%c\\d*`},
		},
		{
			name:  "nested pattern is quoted",
			query: gateway.Query{Table: gateway.Profiles, AnyOf: []gateway.Filter{gateway.ILike("username", "50%, off")}},
			want:  map[string]string{"or": `(username.ilike."*50\\%, off*")`},
		},
		{
			name:  "id breaks ties",
			query: gateway.Query{Table: gateway.Messages, OrderBy: "created_at"},
			want:  map[string]string{"order": "created_at.asc,id.asc"},
		},
		{
			name:  "descending keeps ascending tie-break",
			query: gateway.Query{Table: gateway.Messages, OrderBy: "created_at", Descending: true},
			want:  map[string]string{"order": "created_at.desc,id.asc"},
		},
		{
			name:  "ordering by id needs no tie-break",
			query: gateway.Query{Table: gateway.Messages, OrderBy: "id"},
			want:  map[string]string{"order": "id.asc"},
		},
		{
			name:  "participants have no id column",
			query: gateway.Query{Table: gateway.ConversationParticipants, OrderBy: "joined_at"},
			want:  map[string]string{"order": "joined_at.asc"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			values, err := encodeQuery(test.query)
			if err != nil {
				t.Fatalf("encodeQuery: %v", err)
			}
			for key, want := range test.want {
				if got := values.Get(key); got != want {
					t.Errorf("%s = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestRepeatedColumnFilters(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *recorded) {
		writeJSON(w, http.StatusOK, []any{})
	})
	_, err := client.Update(context.Background(), gateway.Messages,
		gateway.Row{"status": "delivered"},
		gateway.In("id", []string{"m1", "m2"}),
		gateway.Eq("status", "sent"),
		gateway.Neq("status", "seen"),
	)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	request := (*requests)[0]
	if got := request.query["status"]; len(got) != 2 || got[0] != "eq.sent" || got[1] != "neq.seen" {
		t.Errorf("status filters = %v", got)
	}
	if request.method != http.MethodPatch {
		t.Errorf("method = %s", request.method)
	}
	if got := request.header.Get("Prefer"); got != "return=representation" {
		t.Errorf("Prefer = %q", got)
	}
	var patch map[string]any
	if err := json.Unmarshal(request.body, &patch); err != nil || patch["status"] != "delivered" {
		t.Errorf("body = %s", request.body)
	}
}

func TestInsertSendsArray(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *recorded) {
		var rows []map[string]any
		json.Unmarshal(r.body, &rows)
		for _, row := range rows {
			row["id"] = "generated"
		}
		writeJSON(w, http.StatusCreated, rows)
	})

	rows, err := client.Insert(context.Background(), gateway.ConversationParticipants,
		gateway.Row{"conversation_id": "c1", "user_id": "a"},
		gateway.Row{"conversation_id": "c1", "user_id": "b"},
	)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(rows) != 2 || rows[1]["id"] != "generated" {
		t.Errorf("rows = %v", rows)
	}
	if request := (*requests)[0]; request.method != http.MethodPost || request.path != "/rest/v1/conversation_participants" {
		t.Errorf("request = %s %s", request.method, request.path)
	}

	if rows, err := client.Insert(context.Background(), gateway.Messages); err != nil || len(rows) != 0 || len(*requests) != 1 {
		t.Errorf("empty insert made a request or failed: %v %v", rows, err)
	}
}

func TestDeleteAndCall(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *recorded) {
		if r.path == "/rest/v1/rpc/add_reaction" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "m1"}})
	})
	ctx := context.Background()

	removed, err := client.Delete(ctx, gateway.Messages, gateway.Eq("id", "m1"), gateway.Eq("sender_id", "u1"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("removed = %v", removed)
	}

	if err := client.Call(ctx, gateway.FuncAddReaction, gateway.Row{"message_id": "m1", "user_id": "u1", "emoji": "👍"}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	call := (*requests)[1]
	var args map[string]any
	if err := json.Unmarshal(call.body, &args); err != nil || args["emoji"] != "👍" {
		t.Errorf("rpc body = %s", call.body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		code   gateway.Code
	}{
		{"unique", http.StatusConflict, map[string]string{"code": "23505", "message": "duplicate key value violates unique constraint \"conversations_direct_key_key\""}, gateway.CodeUniqueViolation},
		{"missing function", http.StatusNotFound, map[string]string{"code": "PGRST202", "message": "Could not find the function public.add_reaction"}, gateway.CodeNotFound},
		{"missing table", http.StatusNotFound, map[string]string{"code": "42P01", "message": "relation does not exist"}, gateway.CodeNotFound},
		{"bad request", http.StatusBadRequest, map[string]string{"code": "22P02", "message": "invalid input syntax"}, gateway.CodeInvalid},
		{"unauthorized", http.StatusUnauthorized, map[string]string{"message": "JWT expired"}, gateway.CodeInvalid},
		{"server", http.StatusBadGateway, "upstream unavailable", gateway.CodeUnavailable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *recorded) {
				if text, ok := test.body.(string); ok {
					w.WriteHeader(test.status)
					io.WriteString(w, text)
					return
				}
				writeJSON(w, test.status, test.body)
			})
			_, err := client.Select(context.Background(), gateway.Query{Table: gateway.Messages})
			var gatewayError *gateway.Error
			if !errors.As(err, &gatewayError) {
				t.Fatalf("err = %v, want *gateway.Error", err)
			}
			if gatewayError.Code != test.code || gatewayError.StatusCode != test.status {
				t.Errorf("got %s/%d, want %s/%d", gatewayError.Code, gatewayError.StatusCode, test.code, test.status)
			}
			if gatewayError.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	apiKey, _ := secret.NewFromBytes([]byte("key"))
	defer apiKey.Close()
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := New(Config{URL: server.URL, APIKey: apiKey})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Select(context.Background(), gateway.Query{Table: gateway.Profiles}); !gateway.IsCode(err, gateway.CodeUnavailable) {
		t.Errorf("err = %v, want unavailable", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without URL succeeded")
	}
	if _, err := New(Config{URL: "http://localhost"}); err == nil {
		t.Error("New without APIKey succeeded")
	}
}
