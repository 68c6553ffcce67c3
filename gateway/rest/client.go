// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bureau-foundation/chatsync/gateway"
	"github.com/bureau-foundation/chatsync/lib/netutil"
	"github.com/bureau-foundation/chatsync/lib/secret"
)

// Config holds configuration for creating a Client.
type Config struct {
	// URL is the project base URL (e.g. "https://abc.supabase.co").
	URL string

	// APIKey is sent in the apikey header. Required.
	APIKey *secret.Buffer

	// AccessToken, when set, is sent as the bearer token instead of
	// the API key.
	AccessToken *secret.Buffer

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a gateway.Store speaking PostgREST.
type Client struct {
	baseURL     string
	apiKey      *secret.Buffer
	accessToken *secret.Buffer
	httpClient  *http.Client
	logger      *slog.Logger
}

var _ gateway.Store = (*Client)(nil)

// New creates a Client. It performs no I/O.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rest: URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("rest: invalid URL %q: %w", cfg.URL, err)
	}
	if cfg.APIKey == nil {
		return nil, errors.New("rest: APIKey is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	accessToken := cfg.AccessToken
	if accessToken == nil {
		accessToken = cfg.APIKey
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		apiKey:      cfg.APIKey,
		accessToken: accessToken,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}, nil
}

// Select implements gateway.Store.
func (c *Client) Select(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	query, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}
	return c.rows(ctx, http.MethodGet, "/"+string(q.Table), query, nil)
}

// Insert implements gateway.Store. The rows are sent as one JSON
// array, which PostgREST inserts in a single statement.
func (c *Client) Insert(ctx context.Context, table gateway.Table, rows ...gateway.Row) ([]gateway.Row, error) {
	if len(rows) == 0 {
		return []gateway.Row{}, nil
	}
	return c.rows(ctx, http.MethodPost, "/"+string(table), nil, rows)
}

// Update implements gateway.Store.
func (c *Client) Update(ctx context.Context, table gateway.Table, patch gateway.Row, filters ...gateway.Filter) ([]gateway.Row, error) {
	query, err := encodeFilters(filters)
	if err != nil {
		return nil, err
	}
	return c.rows(ctx, http.MethodPatch, "/"+string(table), query, patch)
}

// Delete implements gateway.Store.
func (c *Client) Delete(ctx context.Context, table gateway.Table, filters ...gateway.Filter) ([]gateway.Row, error) {
	query, err := encodeFilters(filters)
	if err != nil {
		return nil, err
	}
	return c.rows(ctx, http.MethodDelete, "/"+string(table), query, nil)
}

// Call implements gateway.Store by posting args to /rpc/<fn>.
func (c *Client) Call(ctx context.Context, fn string, args gateway.Row) error {
	if args == nil {
		args = gateway.Row{}
	}
	_, err := c.do(ctx, http.MethodPost, "/rpc/"+url.PathEscape(fn), nil, args)
	return err
}

func (c *Client) rows(ctx context.Context, method, path string, query url.Values, body any) ([]gateway.Row, error) {
	data, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	rows := []gateway.Row{}
	if len(bytes.TrimSpace(data)) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &gateway.Error{
			Code:    gateway.CodeUnavailable,
			Message: fmt.Sprintf("decoding %s %s response: %v", method, path, err),
			Err:     err,
		}
	}
	return rows, nil
}

// do performs one request and returns the response body. Non-2xx
// responses become *gateway.Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, gateway.Errorf(gateway.CodeInvalid, "encoding request body: %v", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("rest: creating request: %w", err)
	}
	request.Header.Set("apikey", c.apiKey.String())
	request.Header.Set("Authorization", "Bearer "+c.accessToken.String())
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		request.Header.Set("Prefer", "return=representation")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("gateway request failed", "method", method, "path", path, "error", err)
		return nil, gateway.Unavailable(fmt.Errorf("rest: %s %s: %w", method, path, err))
	}
	defer response.Body.Close()

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Errorf("rest: reading %s %s response: %w", method, path, err))
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeError(response.StatusCode, data)
}

// postgrestError is the PostgREST error body.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func decodeError(status int, body []byte) *gateway.Error {
	var decoded postgrestError
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Message == "" {
		decoded.Message = strings.TrimSpace(string(body))
		if decoded.Message == "" {
			decoded.Message = http.StatusText(status)
		}
	}
	details := decoded.Details
	if decoded.Hint != "" {
		details = strings.TrimSpace(details + " (hint: " + decoded.Hint + ")")
	}
	return &gateway.Error{
		Code:       classify(status, decoded.Code),
		Message:    decoded.Message,
		Details:    details,
		StatusCode: status,
	}
}

// classify maps an HTTP status and PostgREST/SQLSTATE code to a
// gateway code.
func classify(status int, code string) gateway.Code {
	switch code {
	case "23505":
		return gateway.CodeUniqueViolation
	case "42P01", "42883", "PGRST202", "PGRST205":
		return gateway.CodeNotFound
	}
	switch {
	case status == http.StatusNotFound:
		return gateway.CodeNotFound
	case status == http.StatusConflict:
		return gateway.CodeUniqueViolation
	case status >= 500, status == http.StatusTooManyRequests:
		return gateway.CodeUnavailable
	default:
		return gateway.CodeInvalid
	}
}

// encodeQuery renders a select as PostgREST query parameters.
func encodeQuery(q gateway.Query) (url.Values, error) {
	values, err := encodeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	values.Set("select", "*")
	if len(q.AnyOf) > 0 {
		alternatives := make([]string, 0, len(q.AnyOf))
		for _, filter := range q.AnyOf {
			operand, err := encodeOperand(filter, true)
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, filter.Column+"."+operand)
		}
		values.Set("or", "("+strings.Join(alternatives, ",")+")")
	}
	if q.OrderBy != "" {
		direction := ".asc"
		if q.Descending {
			direction = ".desc"
		}
		order := q.OrderBy + direction
		// Rows with equal sort keys come back in id order.
		if q.OrderBy != "id" && q.Table != gateway.ConversationParticipants {
			order += ",id.asc"
		}
		values.Set("order", order)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values, nil
}

func encodeFilters(filters []gateway.Filter) (url.Values, error) {
	values := url.Values{}
	for _, filter := range filters {
		if filter.Column == "" {
			return nil, gateway.Errorf(gateway.CodeInvalid, "filter without a column")
		}
		operand, err := encodeOperand(filter, false)
		if err != nil {
			return nil, err
		}
		values.Add(filter.Column, operand)
	}
	return values, nil
}

// encodeOperand renders "op.value". Inside a logic tree (or=(...))
// values containing reserved characters are double-quoted.
func encodeOperand(filter gateway.Filter, nested bool) (string, error) {
	switch filter.Op {
	case gateway.OpEq, gateway.OpNeq:
		return string(filter.Op) + "." + quoteIf(nested, gateway.Text(filter.Value)), nil
	case gateway.OpILike:
		pattern := "*" + likeEscaper.Replace(gateway.Text(filter.Value)) + "*"
		return "ilike." + quoteIf(nested, pattern), nil
	case gateway.OpIn:
		list, ok := filter.Value.([]string)
		if !ok {
			return "", gateway.Errorf(gateway.CodeInvalid, "in filter on %s needs a []string, got %T", filter.Column, filter.Value)
		}
		quoted := make([]string, len(list))
		for i, value := range list {
			quoted[i] = quote(value)
		}
		return "in.(" + strings.Join(quoted, ",") + ")", nil
	default:
		return "", gateway.Errorf(gateway.CodeInvalid, "unsupported operator %q", filter.Op)
	}
}

// likeEscaper makes LIKE wildcards in a search term literal. "*" is
// PostgREST's spelling of "%" and is dropped.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, "*", "")

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(value string) string {
	return `"` + quoteEscaper.Replace(value) + `"`
}

func quoteIf(nested bool, value string) string {
	if nested && strings.ContainsAny(value, `,.:()"\ `) {
		return quote(value)
	}
	return value
}
