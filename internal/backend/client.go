// Package backend is the HTTP client for the chat Backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:3001/api"
	DefaultTimeout = 10 * time.Second
)

// errServer marks a 5xx response as a breaker failure. The response itself
// is still returned so the caller can surface the server's message.
var errServer = errors.New("server error")

// Options configures a Client. Zero fields take defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// BreakerMaxFailures is the consecutive failure count that opens the
	// circuit. Zero disables the breaker.
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	Logger             *zap.Logger
}

// Client talks to the Backend API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("backend")

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		logger:  logger,
	}
	if opts.BreakerMaxFailures > 0 {
		maxFailures := opts.BreakerMaxFailures
		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "backend",
			MaxRequests: 1,
			Timeout:     opts.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return c
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// envelope is the Backend API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// ListParams selects a page of messages. Before, when set, restricts the
// page to messages older than it.
type ListParams struct {
	Page   int
	Limit  int
	Before time.Time
}

// Page is one window of messages in chronological order.
type Page struct {
	Messages []message.Message `json:"messages"`
	HasMore  bool              `json:"hasMore"`
	Total    int               `json:"total"`
}

// SearchParams filters a server-side search. Empty fields are omitted.
type SearchParams struct {
	Query  string
	Sender message.Sender
}

// ListMessages calls GET /messages.
func (c *Client) ListMessages(ctx context.Context, p ListParams) (*Page, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if !p.Before.IsZero() {
		q.Set("before", p.Before.UTC().Format(time.RFC3339Nano))
	}
	var page Page
	if err := c.do(ctx, "list messages", http.MethodGet, "/messages", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateMessage calls POST /messages and returns the server's record.
func (c *Client) CreateMessage(ctx context.Context, content string, typ message.Type) (message.Message, error) {
	body := struct {
		Content string       `json:"content"`
		Type    message.Type `json:"type,omitempty"`
	}{content, typ}
	var m message.Message
	err := c.do(ctx, "create message", http.MethodPost, "/messages", nil, body, &m)
	return m, err
}

// UpdateStatus calls PUT /messages/{id}/status.
func (c *Client) UpdateStatus(ctx context.Context, id int64, st status.Status) (message.Message, error) {
	body := struct {
		Status status.Status `json:"status"`
	}{st}
	var m message.Message
	err := c.do(ctx, "update status", http.MethodPut, messagePath(id, "status"), nil, body, &m)
	return m, err
}

// DeleteMessage calls DELETE /messages/{id}.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	return c.do(ctx, "delete message", http.MethodDelete, messagePath(id, ""), nil, nil, nil)
}

// RecallMessage calls POST /messages/{id}/recall.
func (c *Client) RecallMessage(ctx context.Context, id int64) (message.Message, error) {
	var m message.Message
	err := c.do(ctx, "recall message", http.MethodPost, messagePath(id, "recall"), nil, nil, &m)
	return m, err
}

// SearchMessages calls GET /messages/search.
func (c *Client) SearchMessages(ctx context.Context, p SearchParams) ([]message.Message, error) {
	q := url.Values{}
	if p.Query != "" {
		q.Set("q", p.Query)
	}
	if p.Sender != "" {
		q.Set("sender", string(p.Sender))
	}
	var page Page
	if err := c.do(ctx, "search messages", http.MethodGet, "/messages/search", q, nil, &page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

func messagePath(id int64, action string) string {
	p := "/messages/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.roundTrip(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Op: op, After: c.timeout}
		}
		c.logger.Debug("request failed", zap.String("op", op), zap.Error(err))
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Op: op, After: c.timeout}
		}
		return &NetworkError{Op: op, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return &HTTPError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return &DecodeError{Op: op, Err: decodeErr}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = op + " failed"
		}
		return &HTTPError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &DecodeError{Op: op, Err: errors.New("missing data")}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// roundTrip sends req, through the breaker when one is configured. A 5xx
// response is returned together with errServer.
func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	send := func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServer
		}
		return resp, nil
	}

	if c.cb == nil {
		resp, err := send()
		if resp == nil {
			return nil, err
		}
		return resp.(*http.Response), nil
	}

	res, err := c.cb.Execute(send)
	if res == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Debug("circuit open, failing fast", zap.String("url", req.URL.Path))
		}
		if err == nil {
			err = errors.New("empty response")
		}
		return nil, err
	}
	return res.(*http.Response), nil
}
