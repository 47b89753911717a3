// Package client talks to a running aiwater server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/aiwater/internal/api"
	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/storage"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Status(ctx context.Context) (dynamo.Status, error) {
	var st dynamo.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) SubmitCost(ctx context.Context, cost float64) error {
	return c.do(ctx, http.MethodPost, "/cost-event", map[string]float64{"cost": cost}, nil)
}

func (c *Client) Reset(ctx context.Context) (dynamo.Status, error) {
	var st dynamo.Status
	err := c.do(ctx, http.MethodPost, "/reset-session", nil, &st)
	return st, err
}

func (c *Client) Settings(ctx context.Context) (dynamo.Params, error) {
	var p dynamo.Params
	err := c.do(ctx, http.MethodGet, "/settings", nil, &p)
	return p, err
}

// UpdateSettings sends a partial update keyed by JSON field name, e.g.
// {"voltage": 12}.
func (c *Client) UpdateSettings(ctx context.Context, fields map[string]float64) (dynamo.Params, error) {
	var p dynamo.Params
	err := c.do(ctx, http.MethodPost, "/settings", fields, &p)
	return p, err
}

// ReplaceSettings sends every parameter.
func (c *Client) ReplaceSettings(ctx context.Context, p dynamo.Params) (dynamo.Params, error) {
	var out dynamo.Params
	err := c.do(ctx, http.MethodPost, "/settings", p, &out)
	return out, err
}

func (c *Client) Estimate(ctx context.Context, cost float64) (api.EstimateResponse, error) {
	var est api.EstimateResponse
	q := url.Values{"cost": {strconv.FormatFloat(cost, 'g', -1, 64)}}
	err := c.do(ctx, http.MethodGet, "/estimate?"+q.Encode(), nil, &est)
	return est, err
}

func (c *Client) Sessions(ctx context.Context) ([]storage.SessionMetadata, error) {
	var sessions []storage.SessionMetadata
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &sessions)
	return sessions, err
}

func (c *Client) SessionEvents(ctx context.Context, sessionID string) ([]dynamo.Event, error) {
	var events []dynamo.Event
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/events", nil, &events)
	return events, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
