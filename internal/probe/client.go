// Package probe queries the board server's HTTP endpoints.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/chess-relay/internal/protocol"
	"github.com/valyala/fasthttp"
)

// ErrNotFound is returned when the server has no game for a room.
var ErrNotFound = errors.New("not found")

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
}

// Board is the body of GET /api/board/{room}.
type Board struct {
	Room      string   `json:"room"`
	GameID    string   `json:"game_id"`
	Status    string   `json:"status"`
	White     string   `json:"white,omitempty"`
	Black     string   `json:"black,omitempty"`
	MovesSAN  []string `json:"moves_san"`
	Outcome   string   `json:"outcome,omitempty"`
	Method    string   `json:"method,omitempty"`
	Peers     int      `json:"peers"`
	UpdatedAt string   `json:"updated_at"`
	protocol.Snapshot
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// NewClient targets an http(s) base URL. A ws(s) origin is accepted too and
// mapped to its http counterpart.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	}
	c := &Client{
		baseURL:        base,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Board(ctx context.Context, room string) (*Board, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, errors.New("room is required")
	}
	var b Board
	if err := c.getJSON(ctx, "/api/board/"+url.PathEscape(room), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// getJSON issues an idempotent GET, retrying transport errors and 5xx.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			switch {
			case status == fasthttp.StatusNotFound:
				return fmt.Errorf("%s: %w", path, ErrNotFound)
			case status < 200 || status >= 300:
				lastErr = fmt.Errorf("board server error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
				if !shouldRetryStatus(status) {
					return lastErr
				}
			default:
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				return nil
			}
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
