// Package notify posts finished-game summaries to a chat bridge's /reply
// endpoint.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-session/internal/obslog"
	"github.com/park285/cheese-chess-session/internal/session"
)

// Catalog renders message templates; *msgcat.Catalog implements it.
type Catalog interface {
	Text(key string, data any, fallback string) string
}

// ReplyRequest is the bridge's text message body.
type ReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

type Client struct {
	baseURL string
	room    string
	userID  string
	http    *fasthttp.Client
	catalog Catalog
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithUserID sets the X-User-Id header the bridge uses to attribute replies.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = strings.TrimSpace(id) }
}

func WithCatalog(cat Catalog) Option {
	return func(c *Client) { c.catalog = cat }
}

// WithDial overrides how connections are opened.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL, room string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		room:           room,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		logger:         obslog.Named("notify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NotifyGameFinished sends the summary of rec to the configured room.
func (c *Client) NotifyGameFinished(ctx context.Context, rec session.Record) error {
	req := ReplyRequest{Type: "text", Room: c.room, Data: c.FormatResult(rec)}
	if err := c.postJSON(ctx, "/reply", req); err != nil {
		return err
	}
	c.logger.Info("notify_sent", zap.String("room", c.room), zap.String("game_id", rec.GameID))
	return nil
}

// FormatResult renders the summary line and, when available, the final
// board behind the chat client's see-more fold.
func (c *Client) FormatResult(rec session.Record) string {
	data := map[string]any{
		"Description": rec.Description,
		"Plies":       len(rec.MovesSAN),
		"Method":      rec.Method,
	}
	summary := fmt.Sprintf("Game over: %s\nMoves: %d (%s)", rec.Description, len(rec.MovesSAN), rec.Method)
	hint := "Final position"
	if c.catalog != nil {
		summary = c.catalog.Text("notify.finished", data, summary)
		hint = c.catalog.Text("notify.board_hint", nil, hint)
	}
	if strings.TrimSpace(rec.Board) == "" {
		return summary
	}
	return summary + "\n" + applySeeMorePadding(rec.Board, hint)
}

// postJSON sends in to path, retrying transport errors and retryable
// statuses up to retryMax attempts.
func (c *Client) postJSON(ctx context.Context, path string, in any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.userID != "" {
		req.Header.Set("X-User-Id", c.userID)
	}
	req.SetBody(payload)

	attempts := max(c.retryMax, 1)
	for attempt := 1; ; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		retryable := true
		switch status := resp.StatusCode(); {
		case err != nil:
			err = fmt.Errorf("request failed: %w", err)
		case status >= 200 && status < 300:
			return nil
		default:
			err = fmt.Errorf("notify api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			retryable = shouldRetryStatus(status)
		}
		if !retryable || attempt >= attempts {
			return err
		}
		c.logger.Debug("notify_retry", zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return err
		}
	}
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
