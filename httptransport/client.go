package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/offsync"
)

const correlationHeader = "X-Correlation-Id"

// Client pushes changes to a remote server over HTTP.
type Client struct {
	url string
	cfg ClientConfig
}

var _ offsync.Transport = (*Client)(nil)

// NewClient builds a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	var cfg ClientConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{url: baseURL + PushPath, cfg: cfg.withDefaults()}, nil
}

// Push implements offsync.Transport.
func (c *Client) Push(ctx context.Context, req offsync.PushRequest) (offsync.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return offsync.PushResponse{}, offsync.Permanent(fmt.Errorf("offsync http: encode push: %w", err))
	}

	correlationID := uuid.NewString()
	for attempt := 0; ; attempt++ {
		resp, retryAfter, err := c.do(ctx, body, correlationID)
		if err == nil {
			return resp, nil
		}
		if offsync.IsPermanent(err) || attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return offsync.PushResponse{}, err
		}

		delay := c.retryDelay(attempt+1, retryAfter)
		c.cfg.Logger.Debug("retrying push", "attempt", attempt+1, "delay", delay, "correlation_id", correlationID, "err", err)
		if err := wait(ctx, delay); err != nil {
			return offsync.PushResponse{}, err
		}
	}
}

// do performs one attempt. The returned Retry-After header is only set for
// retryable answers.
func (c *Client) do(ctx context.Context, body []byte, correlationID string) (offsync.PushResponse, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return offsync.PushResponse{}, "", offsync.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(correlationHeader, correlationID)
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	httpResp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return offsync.PushResponse{}, "", fmt.Errorf("offsync http: push: %w", err)
	}
	payload, err := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()
	if err != nil {
		return offsync.PushResponse{}, "", fmt.Errorf("offsync http: read response: %w", err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode <= 299 {
		var out offsync.PushResponse
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return offsync.PushResponse{}, "", fmt.Errorf("offsync http: decode response: %w", err)
		}

		return out, "", nil
	}

	var errPayload errorBody
	_ = json.Unmarshal(payload, &errPayload)
	httpErr := &HTTPError{StatusCode: httpResp.StatusCode, Code: errPayload.Code, Message: errPayload.Message}
	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(httpResp.StatusCode)
	}
	if retryable(httpResp.StatusCode) {
		return offsync.PushResponse{}, httpResp.Header.Get("Retry-After"), httpErr
	}

	return offsync.PushResponse{}, "", offsync.Permanent(httpErr)
}

func retryable(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.cfg.MaxDelay)
	}
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}

	return min(delay, c.cfg.MaxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}

	return 0
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
