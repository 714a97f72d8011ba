// Package remote delivers anonymized contributions to the research endpoint.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// IdempotencyHeader carries the queue item id so the endpoint can
// deduplicate redelivered payloads.
const IdempotencyHeader = "Idempotency-Key"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// ErrEndpointMissing is returned by New when no endpoint is configured.
var ErrEndpointMissing = errors.New("sync endpoint not configured")

// Config configures the HTTP client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// UserAgent is sent on every request when set.
	UserAgent string
}

// Client posts payloads to a single endpoint over HTTP.
type Client struct {
	log        *logging.Logger
	endpoint   string
	userAgent  string
	httpClient *http.Client
}

// New builds a Client. The endpoint must be an absolute http or https URL.
func New(log *logging.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = logging.NewNop()
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrEndpointMissing
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid sync endpoint %q", endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultRequestTimeout
	}
	return &Client{
		log:        log.With("client", "remote"),
		endpoint:   u.String(),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Deliver posts payload with key as the idempotency key. A 2xx or 409
// response counts as delivered; anything else is a *types.SyncDeliveryError.
func (c *Client) Deliver(ctx context.Context, key string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &types.SyncDeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, key)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.SyncDeliveryError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.log.Debug("delivery response", "item_id", key, "status", resp.StatusCode, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already delivered under this key.
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &types.SyncDeliveryError{Status: resp.StatusCode, Err: errors.New(msg)}
}
