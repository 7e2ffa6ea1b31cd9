package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/rehttp"
)

// ClientConfig controls the HTTP trigger client.
type ClientConfig struct {
	// URL is the trigger endpoint, e.g. http://localhost:5001/trigger_self_healing.
	URL string

	// Timeout bounds one request including retries (default 30 s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int

	// RetryBase and RetryMax bound the jittered exponential backoff
	// (defaults 1 s and 10 s).
	RetryBase time.Duration
	RetryMax  time.Duration

	// Transport is the underlying round tripper (default http.DefaultTransport).
	Transport http.RoundTripper
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Second
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	return c
}

// Client posts events to a trigger endpoint. Transient server errors are
// retried with backoff.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewClient returns a Client for cfg.URL.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("trigger: url is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg = cfg.withDefaults()

	tr := rehttp.NewTransport(
		cfg.Transport,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(cfg.MaxRetries),
			rehttp.RetryHTTPMethods(http.MethodPost),
			rehttp.RetryAny(
				rehttp.RetryStatuses(
					http.StatusInternalServerError,
					http.StatusBadGateway,
					http.StatusServiceUnavailable,
					http.StatusGatewayTimeout,
				),
				rehttp.RetryTemporaryErr(),
			),
		),
		rehttp.ExpJitterDelay(cfg.RetryBase, cfg.RetryMax),
	)
	return &Client{
		url:    cfg.URL,
		http:   &http.Client{Transport: tr, Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Response is the decoded body of a trigger endpoint reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Module  string `json:"module,omitempty"`
}

// Send posts one event. A non-2xx reply is returned as an error.
func (c *Client) Send(ctx context.Context, event string) (Response, error) {
	body, err := json.Marshal(map[string]string{"event": event})
	if err != nil {
		return Response{}, fmt.Errorf("trigger: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("trigger: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("trigger: post %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Response{}, fmt.Errorf("trigger: read reply: %w", err)
	}
	var out Response
	// Non-JSON replies still carry a usable status code.
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("trigger: %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	return out, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
