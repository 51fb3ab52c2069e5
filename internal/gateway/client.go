// Package gateway implements ports.Gateway over the backend REST API.
//
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff; repeated failures of one resource family open a circuit breaker.
// A 404 is reported as ports.ErrNotFound and never retried.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/olgkv/cyclecount/internal/metrics"
	"github.com/olgkv/cyclecount/internal/ports"
)

// ErrCircuitOpen is returned without contacting the backend while the
// breaker for the resource family is open.
var ErrCircuitOpen = errors.New("gateway: circuit open")

// StatusError is a non-success response other than 404.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	Attempts         int
	Backoff          time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

type Client struct {
	baseURL string
	http    ports.HTTPClient
	cfg     Config
	breaker *circuitBreaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// sleep waits between attempts; tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const maxErrorBody = 512

func New(cfg Config, client ports.HTTPClient, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    client,
		cfg:     cfg,
		breaker: newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:  logger.With("component", "remote_gateway"),
		metrics: m,
	}, nil
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// List accepts either a bare JSON array or a {"items": [...]} envelope.
func (c *Client) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	var items []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("gateway: decode %s: %w", path, err)
		}
		items = envelope.Items
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("gateway: decode %s: %w", path, err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

func (c *Client) Put(ctx context.Context, path string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", path, err)
	}
	_, err = c.do(ctx, http.MethodPut, path, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	key := breakerKey(path)
	if !c.breaker.allow(key) {
		c.metrics.GatewayRequest(method, metrics.OutcomeCircuitOpen)
		return nil, fmt.Errorf("%w: %s %s", ErrCircuitOpen, method, path)
	}

	backoff := c.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		body, err := c.once(ctx, method, path, payload)
		if err == nil {
			c.breaker.success(key)
			c.metrics.GatewayRequest(method, metrics.OutcomeOK)
			return body, nil
		}
		if errors.Is(err, ports.ErrNotFound) {
			c.breaker.success(key)
			c.metrics.GatewayRequest(method, metrics.OutcomeNotFound)
			return nil, err
		}
		if ctx.Err() != nil {
			c.metrics.GatewayRequest(method, metrics.OutcomeCancelled)
			return nil, err
		}

		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.transient() {
			c.metrics.GatewayRequest(method, metrics.OutcomeError)
			return nil, err
		}

		c.breaker.failure(key)
		if attempt == c.cfg.Attempts {
			break
		}
		c.metrics.GatewayRequest(method, metrics.OutcomeRetry)
		c.logger.Warn("gateway request failed, retrying",
			"method", method, "path", path, "attempt", attempt, "backoff", backoff, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			c.metrics.GatewayRequest(method, metrics.OutcomeCancelled)
			return nil, err
		}
		backoff *= 2
	}

	c.metrics.GatewayRequest(method, metrics.OutcomeError)
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ports.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: msg}
	}
	return data, nil
}

func breakerKey(path string) string {
	res, err := ports.ParseResource(path)
	if err != nil {
		return "other"
	}
	return res.Kind.String()
}
