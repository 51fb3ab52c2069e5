package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/olgkv/cyclecount/internal/ports"
)

type scriptedClient struct {
	calls     int
	responses func(call int) (*http.Response, error)
}

func (s *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	return s.responses(s.calls)
}

func response(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
}

func newTestClient(t *testing.T, hc ports.HTTPClient, attempts int) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: "http://backend.test", Attempts: attempts, Backoff: time.Second, BreakerThreshold: 100}, hc, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	original := sleep
	t.Cleanup(func() { sleep = original })
	var slept []time.Duration
	sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestRetry_SingleAttemptNoSleep(t *testing.T) {
	slept := stubSleep(t)
	hc := &scriptedClient{responses: func(int) (*http.Response, error) {
		return response(http.StatusOK, `{"id":"T1"}`), nil
	}}

	if _, err := newTestClient(t, hc, 3).Get(context.Background(), ports.TaskPath("T1")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hc.calls != 1 {
		t.Fatalf("expected single attempt, got %d", hc.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("sleep should not be invoked when first attempt succeeds")
	}
}

func TestRetry_SucceedsAfterRetries(t *testing.T) {
	slept := stubSleep(t)
	hc := &scriptedClient{responses: func(call int) (*http.Response, error) {
		if call < 3 {
			return response(http.StatusBadGateway, "upstream down"), nil
		}
		return response(http.StatusOK, `{"role":"admin"}`), nil
	}}

	if _, err := newTestClient(t, hc, 3).Get(context.Background(), ports.ActorRolePath("u1")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hc.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", hc.calls)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff sequence: %v", *slept)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	slept := stubSleep(t)
	netErr := errors.New("connection refused")
	hc := &scriptedClient{responses: func(int) (*http.Response, error) { return nil, netErr }}

	_, err := newTestClient(t, hc, 4).Get(context.Background(), ports.TaskPath("T1"))
	if !errors.Is(err, netErr) {
		t.Fatalf("expected transport error to propagate, got %v", err)
	}
	if hc.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", hc.calls)
	}
	if len(*slept) != 3 {
		t.Fatalf("expected 3 sleeps, got %d", len(*slept))
	}
}

func TestRetry_NotFoundAndClientErrorsAreNotRetried(t *testing.T) {
	stubSleep(t)
	for _, code := range []int{http.StatusNotFound, http.StatusBadRequest, http.StatusForbidden} {
		hc := &scriptedClient{responses: func(int) (*http.Response, error) { return response(code, "nope"), nil }}
		_, _ = newTestClient(t, hc, 3).Get(context.Background(), ports.TaskPath("T1"))
		if hc.calls != 1 {
			t.Fatalf("status %d: expected 1 attempt, got %d", code, hc.calls)
		}
	}
}

func TestRetry_StopsWhenContextCancelled(t *testing.T) {
	original := sleep
	t.Cleanup(func() { sleep = original })

	ctx, cancel := context.WithCancel(context.Background())
	sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	hc := &scriptedClient{responses: func(int) (*http.Response, error) { return response(http.StatusServiceUnavailable, ""), nil }}

	_, err := newTestClient(t, hc, 5).Get(ctx, ports.TaskPath("T1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if hc.calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", hc.calls)
	}
}
