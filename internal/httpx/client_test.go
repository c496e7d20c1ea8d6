package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"daoharvest/internal/fault"
)

func fastClient(cfg Config) *Client {
	c := New(cfg, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func testBackoff(attempts int) Backoff {
	return Backoff{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2}
}

func TestClientRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := fastClient(Config{Provider: "test", Backoff: testBackoff(5)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status mismatch: %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientRetries429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := fastClient(Config{Provider: "test", Backoff: testBackoff(3)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestClientExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient(Config{Provider: "test", Backoff: testBackoff(3)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Do(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error after retry budget")
	}
	if fault.KindOf(err) != fault.KindTransient {
		t.Fatalf("kind mismatch: %v", fault.KindOf(err))
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := fastClient(Config{Provider: "test", Backoff: testBackoff(5)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status mismatch: %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestClientQueueFull(t *testing.T) {
	c := fastClient(Config{Provider: "test", MaxInFlight: 1, QueueDepth: 1, Backoff: testBackoff(1)})
	c.waiting.Store(c.slots) // simulate a saturated queue

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:0", nil)
	_, err := c.Do(context.Background(), req)
	if err == nil {
		t.Fatalf("expected queue-full error")
	}
	if fault.KindOf(err) != fault.KindRateLimited {
		t.Fatalf("kind mismatch: %v", fault.KindOf(err))
	}
}

func TestClientMaxElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient(Config{Provider: "test", Backoff: testBackoff(10), MaxElapsed: time.Nanosecond})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Do(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error once elapsed budget is spent")
	}
	if fault.KindOf(err) != fault.KindTransient {
		t.Fatalf("kind mismatch: %v", fault.KindOf(err))
	}
}
