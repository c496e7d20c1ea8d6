// Package httpx provides the shared rate-limited HTTP client used by both
// provider adapters. It enforces a request rate and concurrency cap per
// upstream and retries transient failures with exponential backoff; it
// holds no business state.
package httpx

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"daoharvest/internal/fault"
)

// Config tunes one provider's client.
type Config struct {
	// Provider names the upstream for errors, logs, and metrics.
	Provider string

	// RequestsPerSecond caps the request rate. <= 0 means unlimited.
	RequestsPerSecond float64

	// MaxInFlight caps concurrent requests. <= 0 defaults to 4.
	MaxInFlight int

	// QueueDepth bounds how many callers may wait behind the in-flight cap
	// before being rejected with a rate-limited error. <= 0 defaults to 64.
	QueueDepth int

	// Backoff is the retry policy for transient failures.
	Backoff Backoff

	// MaxElapsed bounds the total time spent on one logical request,
	// retries included. <= 0 disables the bound.
	MaxElapsed time.Duration
}

// Client issues HTTP requests under a rate cap with bounded retries.
// It implements http.RoundTripper so it can back any *http.Client,
// including go-ethereum's RPC transport.
type Client struct {
	provider   string
	limiter    *Limiter
	sem        chan struct{}
	slots      int32
	waiting    atomic.Int32
	backoff    Backoff
	maxElapsed time.Duration
	base       http.RoundTripper
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client for one upstream provider.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = 64
	}
	backoff := cfg.Backoff
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoff()
	}

	return &Client{
		provider:   cfg.Provider,
		limiter:    NewLimiter(cfg.RequestsPerSecond),
		sem:        make(chan struct{}, maxInFlight),
		slots:      int32(maxInFlight + queueDepth),
		backoff:    backoff,
		maxElapsed: cfg.MaxElapsed,
		base:       http.DefaultTransport,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// HTTPClient returns an *http.Client routed through this transport.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c}
}

// Do executes req under ctx through the rate-limited transport.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.RoundTrip(req.WithContext(ctx))
}

// RoundTrip implements http.RoundTripper. Responses with 429 or 5xx status
// and transport-level errors are retried per the backoff policy; any other
// response, 4xx included, is returned to the caller for semantic handling.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if c.waiting.Add(1) > c.slots {
		c.waiting.Add(-1)
		queueRejectsTotal.WithLabelValues(c.provider).Inc()
		return nil, fault.Newf(fault.KindRateLimited, c.provider, "enqueue", "request queue full")
	}
	defer c.waiting.Add(-1)

	start := c.now()
	var lastErr error
	var lastStatus int

	for attempt := 1; ; attempt++ {
		reqAttempt, err := c.requestForAttempt(req, attempt)
		if err != nil {
			return nil, fault.New(fault.KindPermanent, c.provider, "rebuild_request", err)
		}

		resp, err := c.attempt(ctx, reqAttempt)
		switch {
		case err == nil && !retryableStatus(resp.StatusCode):
			attemptsTotal.WithLabelValues(c.provider, "ok").Inc()
			return resp, nil
		case err == nil:
			lastStatus = resp.StatusCode
			lastErr = nil
			drain(resp)
			attemptsTotal.WithLabelValues(c.provider, "retryable_status").Inc()
		case ctx.Err() != nil:
			attemptsTotal.WithLabelValues(c.provider, "canceled").Inc()
			return nil, ctx.Err()
		default:
			lastErr = err
			lastStatus = 0
			attemptsTotal.WithLabelValues(c.provider, "network_error").Inc()
		}

		delay, ok := c.backoff.Next(attempt)
		if !ok || c.exceedsElapsed(start, delay) {
			if lastErr != nil {
				return nil, fault.New(fault.KindTransient, c.provider, "request", lastErr)
			}
			return nil, fault.Newf(fault.KindTransient, c.provider, "request", "status %d after %d attempts", lastStatus, attempt)
		}

		retriesTotal.WithLabelValues(c.provider).Inc()
		c.logger.Debug("retrying request",
			zap.String("provider", c.provider),
			zap.Int("attempt", attempt),
			zap.Int("status", lastStatus),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	return c.base.RoundTrip(req)
}

// requestForAttempt returns req itself on the first attempt and a clone with
// a rebuilt body on retries. Requests with a non-rewindable body cannot be
// cloned; retrying them would send an empty body.
func (c *Client) requestForAttempt(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 {
		return req, nil
	}
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

func (c *Client) exceedsElapsed(start time.Time, delay time.Duration) bool {
	if c.maxElapsed <= 0 {
		return false
	}
	return c.now().Sub(start)+delay > c.maxElapsed
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
