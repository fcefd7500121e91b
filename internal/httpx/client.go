package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Doer is the transport function used to perform a single HTTP exchange.
// *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy controls the retry behaviour for transient failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries allowed after the first exchange.
	MaxRetries int
	// RetryDelay is the wait after a transport failure, or after a transient
	// status without a rate limit reset header.
	RetryDelay time.Duration
	// MinRateLimitDelay is the lower bound applied to rate limit waits.
	MinRateLimitDelay time.Duration
	// RateLimitHeader names the header carrying the reset instant in epoch seconds.
	RateLimitHeader string
}

// DefaultRetryPolicy mirrors the service's documented client behaviour.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:        5,
	RetryDelay:        5 * time.Second,
	MinRateLimitDelay: time.Second,
	RateLimitHeader:   "X-RateLimit-Reset",
}

// Option configures a Client.
type Option func(*Client)

// WithDoer overrides the transport used for every exchange.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithRetryPolicy overrides the default retry configuration.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used to evaluate rate limit reset headers.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client executes requests with bounded, rate-limit aware retries. It holds
// no per-request state and is safe for concurrent use.
type Client struct {
	doer        Doer
	retryPolicy RetryPolicy
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// Request describes a single outbound request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
	// Stream marks Body as a one-shot stream. It is sent as is and never
	// buffered, so the request cannot be replayed once the exchange started.
	Stream bool
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		doer:        &http.Client{},
		retryPolicy: DefaultRetryPolicy,
		logger:      slog.Default(),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retryPolicy.MaxRetries < 0 {
		c.retryPolicy.MaxRetries = 0
	}
	if c.retryPolicy.RetryDelay < 0 {
		c.retryPolicy.RetryDelay = 0
	}
	if c.retryPolicy.RateLimitHeader == "" {
		c.retryPolicy.RateLimitHeader = DefaultRetryPolicy.RateLimitHeader
	}
	return c
}

// RetryPolicy returns the effective retry configuration.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retryPolicy
}

// Do executes the request. Responses are returned whatever their status; a
// 429 or 5xx response is retried while the budget lasts and then returned to
// the caller as is. Failed exchanges are retried the same way and surface as
// an *AttemptsError once the budget is exhausted.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	var payload []byte
	replayable := true
	if req.Body != nil {
		if req.Stream {
			replayable = false
		} else {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, fmt.Errorf("httpx: read request body: %w", err)
			}
			payload = data
		}
	}

	attemptsLeft := c.retryPolicy.MaxRetries
	var lastErr error
	for attempt := 1; ; attempt++ {
		httpReq, err := c.newHTTPRequest(ctx, req, payload)
		if err != nil {
			return nil, err
		}

		var delay time.Duration
		resp, err := c.doer.Do(httpReq)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			if attemptsLeft == 0 || !replayable {
				return nil, &AttemptsError{Attempts: attempt, Err: lastErr}
			}
			delay = c.retryPolicy.RetryDelay
			c.logger.DebugContext(ctx, "blob request failed, retrying",
				"method", req.Method, "attempt", attempt, "delay", delay, "error", err)
		case Retryable(resp.StatusCode) && attemptsLeft > 0 && replayable:
			delay = c.retryPolicy.DelayFor(resp.Header.Get(c.retryPolicy.RateLimitHeader), c.now())
			drainAndClose(resp.Body)
			c.logger.DebugContext(ctx, "blob request got transient status, retrying",
				"method", req.Method, "status", resp.StatusCode, "attempt", attempt, "delay", delay)
		default:
			return resp, nil
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		attemptsLeft--
	}
}

func (c *Client) newHTTPRequest(ctx context.Context, req *Request, payload []byte) (*http.Request, error) {
	var body io.Reader
	switch {
	case payload != nil:
		body = bytes.NewReader(payload)
	case req.Body != nil && req.Stream:
		body = req.Body
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("httpx: build request: %w", err)
	}
	httpReq.Header = cloneHeader(req.Header)
	return httpReq, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainAndClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// CloseBody discards and closes a response body the caller will not read.
func CloseBody(resp *http.Response) {
	if resp != nil {
		drainAndClose(resp.Body)
	}
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}
