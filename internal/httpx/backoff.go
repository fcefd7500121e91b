package httpx

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DelayFor returns how long to wait before retrying a response that carried
// the rate limit reset header value reset (epoch seconds). Without a usable
// value the policy's RetryDelay applies; otherwise the wait lasts until the
// reset instant, but never less than MinRateLimitDelay.
func (p RetryPolicy) DelayFor(reset string, now time.Time) time.Duration {
	reset = strings.TrimSpace(reset)
	if reset == "" {
		return p.RetryDelay
	}
	seconds, err := strconv.ParseFloat(reset, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return p.RetryDelay
	}
	resetAt := time.UnixMilli(int64(seconds * 1000))
	delay := resetAt.Sub(now)
	if delay < p.MinRateLimitDelay {
		delay = p.MinRateLimitDelay
	}
	return delay
}

// Retryable reports whether a response status is considered transient.
func Retryable(status int) bool {
	return status == 429 || status >= 500
}
