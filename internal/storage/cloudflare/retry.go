package cloudflare

import (
	"context"
	"crypto/x509"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// checkRetry is the retryablehttp.CheckRetry policy.
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		return retryableTransportError(err), nil
	}
	return retryableStatus(resp.StatusCode), nil
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func retryableTransportError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return false
	}
	return !strings.Contains(err.Error(), "unsupported protocol scheme")
}

// backoff is the retryablehttp.Backoff policy. It runs only when a retry
// is actually going to happen.
func (c *Client) backoff(base, max time.Duration, attempt int, resp *http.Response) time.Duration {
	reason := "transport"
	wait, hinted := time.Duration(0), false
	// A response with a non-retryable status means its body failed to read.
	if resp != nil && retryableStatus(resp.StatusCode) {
		reason = "status_" + strconv.Itoa(resp.StatusCode)
		wait, hinted = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	if !hinted {
		wait = jitteredBackoff(base, max, attempt)
	}

	c.cfg.Metrics.IncRetry(reason)
	c.logger.Info("retrying cloudflare request", "reason", reason, "attempt", attempt+1, "wait", wait)
	return wait
}

// parseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. Dates in the past yield no hint.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)).Truncate(time.Millisecond), true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := at.Sub(now)
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

// jitteredBackoff returns min(base*2^attempt + rand[0, base), max).
func jitteredBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		return max
	}
	wait := base<<attempt + time.Duration(rand.Int64N(int64(base)))
	if wait > max || wait < 0 {
		return max
	}
	return wait
}
