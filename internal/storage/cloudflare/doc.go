// Package cloudflare implements storage.Backend on the Cloudflare Workers
// KV REST API.
//
// Every request goes through a single go-retryablehttp client configured
// with:
//
//   - a per-attempt timeout (default 15s)
//   - retries on HTTP 408, 429 and 5xx and on transport failures
//   - Retry-After support (seconds or HTTP date), otherwise jittered
//     exponential backoff min(base*2^attempt + rand[0, base), 30s)
//   - a fixed retry budget (default 3 retries beyond the first attempt)
//
// A client-side rate limiter and Prometheus instrumentation sit in the
// transport underneath the retry loop, so every attempt is counted and
// throttled individually.
//
// JSON endpoints are wrapped in the Cloudflare envelope
// {success, errors, result, result_info}. A false success flag or a non-2xx
// status becomes an *APIError carrying the aggregated messages; transport
// failures that survive the retry budget become a *NetworkError.
package cloudflare
