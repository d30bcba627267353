package cloudflare

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/cfenv-go/internal/telemetry/metric"
)

// instrumentedTransport throttles and measures every HTTP attempt.
type instrumentedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	metrics *metric.Registry
}

func newTransport(base http.RoundTripper, rps float64, burst int, metrics *metric.Registry) *instrumentedTransport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	t := &instrumentedTransport{base: base, metrics: metrics}
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	t.metrics.ObserveRequest(req.Method, code, time.Since(start))
	return resp, err
}

// CloseIdleConnections forwards to the base transport so http.Client can
// release pooled connections.
func (t *instrumentedTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}
