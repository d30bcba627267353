package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cfenv"

// Poll cycle results.
const (
	PollUnchanged = "unchanged"
	PollChanged   = "changed"
	PollError     = "error"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Remote store metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec

	// Sync metrics
	SyncOperations *prometheus.CounterVec

	// Hot-update metrics
	PollCycles            *prometheus.CounterVec
	PollLastSuccess       prometheus.Gauge
	PollConsecutiveErrors prometheus.Gauge
}

// NewRegistry creates a registry with every cfenv metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Remote store HTTP attempts by method and status code.",
		}, []string{"method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Remote store HTTP attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Remote store retries by reason.",
		}, []string{"reason"}),
		SyncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Sync engine operations by operation, mode and result.",
		}, []string{"operation", "mode", "result"}),
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hotupdate",
			Name:      "cycles_total",
			Help:      "Hot-update poll cycles by result.",
		}, []string{"result"}),
		PollLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hotupdate",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle.",
		}),
		PollConsecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hotupdate",
			Name:      "consecutive_errors",
			Help:      "Current streak of failed poll cycles.",
		}),
	}

	r.reg.MustRegister(
		r.RequestsTotal,
		r.RequestDuration,
		r.RetriesTotal,
		r.SyncOperations,
		r.PollCycles,
		r.PollLastSuccess,
		r.PollConsecutiveErrors,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveRequest records one HTTP attempt. code 0 means no response.
func (r *Registry) ObserveRequest(method string, code int, d time.Duration) {
	if r == nil {
		return
	}
	label := "none"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	r.RequestsTotal.WithLabelValues(method, label).Inc()
	r.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncRetry records a retry decision.
func (r *Registry) IncRetry(reason string) {
	if r == nil {
		return
	}
	r.RetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveSync records the outcome of a sync engine operation.
func (r *Registry) ObserveSync(operation, mode string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.SyncOperations.WithLabelValues(operation, mode, result).Inc()
}

// ObservePoll records a poll cycle outcome and the current error streak.
func (r *Registry) ObservePoll(result string, consecutiveErrors int, at time.Time) {
	if r == nil {
		return
	}
	r.PollCycles.WithLabelValues(result).Inc()
	r.PollConsecutiveErrors.Set(float64(consecutiveErrors))
	if result != PollError {
		r.PollLastSuccess.Set(float64(at.Unix()))
	}
}
