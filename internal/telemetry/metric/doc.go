// Package metric provides Prometheus metrics for cfenv.
//
// Metrics include:
//
//   - Remote store request counts, latencies and retries
//   - Sync engine operation outcomes per storage mode
//   - Hot-update poll cycle outcomes and error streaks
//
// All recording helpers are safe on a nil *Registry, so components can be
// built without metrics. The watch command exposes the registry at
// /metrics in Prometheus format.
package metric
