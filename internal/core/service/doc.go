// Package service provides the sync services of cfenv.
//
// Services orchestrate domain models on top of a storage.Store and hold no
// state beyond configuration, so one instance can serve many links.
//
// This package contains:
//
//   - Engine: flat and snapshot push/pull protocols with checksum
//     verification and optional snapshot encryption
//   - Poller: a hot-update loop that re-reads flat state and reports
//     changes, backing off exponentially on errors
//   - BestEffort: the one place where failures are logged and dropped
package service
