// Package storage defines the remote key-value store contract used by the
// sync engine and provides the Badger-backed local backend.
//
// Backends:
//
//   - cloudflare: Cloudflare Workers KV over the REST API
//   - BadgerStore: embedded on-disk store for offline use and dry runs
//   - memory: in-process store for tests
//
// Every backend exposes per-key get/put/delete and prefix listing inside a
// namespace. Get reports a missing key as found=false, never as an error.
package storage
