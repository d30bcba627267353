// Package memory provides an in-process storage.Backend.
//
// It keeps namespaces in maps guarded by a single RWMutex and records
// every mutating call, which tests use to assert write ordering. Failures
// can be injected per operation and key.
package memory
