// Package domain defines the core domain models for cfenv.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Env: a named set of string variables and its validation rules
//   - Link: the project/environment/namespace scope of every sync operation
//   - StorageMode: the closed flat/snapshot union selected per link
//   - FlatMetadata, Snapshot, CurrentPointer: records stored remotely
//   - Errors: Domain-specific error definitions
package domain
