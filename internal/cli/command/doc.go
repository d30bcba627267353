// Package command provides the cfenv CLI commands.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: App, global flags, runtime setup
//   - runtime.go: per-invocation state shared by commands
//   - auth.go: keygen, login, profiles
//   - link.go: setup, link, targets, use
//   - sync.go: push, pull, export, history
//   - watch.go: the hot-update daemon
//   - version.go: build information
//
// Commands follow a consistent pattern of resolving the target link,
// calling the sync engine, and formatting output.
package command
