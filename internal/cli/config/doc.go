// Package config holds the cfenv CLI's local state and tool settings.
//
//   - settings.go: tool settings (config.yaml + CFENV_ env), loaded with koanf
//   - profiles.go: credential profiles (profiles.json, version 1)
//   - links.go: per-project links (.cfenv/config.json, version 2)
//   - paths.go: where those files live
//
// Profile and link files are JSON and stay readable by other cfenv
// implementations. They are written atomically with 0600 permissions.
package config
