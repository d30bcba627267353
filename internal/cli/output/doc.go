// Package output renders command results for the cfenv CLI.
//
//   - formatter.go: Formatter interface and factory (text, json, yaml)
//   - table.go: aligned text tables for text output
//   - spinner.go: progress animation, only on terminals
//   - status.go: colored status lines and human-readable sizes and times
//
// Results go to stdout; spinners and status lines go to stderr so that
// machine-readable output stays clean.
package output
