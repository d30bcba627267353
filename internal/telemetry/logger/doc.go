// Package logger provides structured logging for cfenv.
//
// It wraps the standard library log/slog:
//
//   - logger.go: logger construction, levels and the global default
//   - context.go: context-aware logging with operation IDs
//   - redact.go: sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Per-logger level filtering
//   - Automatic masking of tokens, secrets and authorization headers
//   - Operation IDs (ULIDs) propagated through context
//
// Logger satisfies the LeveledLogger interface of go-retryablehttp, so
// HTTP retry decisions are written through the same handler.
package logger
