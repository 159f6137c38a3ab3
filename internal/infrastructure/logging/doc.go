// Package logging provides structured logging for droidpanel.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-mode log file
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("unit started", "registry", "logcat", "key", serial)
//
// Every supervision package accepts a small Logger interface
// (Debug/Info/Warn/Error); *Logger satisfies it.
//
// Never log secrets, tokens or password hashes.
package logging
