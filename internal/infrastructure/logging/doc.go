// Package logging provides structured logging for garge nodes.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the agent and supervisor.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development, rendered by lmittmann/tint
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  color: false       # ANSI colours for text format
//
// # Security
//
// Never log WiFi passphrases or broker passwords. Log the username and
// whether a password is set, not the password itself.
package logging
