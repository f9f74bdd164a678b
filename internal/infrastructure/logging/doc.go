// Package logging provides structured logging for Laurel.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same format, level filter and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	m.SetLogger(logger.Component("mesh"))
//
// # Security
//
// Never log the mesh access key, the cloud password or API tokens.
package logging
