// Package logging provides structured logging for mqttprobe.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - Text output by default, JSON for log shipping
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - component=<name> tagging via Logger.Component
//   - Values of password, token, secret and key_pem attributes are redacted
//
// Diagnostics go to stderr unless configured otherwise. The numbered
// progress lines printed by the pub and sub commands are not log entries;
// they are written to stdout by the probe package.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected", "broker", cfg.BrokerAddress())
//	logger.Component("influxdb").Error("write failed", "error", err)
package logging
