// Package logging provides structured logging for Gray Logic Zones.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same default fields (service, version) and the same level.
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
//	zoneLog := logger.Component("zone")
//	zoneLog.Info("controller created", "controller", "hallway")
//
// The level is shared by every Component logger and can be changed at run
// time with SetLevel.
//
// Never log secrets, tokens, or passwords.
package logging
