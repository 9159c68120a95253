// Package logging provides structured logging for the bridge.
//
// It wraps Go's standard log/slog package so every component logs with the
// same default fields (service, version) and level filtering.
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
//	logger.Component("uplink").Info("message applied", "eui", "AABBCCDD")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
