// Package logging provides structured logging for the WebIoT relay.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for development, with service and version attached.
//
// Configuration (config.yaml or WEBIOT_LOG_LEVEL / WEBIOT_LOG_FORMAT):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Never log session tokens, passwords or broker credentials.
package logging
