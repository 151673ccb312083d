// Package logging builds the structured slog logger shared by every
// Relaybox component.
//
// Output is JSON by default or text when logging.format is "text", and every
// entry carries service and version fields:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Attributes named like credentials or SMS content (secret, token, message,
// number and similar) are replaced with [REDACTED] before they are written.
// Log command ids and kinds rather than payloads.
package logging
