// Package config loads Relaybox settings from YAML, a .env file and
// RELAYBOX_* environment variables, in increasing order of precedence.
//
// Secrets (admin secret, JWT key, broker and InfluxDB credentials) belong in
// the environment or a 0600 .env file, not in config.yaml:
//
//	RELAYBOX_ADMIN_SECRET=...   RELAYBOX_JWT_SECRET=...
//
// Load applies defaults first, so a config file only needs the keys it
// changes. Validate reports every problem at once.
package config
