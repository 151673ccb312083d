// Package api implements the Relaybox HTTP API and the admin WebSocket feed.
//
// This package provides:
//   - Admin endpoints for dispatching commands and listing devices
//   - Device endpoints for registration, polling, telemetry upload and wait flags
//   - The legacy root routes /setcmd and /getcmd used by older clients
//   - A WebSocket hub that streams mailbox events to admin dashboards
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
//	admin ──▶ /api/v1/commands/* ──▶ dispatch ──▶ mailbox ──▶ hub (command.queued)
//	device ─▶ /api/v1/poll ────────▶ poll ──────▶ mailbox ──▶ hub (command.delivered)
//	device ─▶ /api/v1/telemetry/* ─▶ registry ──▶ mailbox ──▶ hub (telemetry.updated)
//
// # Security
//
// Admin routes accept either the X-Admin-Secret header or a bearer token
// minted by POST /api/v1/auth/token. Browsers cannot set headers on a
// WebSocket handshake, so /ws also accepts the token as a query parameter.
// Device routes are unauthenticated.
package api
