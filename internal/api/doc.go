// Package api implements the HTTP REST API and WebSocket server for the
// Tuya service.
//
// This package provides:
//   - REST endpoints for device CRUD, state reads, writes, refresh and
//     anticipation
//   - State history queries
//   - Prometheus metrics
//   - WebSocket hub: clients watch devices (or "*"), get the current state
//     replayed on watch, then every state the bridge publishes, and may
//     send writes
//   - Optional bearer-token or API-key auth with ticket-based WebSocket auth
//   - Per-client rate limiting
//
// The server never talks to devices itself: every state operation goes
// through the bridge, which owns the sessions.
package api
