// Package api implements the local HTTP control API and WebSocket event
// stream for lightlink.
//
// This package provides:
//   - REST endpoints for connection status, connect/disconnect/reconnect and
//     broker reconfiguration
//   - Subscription management and publish passthrough
//   - Read access to the last-value store and connection history
//   - WebSocket hub broadcasting connection status and inbound messages
//   - Middleware stack (request ID, logging, recovery, CORS, JWT auth)
//
// # Architecture
//
// The server sits between local tools and the connection manager. Control
// requests call the manager directly; the hub registers itself as a
// connection listener so every status change and inbound message is fanned
// out to WebSocket clients subscribed to the matching channel.
//
// # Security
//
// Every route except /health requires a bearer JWT minted with
// `lightlink token`. Viewer tokens may read; operator tokens may also change
// the connection, subscriptions and publish. WebSocket connections use
// single-use tickets to keep tokens out of URLs.
//
// # Graceful Degradation
//
// The server runs while the broker is unreachable. Status, subscriptions and
// stored values stay readable; publish returns 503 until the link is back.
package api
