// Package api implements the HTTP REST API and WebSocket server for
// droidpanel.
//
// This package provides:
//   - REST endpoints to start, stop, query and read the output of logcat
//     captures, test runs and auxiliary services
//   - Persisted run history and unit event queries
//   - A WebSocket hub that pushes output, exit and state events from the
//     in-process event bus
//   - Operator login with JWT access tokens and single-use WebSocket tickets
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit)
//
// # Graceful Degradation
//
// MQTT, InfluxDB and the history database are optional. Without them the
// unit endpoints and the WebSocket stream keep working; history endpoints
// answer 503.
package api
