// Package api implements the admin HTTP API and WebSocket event stream.
//
// This package provides:
//   - Read endpoints for devices, datapoints, objects, health and metrics
//   - Operator writes routed through the BACnet write-property path
//   - On-demand object reload
//   - Datapoint value history backed by InfluxDB (when enabled)
//   - A WebSocket hub relaying bridge events (value, downlink, reload)
//   - Optional HS256 bearer token checks on mutating endpoints
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/devices
//	GET  /api/v1/datapoints
//	GET  /api/v1/datapoints/{id}/history?since=&limit=
//	GET  /api/v1/objects
//	GET  /api/v1/objects/{id}
//	POST /api/v1/objects/reload          (token)
//	POST /api/v1/objects/{id}/write      (token)
//	POST /api/v1/auth/ws-ticket          (token)
//	GET  /api/v1/ws[?ticket=]
//
// # Security
//
// When api.auth.jwt_secret is empty the API is open and should only listen on
// loopback. With a secret, POST routes need "Authorization: Bearer <token>"
// (see IssueToken) and the WebSocket needs a single-use ticket.
//
// The server lifecycle matches the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
