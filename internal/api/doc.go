// Package api implements the HTTP REST API and WebSocket server of laurel.
//
// This package provides:
//   - REST endpoints to list meshes and devices, read cached state,
//     switch, dim and colour lights, connect meshes and request status
//   - WebSocket hub streaming confirmed state changes
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	POST /api/v1/auth/ws-ticket
//	GET  /api/v1/meshes
//	POST /api/v1/meshes/{address}/connect
//	POST /api/v1/meshes/{address}/refresh
//	GET  /api/v1/devices[?mesh=address]
//	GET  /api/v1/devices/{id}
//	PUT  /api/v1/devices/{id}/state
//	POST /api/v1/devices/{id}/refresh
//	GET  /api/v1/ws[?ticket=...]
//	GET  /panel/*                      (when api.panel.enabled)
//
// {id} accepts a device key, a MAC in any notation or a device name.
//
// # Commands
//
// Handlers call the device setters directly. The cached state returned
// after a command is optimistic; the WebSocket stream only carries states
// confirmed by a status frame, delivered through Hub.PublishState.
//
// # Security
//
// With security.jwt.secret set every route except health, the panel
// assets and the WebSocket upgrade needs a bearer token minted by `laurel token`. The
// token role decides what the caller may do (see package auth). Without a
// secret the API is open.
package api
