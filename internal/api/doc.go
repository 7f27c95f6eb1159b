// Package api implements the HTTP REST API and WebSocket event stream of
// the OpenRGB bridge.
//
// This package provides:
//   - REST endpoints to list lights, read one light and turn it on or off
//   - service calls (force_update, pull_devices)
//   - a WebSocket hub relaying light state, removal, discovery and server
//     availability events from the dispatcher
//   - the audit trail of commands and lifecycle events
//   - middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/lights
//	GET  /api/v1/lights/{key}
//	POST /api/v1/lights/{key}/turn_on   {"brightness":128,"color":{"h":30,"s":80},"effect":"Static"}
//	POST /api/v1/lights/{key}/turn_off
//	POST /api/v1/services/{name}
//	GET  /api/v1/audit?action=&key=&source=&limit=&offset=
//	GET  /api/v1/ws
//
// # Errors
//
// Failures are returned as {"error":{"code":"...","message":"..."}}.
// A write attempted while the OpenRGB server is offline returns 503.
package api
