// Package api provides the HTTP command surface and WebSocket server for
// the control point.
//
// Commands are submitted with POST requests against the master controller
// and the subarray control points:
//
//	POST /api/v1/master/commands/{command}
//	POST /api/v1/subarrays/{id}/commands/{command}
//
// The request body is the command's JSON payload (empty for argument-free
// commands). Responses carry the transaction id and the resulting states.
// Attribute reads are plain GETs, and attribute transitions stream over the
// WebSocket endpoint at /api/v1/ws on the "state.changed" channel.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
