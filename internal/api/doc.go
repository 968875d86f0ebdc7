// Package api provides the balancer's HTTP REST API and WebSocket server.
//
// It exposes the device catalogue and power budget to the dashboard,
// proxies plug commands to the device-control service, accepts that
// service's status and balancer-action callbacks, and streams per-user
// status updates over websocket channels named "status/{username}".
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
