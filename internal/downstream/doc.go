// Package downstream integrates with the device-control microservice.
//
// Catalogue changes are sent as fire-and-forget notifications through a
// single-worker Queue, so a notification never delays or fails the request
// that caused it. Device commands are proxied synchronously by Client.Command.
package downstream
