// Package mqtt connects the balancer to an MQTT broker.
//
// The device-control service may deliver live status updates and balancer
// actions over MQTT instead of HTTP callbacks. The balancer in turn publishes
// a retained marker whenever a user's device catalogue changes, so the
// service can re-pull state without polling.
//
// Topic layout, with the default root "balancer":
//
//	balancer/status/{username}     device status updates (inbound)
//	balancer/actions               balancer actions (inbound)
//	balancer/catalogue/{userID}    catalogue change markers (outbound, retained)
//	balancer/system/status         online/offline presence (retained, LWT)
//
// The client reconnects automatically and restores its subscriptions. Message
// handlers run on paho goroutines with panic recovery.
package mqtt
