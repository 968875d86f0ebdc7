// Package notify delivers events to users.
//
// Live device status updates go to websocket clients on the channel
// "status/{username}". Balancer actions become Web Push notifications sent
// to every browser subscription of the device owner. Endpoints the push
// service reports as gone are pruned.
package notify
