package notify

import (
	"errors"
	"time"
)

// Balancer actions reported by the device-control service.
const (
	ActionDisabled = "DISABLED_BY_BALANCER"
	ActionEnabled  = "ENABLED_BY_BALANCER"
)

// Push message constants.
const (
	messageTitle = "Smart Power Balancer"
	messageURL   = "/dashboard"
)

// StatusChannelPrefix prefixes every per-user websocket channel.
const StatusChannelPrefix = "status/"

// StatusChannel returns the websocket channel carrying username's updates.
func StatusChannel(username string) string {
	return StatusChannelPrefix + username
}

// BalancerAction reports that the balancer switched a device.
type BalancerAction struct {
	DeviceID   int64  `json:"deviceId" validate:"required"`
	DeviceName string `json:"deviceName"`
	Action     string `json:"action" validate:"required"`
}

// Message is the JSON payload shown by the browser service worker.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Subscription is a stored browser push subscription.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"-"`
	Auth      string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubscriptionKeys are the client keys of a PushSubscription.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh" validate:"required,max=512"`
	Auth   string `json:"auth" validate:"required,max=512"`
}

// SubscribeRequest is the browser's PushSubscription.toJSON() output.
type SubscribeRequest struct {
	Endpoint string           `json:"endpoint" validate:"required,url,max=2048"`
	Keys     SubscriptionKeys `json:"keys"`
}

// UnsubscribeRequest names the endpoint to forget.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,max=2048"`
}

// Errors returned by push delivery.
var (
	// ErrSubscriptionGone means the push service no longer knows the endpoint.
	ErrSubscriptionGone = errors.New("push subscription expired")
	ErrPushRejected     = errors.New("push service rejected notification")
)
