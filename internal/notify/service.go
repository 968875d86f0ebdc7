package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
	"github.com/nerrad567/balancer-core/internal/validation"
)

// defaultConcurrency bounds parallel push sends when none is configured.
const defaultConcurrency = 4

// Broadcaster delivers a payload to every live client on a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Sender delivers one push message. *WebPushSender implements it.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// DeviceResolver finds a device and the username of its owner.
type DeviceResolver interface {
	DeviceOwner(ctx context.Context, id int64) (*device.Device, string, error)
}

// Recorder stores notification events as telemetry. *influxdb.Client implements it.
type Recorder interface {
	WriteBalancerAction(username string, deviceID int64, deviceName, action string)
	WriteDeviceStatus(username, deviceID string, fields map[string]any)
}

// Deps are the Service's collaborators. Sender, Recorder and Metrics are
// optional: without a Sender push delivery is skipped.
type Deps struct {
	Broadcaster   Broadcaster
	Sender        Sender
	Subscriptions SubscriptionRepository
	Devices       DeviceResolver
	Recorder      Recorder
	Metrics       *Metrics
	Logger        *logging.Logger
	PublicKey     string
	Concurrency   int
}

// Service fans events out to live clients and push subscriptions.
type Service struct {
	broadcaster Broadcaster
	sender      Sender
	subs        SubscriptionRepository
	devices     DeviceResolver
	recorder    Recorder
	metrics     *Metrics
	logger      *logging.Logger
	publicKey   string
	concurrency int
}

// NewService creates a notification service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		broadcaster: deps.Broadcaster,
		sender:      deps.Sender,
		subs:        deps.Subscriptions,
		devices:     deps.Devices,
		recorder:    deps.Recorder,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "notify"),
		publicKey:   deps.PublicKey,
		concurrency: concurrency,
	}
}

// PublicKey returns the VAPID public key browsers subscribe with.
func (s *Service) PublicKey() string {
	return s.publicKey
}

// BroadcastDeviceUpdate forwards payload unmodified to username's live
// clients. An empty username is ignored.
func (s *Service) BroadcastDeviceUpdate(username string, payload json.RawMessage) {
	if username == "" {
		return
	}
	s.broadcaster.Broadcast(StatusChannel(username), payload)
	s.metrics.recordBroadcast()

	if s.recorder != nil {
		if deviceID, fields := statusFields(payload); len(fields) > 0 {
			s.recorder.WriteDeviceStatus(username, deviceID, fields)
		}
	}
}

// NotifyBalancerAction pushes a message about a to every browser of the
// device owner. Failures are logged, never returned.
func (s *Service) NotifyBalancerAction(ctx context.Context, a BalancerAction) {
	d, username, err := s.devices.DeviceOwner(ctx, a.DeviceID)
	if err != nil {
		s.logger.Warn("cannot send push notification, device or owner not found",
			"device_id", a.DeviceID, "error", err)
		return
	}

	var body string
	switch a.Action {
	case ActionDisabled:
		body = fmt.Sprintf("Overload detected! Balancer turned off '%s'.", a.DeviceName)
	case ActionEnabled:
		body = fmt.Sprintf("Power restored. Balancer turned on '%s'.", a.DeviceName)
	default:
		s.logger.Warn("unknown balancer action", "action", a.Action, "device_id", a.DeviceID)
		return
	}

	if s.recorder != nil {
		s.recorder.WriteBalancerAction(username, a.DeviceID, a.DeviceName, a.Action)
	}

	payload, err := json.Marshal(Message{Title: messageTitle, Body: body, URL: messageURL})
	if err != nil {
		s.logger.Error("encoding push payload", "error", err)
		return
	}
	s.sendToUser(ctx, d.UserID, username, payload)
}

// sendToUser delivers payload to each subscription of userID in parallel.
// One failed endpoint never affects the others.
func (s *Service) sendToUser(ctx context.Context, userID, username string, payload []byte) {
	if s.sender == nil {
		s.logger.Warn("web push not configured, dropping notification", "username", username)
		return
	}

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("loading push subscriptions", "username", username, "error", err)
		return
	}
	if len(subs) == 0 {
		s.logger.Debug("user has no push subscriptions", "username", username)
		return
	}

	s.logger.Info("sending push notification", "username", username, "subscriptions", len(subs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			s.deliver(ctx, sub, payload)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // deliver never returns an error
}

func (s *Service) deliver(ctx context.Context, sub Subscription, payload []byte) {
	err := s.sender.Send(ctx, sub, payload)
	switch {
	case err == nil:
		s.metrics.recordPush(resultSent)
	case errors.Is(err, ErrSubscriptionGone):
		s.metrics.recordPush(resultPruned)
		s.logger.Info("pruning expired push subscription", "endpoint", sub.Endpoint)
		if err := s.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
			s.logger.Error("pruning push subscription", "endpoint", sub.Endpoint, "error", err)
		}
	default:
		s.metrics.recordPush(resultFailed)
		s.logger.Error("push notification failed", "endpoint", sub.Endpoint, "error", err)
	}
}

// Subscribe stores req for userID, taking the endpoint over from any
// earlier subscription.
func (s *Service) Subscribe(ctx context.Context, userID string, req *SubscribeRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	s.logger.Info("push subscribe", "user_id", userID)
	return s.subs.Replace(ctx, &Subscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
}

// Unsubscribe forgets endpoint. Unknown endpoints are not an error.
func (s *Service) Unsubscribe(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return validation.Struct(&UnsubscribeRequest{})
	}
	s.logger.Info("push unsubscribe", "endpoint", endpoint)
	return s.subs.DeleteByEndpoint(ctx, endpoint)
}

// statusFields extracts the numeric and boolean top-level fields of a
// status payload, plus the device it describes when present.
func statusFields(payload json.RawMessage) (string, map[string]any) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", nil
	}

	var deviceID string
	switch v := doc["deviceId"].(type) {
	case float64:
		deviceID = strconv.FormatInt(int64(v), 10)
	case string:
		deviceID = v
	}

	fields := make(map[string]any)
	for k, v := range doc {
		if k == "deviceId" {
			continue
		}
		switch v.(type) {
		case float64, bool:
			fields[k] = v
		}
	}
	return deviceID, fields
}
