// Package relay bridges the MQTT broker and the balancer.
//
// Inbound, it forwards device status updates to live clients and turns
// balancer actions into push notifications, the same as the HTTP callback
// endpoints do. Outbound, it publishes a retained change marker for a user
// whenever their device catalogue changes.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
	"github.com/nerrad567/balancer-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/balancer-core/internal/notify"
	"github.com/nerrad567/balancer-core/internal/validation"
)

// actionTimeout bounds push delivery for one inbound balancer action.
const actionTimeout = 30 * time.Second

// Broker is the subset of *mqtt.Client the relay uses.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	PublishRetained(topic string, payload []byte) error
	Topics() mqtt.Topics
}

// Notifier receives relayed events. *notify.Service implements it.
type Notifier interface {
	BroadcastDeviceUpdate(username string, payload json.RawMessage)
	NotifyBalancerAction(ctx context.Context, a notify.BalancerAction)
}

// CatalogueMarker is the retained payload published after a catalogue change.
type CatalogueMarker struct {
	UserID    string    `json:"userId"`
	ChangedAt time.Time `json:"changedAt"`
}

// Relay moves events between the broker and the notifier.
type Relay struct {
	broker   Broker
	notifier Notifier
	qos      byte
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a relay subscribing with qos.
func New(broker Broker, notifier Notifier, qos byte, logger *logging.Logger) *Relay {
	return &Relay{
		broker:   broker,
		notifier: notifier,
		qos:      qos,
		logger:   logger.With("component", "relay"),
		now:      time.Now,
	}
}

// Start subscribes to the status and action topics.
func (r *Relay) Start() error {
	topics := r.broker.Topics()
	if err := r.broker.Subscribe(topics.AllStatuses(), r.qos, r.handleStatus); err != nil {
		return fmt.Errorf("subscribing to status updates: %w", err)
	}
	if err := r.broker.Subscribe(topics.Actions(), r.qos, r.handleAction); err != nil {
		return fmt.Errorf("subscribing to balancer actions: %w", err)
	}
	r.logger.Info("mqtt relay started", "status_topic", topics.AllStatuses(), "action_topic", topics.Actions())
	return nil
}

func (r *Relay) handleStatus(topic string, payload []byte) error {
	username, ok := r.broker.Topics().ParseStatus(topic)
	if !ok {
		return fmt.Errorf("unexpected status topic %q", topic)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("status payload for %s is not JSON", username)
	}
	r.notifier.BroadcastDeviceUpdate(username, json.RawMessage(payload))
	return nil
}

func (r *Relay) handleAction(_ string, payload []byte) error {
	var a notify.BalancerAction
	if err := json.Unmarshal(payload, &a); err != nil {
		return fmt.Errorf("decoding balancer action: %w", err)
	}
	if err := validation.Struct(&a); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	r.notifier.NotifyBalancerAction(ctx, a)
	return nil
}

// CatalogueChanged publishes a retained marker for userID. Publish failures
// are logged; the device-control service still learns of the change through
// the HTTP sync notifications.
func (r *Relay) CatalogueChanged(userID string) {
	payload, err := json.Marshal(CatalogueMarker{UserID: userID, ChangedAt: r.now().UTC()})
	if err != nil {
		r.logger.Error("encoding catalogue marker", "error", err)
		return
	}
	if err := r.broker.PublishRetained(r.broker.Topics().Catalogue(userID), payload); err != nil {
		r.logger.Warn("publishing catalogue marker", "user_id", userID, "error", err)
	}
}
