package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nerrad567/balancer-core/internal/device"
)

type broadcast struct {
	channel string
	payload any
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *recordingBroadcaster) Broadcast(channel string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{channel: channel, payload: payload})
}

type staticResolver struct {
	devices map[int64]device.Device
}

func (r staticResolver) DeviceOwner(_ context.Context, id int64) (*device.Device, string, error) {
	d, ok := r.devices[id]
	if !ok {
		return nil, "", device.ErrDeviceNotFound
	}
	if d.UserID == "" {
		return &d, "", device.ErrOrphanDevice
	}
	return &d, d.Username, nil
}

// memSubscriptions is an in-memory SubscriptionRepository.
type memSubscriptions struct {
	mu      sync.Mutex
	subs    []Subscription
	deleted []string
}

func (m *memSubscriptions) Replace(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.subs[:0]
	for _, s := range m.subs {
		if s.Endpoint != sub.Endpoint {
			kept = append(kept, s)
		}
	}
	m.subs = append(kept, *sub)
	return nil
}

func (m *memSubscriptions) DeleteByEndpoint(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, endpoint)
	kept := m.subs[:0]
	for _, s := range m.subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	m.subs = kept
	return nil
}

func (m *memSubscriptions) ListByUser(_ context.Context, userID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubscriptions) endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.Endpoint)
	}
	return out
}

type sentPush struct {
	endpoint string
	message  Message
}

// fakeSender records payloads and answers per endpoint.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sentPush
	answers map[string]error
}

func (f *fakeSender) Send(_ context.Context, sub Subscription, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{endpoint: sub.Endpoint, message: msg})
	return f.answers[sub.Endpoint]
}

func (f *fakeSender) messages() []sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPush(nil), f.sent...)
}

type actionPoint struct {
	username, deviceName, action string
	deviceID                     int64
}

type statusPoint struct {
	username, deviceID string
	fields             map[string]any
}

type recordingRecorder struct {
	mu       sync.Mutex
	actions  []actionPoint
	statuses []statusPoint
}

func (r *recordingRecorder) WriteBalancerAction(username string, deviceID int64, deviceName, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, actionPoint{username: username, deviceID: deviceID, deviceName: deviceName, action: action})
}

func (r *recordingRecorder) WriteDeviceStatus(username, deviceID string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusPoint{username: username, deviceID: deviceID, fields: fields})
}
