package downstream

import (
	"context"

	"github.com/nerrad567/balancer-core/internal/device"
)

// Notifier sends sync notifications to the device-control service.
// *Client implements it.
type Notifier interface {
	NotifyUpsert(ctx context.Context, d device.Device) error
	NotifyRemove(ctx context.Context, prefix string) error
	NotifyRefresh(ctx context.Context, prefix string) error
}

// Syncer turns catalogue changes into queued notifications.
// Each call returns immediately.
type Syncer struct {
	notifier Notifier
	queue    *Queue
}

// NewSyncer creates a Syncer that sends through n on q.
func NewSyncer(n Notifier, q *Queue) *Syncer {
	return &Syncer{notifier: n, queue: q}
}

// Upsert queues a subscribe notification carrying a snapshot of d.
func (s *Syncer) Upsert(d device.Device) {
	s.queue.Submit(Task{
		Name: "upsert",
		Run: func(ctx context.Context) error {
			return s.notifier.NotifyUpsert(ctx, d)
		},
	})
}

// Remove queues an unsubscribe notification for prefix.
func (s *Syncer) Remove(prefix string) {
	s.queue.Submit(Task{
		Name: "remove",
		Run: func(ctx context.Context) error {
			return s.notifier.NotifyRemove(ctx, prefix)
		},
	})
}

// Refresh queues a refresh-state notification for the monitor with prefix.
func (s *Syncer) Refresh(prefix string) {
	s.queue.Submit(Task{
		Name: "refresh",
		Run: func(ctx context.Context) error {
			return s.notifier.NotifyRefresh(ctx, prefix)
		},
	})
}
