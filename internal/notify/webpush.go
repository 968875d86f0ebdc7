package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
)

// maxErrorBody caps how much of a rejection body ends up in logs.
const maxErrorBody = 512

// WebPushSender delivers encrypted messages with VAPID authentication.
type WebPushSender struct {
	cfg    config.WebPushConfig
	client *http.Client
}

// NewWebPushSender creates a sender. Both VAPID keys are required.
func NewWebPushSender(cfg config.WebPushConfig) (*WebPushSender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("webpush: VAPID key pair not configured")
	}
	return &WebPushSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.GetTimeout()},
	}, nil
}

// Send delivers payload to sub. It returns ErrSubscriptionGone when the
// push service answers 404 or 410.
func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GetTimeout())
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("sending push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best effort detail
		return fmt.Errorf("%w: status %d: %s", ErrPushRejected, resp.StatusCode, body)
	}
	return nil
}
