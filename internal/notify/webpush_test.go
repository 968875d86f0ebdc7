package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
)

// Keys of a real browser subscription, needed for payload encryption.
const (
	validAuthKey   = "zqbxT6JKstKSY9JKibZLSQ=="
	validP256dhKey = "BNNL5ZaTfK81qhXOx23+wewhigUeFb632jN6LvRWCFH1ubQr77FE/9qV1FuojuRmHP42zmf34rXgW80OvUVDgTk="
)

func newTestSender(t *testing.T) *WebPushSender {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	sender, err := NewWebPushSender(config.WebPushConfig{
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		Subject:         "mailto:admin@example.com",
		TTL:             60,
		Timeout:         5,
	})
	require.NoError(t, err)
	return sender
}

func pushEndpoint(t *testing.T, status int, calls *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assertPushRequest(t, r)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("push service says no")) //nolint:errcheck // test server
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func assertPushRequest(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
	assert.Contains(t, r.Header.Get("Authorization"), "vapid")
	assert.Equal(t, "60", r.Header.Get("TTL"))

	// The body is encrypted, so it must not decode as JSON.
	assert.Error(t, json.NewDecoder(r.Body).Decode(io.Discard))
}

func testSubscription(endpoint string) Subscription {
	return Subscription{UserID: "usr-alice", Endpoint: endpoint, P256dh: validP256dhKey, Auth: validAuthKey}
}

func TestNewWebPushSender_RequiresKeys(t *testing.T) {
	_, err := NewWebPushSender(config.WebPushConfig{VAPIDPublicKey: "only-public"})
	assert.Error(t, err)
}

func TestWebPushSender_Send(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"created", http.StatusCreated, nil},
		{"ok", http.StatusOK, nil},
		{"gone", http.StatusGone, ErrSubscriptionGone},
		{"not found", http.StatusNotFound, ErrSubscriptionGone},
		{"bad request", http.StatusBadRequest, ErrPushRejected},
		{"server error", http.StatusInternalServerError, ErrPushRejected},
	}

	sender := newTestSender(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			endpoint := pushEndpoint(t, tt.status, &calls)

			err := sender.Send(context.Background(), testSubscription(endpoint), []byte(`{"title":"t"}`))

			assert.EqualValues(t, 1, calls.Load())
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWebPushSender_RejectionCarriesBody(t *testing.T) {
	var calls atomic.Int32
	endpoint := pushEndpoint(t, http.StatusBadRequest, &calls)

	err := newTestSender(t).Send(context.Background(), testSubscription(endpoint), []byte(`{}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "push service says no")
}

func TestService_PrunesGoneEndpoints(t *testing.T) {
	var okCalls, goneCalls atomic.Int32
	okURL := pushEndpoint(t, http.StatusCreated, &okCalls)
	goneURL := pushEndpoint(t, http.StatusGone, &goneCalls)

	subs := &memSubscriptions{subs: []Subscription{testSubscription(okURL), testSubscription(goneURL)}}
	svc := NewService(Deps{
		Broadcaster:   &recordingBroadcaster{},
		Sender:        newTestSender(t),
		Subscriptions: subs,
		Devices: staticResolver{devices: map[int64]device.Device{
			1: {ID: 1, Name: "Kettle", UserID: "usr-alice", Username: "alice"},
		}},
		Logger: logging.Discard(),
	})

	svc.NotifyBalancerAction(context.Background(), BalancerAction{DeviceID: 1, DeviceName: "Kettle", Action: ActionDisabled})

	assert.EqualValues(t, 1, okCalls.Load())
	assert.EqualValues(t, 1, goneCalls.Load())
	assert.Equal(t, []string{okURL}, subs.endpoints())
}
