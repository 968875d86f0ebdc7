package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/balancer-core/internal/audit"
	"github.com/nerrad567/balancer-core/internal/auth"
	"github.com/nerrad567/balancer-core/internal/catalogue"
	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/downstream"
	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
	"github.com/nerrad567/balancer-core/internal/infrastructure/database"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
	"github.com/nerrad567/balancer-core/internal/notify"
	"github.com/nerrad567/balancer-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// nopSync satisfies catalogue.Sync; downstream ordering is covered in the
// catalogue and downstream packages.
type nopSync struct{}

func (nopSync) Upsert(device.Device) {}
func (nopSync) Remove(string)        {}
func (nopSync) Refresh(string)       {}

// fakeDeviceService stands in for the device-control microservice.
type fakeDeviceService struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newFakeDeviceService(t *testing.T) *fakeDeviceService {
	t.Helper()

	fs := &fakeDeviceService{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/device/plug/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"toggled":true}`) //nolint:errcheck // test server
	})
	mux.HandleFunc("GET /api/device/plug/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"online":true,"apower":42.5}`) //nolint:errcheck // test server
	})
	mux.HandleFunc("GET /api/device/monitor/stats", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"isBlackout":true,"consumedWattHours":12.5,"durationSeconds":90}`) //nolint:errcheck // test server
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeDeviceService) record(r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.requests = append(fs.requests, r.Method+" "+r.URL.RequestURI())
}

func (fs *fakeDeviceService) recorded() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.requests...)
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	users   *auth.SQLiteUserRepository
	device  *fakeDeviceService
}

// newTestEnv builds a server over a migrated temp-file database and a fake
// device-control service.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	log := logging.Discard()
	fake := newFakeDeviceService(t)
	users := auth.NewUserRepository(db.DB)

	manager := catalogue.NewManager(catalogue.Deps{
		Devices:  device.NewSQLiteRepository(db.DB),
		Settings: device.NewSQLiteSettingsRepository(db.DB),
		Sync:     nopSync{},
		Logger:   log,
	})

	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	hub := NewHub(wsCfg, log)
	hubCtx, cancel := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	t.Cleanup(cancel)

	notifier := notify.NewService(notify.Deps{
		Broadcaster:   hub,
		Subscriptions: notify.NewSubscriptionRepository(db.DB),
		Devices:       manager,
		Logger:        log,
		PublicKey:     "test-public-key",
	})

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
			},
		},
		WS: wsCfg,
		Security: config.SecurityConfig{
			JWT:     config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
			Headers: config.HeadersConfig{Enabled: true},
		},
		Logger:    log,
		Auth:      auth.NewService(users, testSecret, 15*time.Minute, 50),
		Catalogue: manager,
		Downstream: downstream.NewClient(config.DownstreamConfig{
			URL:               fake.URL,
			NotifyTimeout:     2,
			CommandTimeout:    2,
			StatusConcurrency: 2,
		}, nil, log),
		Notify:   notifier,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db,
		Gatherer: prometheus.NewRegistry(),
		Hub:      hub,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{srv: srv, handler: srv.buildRouter(), users: users, device: fake}
}

// account creates an account with role and returns it with a bearer token.
func (e *testEnv) account(t *testing.T, username string, role auth.Role) (*auth.User, string) {
	t.Helper()

	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user := &auth.User{Username: username, PasswordHash: hash, Role: role, IsActive: true}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create(%s) error = %v", username, err)
	}
	token, err := auth.IssueToken(user, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return user, token
}

// do sends a request through the router. body is JSON-encoded unless it
// is already a string.
func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func deviceBody(name, prefix string, kind device.Kind) map[string]any {
	return map[string]any{
		"name":       name,
		"mqttPrefix": prefix,
		"deviceType": kind,
		"priority":   1,
		"wattage":    1200,
	}
}

// createDevice posts a device and returns the stored record.
func (e *testEnv) createDevice(t *testing.T, token, name, prefix string, kind device.Kind) device.Device {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/devices", token, deviceBody(name, prefix, kind))
	if w.Code != http.StatusCreated {
		t.Fatalf("create device status = %d, want %d; body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	return decodeBody[device.Device](t, w)
}
