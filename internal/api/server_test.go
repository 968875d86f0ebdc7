package api

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/nerrad567/balancer-core/internal/auth"
	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/downstream"
)

// ─── Health & Infrastructure ───────────────────────────────────────

func TestPing(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/ping", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "API Service is up!" {
		t.Errorf("ping body = %q", got)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	m := decodeBody[SystemMetrics](t, w)
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0, want > 0")
	}
	if m.Database == nil {
		t.Error("database metrics missing")
	}

	w = env.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prometheus status = %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "client-id-123")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-id-123" {
		t.Errorf("X-Request-ID = %q, want client-id-123", got)
	}

	w = env.do(t, http.MethodGet, "/ping", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/ping", "", nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	body := decodeBody[Error](t, w)
	if body.Code != ErrCodeNotFound || body.Path != "/api/nope" || body.Reason != "Not Found" {
		t.Errorf("error body = %+v", body)
	}
	if body.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "Alice@Example.com", "password": "correct-Horse-battery-staple-42"}

	w := env.do(t, http.MethodPost, "/api/auth/register", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d; body = %s", w.Code, w.Body.String())
	}
	if decodeBody[auth.TokenResponse](t, w).Token == "" {
		t.Fatal("register returned no token")
	}

	w = env.do(t, http.MethodPost, "/api/auth/register", "", creds)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = env.do(t, http.MethodPost, "/api/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d; body = %s", w.Code, w.Body.String())
	}
	token := decodeBody[auth.TokenResponse](t, w).Token

	w = env.do(t, http.MethodGet, "/api/devices", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list devices status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("devices = %s, want []", got)
	}
}

func TestRegister_Rejected(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"bad email", map[string]string{"email": "nope", "password": "correct-Horse-battery-staple-42"}, http.StatusBadRequest},
		{"weak password", map[string]string{"email": "bob@example.com", "password": "password"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/register", "", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol@example.com", auth.RoleUser)

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "carol@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "not-a-jwt"} {
		w := env.do(t, http.MethodGet, "/api/devices", token, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestRolePermissions(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.account(t, "user@example.com", auth.RoleUser)
	_, adminToken := env.account(t, "admin", auth.RoleAdmin)
	_, serviceToken := env.account(t, "device-service", auth.RoleService)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"user cannot read audit", http.MethodGet, "/api/audit", userToken, http.StatusForbidden},
		{"admin reads audit", http.MethodGet, "/api/audit", adminToken, http.StatusOK},
		{"user cannot read by prefix", http.MethodGet, "/api/devices/by-mqtt-prefix/x", userToken, http.StatusForbidden},
		{"service lists all devices", http.MethodGet, "/api/devices", serviceToken, http.StatusOK},
		{"service cannot create devices", http.MethodPost, "/api/devices", serviceToken, http.StatusForbidden},
		{"user cannot post callbacks", http.MethodPost, "/api/control/internal/device-update", userToken, http.StatusForbidden},
		{"service cannot toggle", http.MethodPost, "/api/control/plug/1/toggle?on=true", serviceToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, tt.token, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestDevices_CRUD(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.account(t, "dave@example.com", auth.RoleUser)

	created := env.createDevice(t, token, "Heater", "shelly-heater", device.KindSwitchableAppliance)
	if created.ID == 0 || created.UserID != user.ID {
		t.Fatalf("created = %+v", created)
	}

	path := "/api/devices/" + strconv.FormatInt(created.ID, 10)

	w := env.do(t, http.MethodGet, path, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	update := deviceBody("Heater 2", "shelly-heater-2", device.KindSwitchableAppliance)
	w = env.do(t, http.MethodPut, path, token, update)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body = %s", w.Code, w.Body.String())
	}
	if got := decodeBody[device.Device](t, w); got.Name != "Heater 2" || got.Prefix != "shelly-heater-2" {
		t.Errorf("updated = %+v", got)
	}

	w = env.do(t, http.MethodDelete, path, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, path, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCreateDevice_ValidationError(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "erin@example.com", auth.RoleUser)

	w := env.do(t, http.MethodPost, "/api/devices", token, map[string]any{
		"name":       "",
		"mqttPrefix": "bad prefix",
		"deviceType": "TOASTER",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	body := decodeBody[Error](t, w)
	if body.Code != ErrCodeValidation {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeValidation)
	}
	var fields []string
	for _, fe := range body.Errors {
		fields = append(fields, fe.Field)
	}
	for _, want := range []string{"name", "mqttPrefix", "deviceType"} {
		if !slices.Contains(fields, want) {
			t.Errorf("errors %v missing field %q", fields, want)
		}
	}
}

func TestCreateDevice_Conflicts(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "frank@example.com", auth.RoleUser)
	env.createDevice(t, token, "Meter", "meter-1", device.KindPowerMonitor)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"second power monitor", deviceBody("Meter 2", "meter-2", device.KindPowerMonitor)},
		{"duplicate prefix", deviceBody("Plug", "meter-1", device.KindSwitchableAppliance)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/devices", token, tt.body)
			if w.Code != http.StatusConflict {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusConflict, w.Body.String())
			}
			if got := decodeBody[Error](t, w).Code; got != ErrCodeConflict {
				t.Errorf("code = %q, want %q", got, ErrCodeConflict)
			}
		})
	}
}

func TestDevices_OtherUserForbidden(t *testing.T) {
	env := newTestEnv(t)
	_, owner := env.account(t, "owner@example.com", auth.RoleUser)
	_, other := env.account(t, "other@example.com", auth.RoleUser)

	d := env.createDevice(t, owner, "Kettle", "kettle", device.KindSwitchableAppliance)
	path := "/api/devices/" + strconv.FormatInt(d.ID, 10)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := env.do(t, method, path, other, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s status = %d, want %d", method, w.Code, http.StatusForbidden)
		}
	}
}

func TestDevices_InvalidID(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "gina@example.com", auth.RoleUser)

	w := env.do(t, http.MethodGet, "/api/devices/abc", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSystemStateByPrefix(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.account(t, "hank@example.com", auth.RoleUser)
	_, serviceToken := env.account(t, "device-service", auth.RoleService)

	env.createDevice(t, userToken, "Meter", "hank-meter", device.KindPowerMonitor)
	env.createDevice(t, userToken, "Oven", "hank-oven", device.KindSwitchableAppliance)

	w := env.do(t, http.MethodGet, "/api/devices/by-mqtt-prefix/hank-meter", serviceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	state := decodeBody[struct {
		Settings device.SystemSettings `json:"systemSettings"`
		Devices  []device.Device       `json:"devices"`
	}](t, w)
	if state.Settings.PowerLimitWatts != device.DefaultPowerLimitWatts {
		t.Errorf("power limit = %d, want default", state.Settings.PowerLimitWatts)
	}
	if len(state.Devices) != 2 {
		t.Errorf("devices = %d, want 2", len(state.Devices))
	}

	w = env.do(t, http.MethodGet, "/api/devices/by-mqtt-prefix/unknown", serviceToken, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown prefix status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSystemStateByPrefix_SlashPrefix(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.account(t, "iris@example.com", auth.RoleUser)
	_, serviceToken := env.account(t, "device-service", auth.RoleService)

	env.createDevice(t, userToken, "Meter", "home/meter", device.KindPowerMonitor)
	env.createDevice(t, userToken, "Plug", "home/plug1", device.KindSwitchableAppliance)

	for _, target := range []string{
		"/api/devices/by-mqtt-prefix/home/meter",
		"/api/devices/by-mqtt-prefix/home%2Fmeter",
	} {
		t.Run(target, func(t *testing.T) {
			w := env.do(t, http.MethodGet, target, serviceToken, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
			}
			state := decodeBody[struct {
				Devices []device.Device `json:"devices"`
			}](t, w)
			if len(state.Devices) != 2 {
				t.Errorf("devices = %d, want 2", len(state.Devices))
			}
		})
	}

	w := env.do(t, http.MethodGet, "/api/devices/by-mqtt-prefix/", serviceToken, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty prefix status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Settings ──────────────────────────────────────────────────────

func TestSettings(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "ivy@example.com", auth.RoleUser)

	w := env.do(t, http.MethodGet, "/api/settings", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decodeBody[device.SystemSettings](t, w); got.PowerLimitWatts != device.DefaultPowerLimitWatts {
		t.Errorf("default limit = %d", got.PowerLimitWatts)
	}

	w = env.do(t, http.MethodPut, "/api/settings", token, map[string]int{
		"powerLimitWatts": 5000, "powerOnMarginWatts": 250, "overloadCooldownSeconds": 10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", w.Code, w.Body.String())
	}
	if got := decodeBody[device.SystemSettings](t, w); got.PowerLimitWatts != 5000 {
		t.Errorf("limit = %d, want 5000", got.PowerLimitWatts)
	}

	w = env.do(t, http.MethodPut, "/api/settings", token, map[string]int{"powerLimitWatts": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid put status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Control ───────────────────────────────────────────────────────

func TestControl_AccessDenied(t *testing.T) {
	env := newTestEnv(t)
	_, owner := env.account(t, "jack@example.com", auth.RoleUser)
	_, other := env.account(t, "kim@example.com", auth.RoleUser)
	d := env.createDevice(t, owner, "Dryer", "dryer", device.KindSwitchableAppliance)

	targets := []string{
		"/api/control/plug/" + strconv.FormatInt(d.ID, 10) + "/status",
		"/api/control/plug/9999/status",
	}
	for _, target := range targets {
		w := env.do(t, http.MethodGet, target, other, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s status = %d, want %d", target, w.Code, http.StatusForbidden)
		}
		if got := decodeBody[Error](t, w).Message; got != "Access denied" {
			t.Errorf("%s message = %q", target, got)
		}
	}
	if n := len(env.device.recorded()); n != 0 {
		t.Errorf("device service called %d times, want 0", n)
	}
}

func TestControl_ProxiesCommands(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "liam@example.com", auth.RoleUser)
	d := env.createDevice(t, token, "Washer", "washer", device.KindSwitchableAppliance)
	id := strconv.FormatInt(d.ID, 10)

	w := env.do(t, http.MethodPost, "/api/control/plug/"+id+"/toggle?on=true", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d; body = %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != `{"toggled":true}` {
		t.Errorf("toggle body = %s", got)
	}

	w = env.do(t, http.MethodGet, "/api/control/plug/"+id+"/status", token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"apower":42.5`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}

	want := []string{
		"POST /api/device/plug/" + id + "/toggle?on=true",
		"GET /api/device/plug/" + id + "/status",
	}
	if got := env.device.recorded(); !slices.Equal(got, want) {
		t.Errorf("device service requests = %v, want %v", got, want)
	}
}

func TestControl_ToggleRequiresOn(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "mia@example.com", auth.RoleUser)
	d := env.createDevice(t, token, "Fan", "fan", device.KindSwitchableAppliance)

	w := env.do(t, http.MethodPost, "/api/control/plug/"+strconv.FormatInt(d.ID, 10)+"/toggle", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestControl_AllStatuses(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "nina@example.com", auth.RoleUser)
	d := env.createDevice(t, token, "Lamp", "lamp", device.KindSwitchableAppliance)

	w := env.do(t, http.MethodGet, "/api/control/all-statuses", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	statuses := decodeBody[map[string]map[string]any](t, w)
	got, ok := statuses[strconv.FormatInt(d.ID, 10)]
	if !ok || got["online"] != true {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestControl_SystemStats(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "oscar@example.com", auth.RoleUser)

	w := env.do(t, http.MethodGet, "/api/control/system-stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody[downstream.BlackoutStats](t, w); got != (downstream.BlackoutStats{}) {
		t.Errorf("stats without monitor = %+v, want zero", got)
	}

	env.createDevice(t, token, "Grid", "oscar-grid", device.KindGridMonitor)
	w = env.do(t, http.MethodGet, "/api/control/system-stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := downstream.BlackoutStats{IsBlackout: true, ConsumedWattHours: 12.5, DurationSeconds: 90}
	if got := decodeBody[downstream.BlackoutStats](t, w); got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
	if got := env.device.recorded(); !slices.Contains(got, "GET /api/device/monitor/stats?mqttPrefix=oscar-grid") {
		t.Errorf("device service requests = %v", got)
	}
}

func TestInternalCallbacks(t *testing.T) {
	env := newTestEnv(t)
	_, serviceToken := env.account(t, "device-service", auth.RoleService)

	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{"device update", "/api/control/internal/device-update", map[string]any{"username": "pat@example.com", "apower": 10}, http.StatusOK},
		{"device update without username", "/api/control/internal/device-update", map[string]any{"apower": 10}, http.StatusBadRequest},
		{"balancer action for unknown device", "/api/control/internal/balancer-action", map[string]any{"deviceId": 404, "action": "DISABLED_BY_BALANCER"}, http.StatusOK},
		{"balancer action missing fields", "/api/control/internal/balancer-action", map[string]any{"deviceName": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.target, serviceToken, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Notifications ─────────────────────────────────────────────────

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "quinn@example.com", auth.RoleUser)

	w := env.do(t, http.MethodGet, "/api/notifications/vapid-public-key", "", nil)
	if got := decodeBody[map[string]string](t, w)["publicKey"]; got != "test-public-key" {
		t.Errorf("publicKey = %q", got)
	}

	sub := map[string]any{
		"endpoint": "https://push.example.com/abc",
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}
	w = env.do(t, http.MethodPost, "/api/notifications/subscribe", token, sub)
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d; body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/notifications/subscribe", token, map[string]any{"endpoint": "not a url"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid subscribe status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodPost, "/api/notifications/unsubscribe", token, map[string]string{"endpoint": "https://push.example.com/abc"})
	if w.Code != http.StatusOK {
		t.Errorf("unsubscribe status = %d", w.Code)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

func TestAudit_InvalidSince(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account(t, "admin", auth.RoleAdmin)

	w := env.do(t, http.MethodGet, "/api/audit?since=yesterday", adminToken, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
