package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
)

const testConfigTemplate = `
site:
  id: test-site

database:
  path: "%DB%"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %PORT%

security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
  admin:
    username: admin@example.com
    password: "correct horse battery staple"
`

func writeConfig(t *testing.T, dbPath string, port int) string {
	t.Helper()

	content := strings.NewReplacer("%DB%", dbPath, "%PORT%", strconv.Itoa(port)).Replace(testConfigTemplate)

	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("BALANCER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation on an empty database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("BALANCER_CONFIG", writeConfig(t, "", 8080))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_UnwritableDatabase verifies run fails when the database cannot be created.
func TestRun_UnwritableDatabase(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BALANCER_CONFIG", writeConfig(t, filepath.Join(blocker, "sub", "test.db"), 8080))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the database directory cannot be created")
	}
}

// TestRun_StartupAndShutdown runs the full stack with optional services
// disabled and stops it through the context.
func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	t.Setenv("BALANCER_CONFIG", writeConfig(t, filepath.Join(t.TempDir(), "test.db"), port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API server never listened on %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("BALANCER_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("BALANCER_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestDrainTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DownstreamConfig
		want time.Duration
	}{
		{"one attempt per retry", config.DownstreamConfig{NotifyTimeout: 5, RetryCount: 2}, 15 * time.Second},
		{"no retries", config.DownstreamConfig{NotifyTimeout: 5}, 5 * time.Second},
		{"capped", config.DownstreamConfig{NotifyTimeout: 30, RetryCount: 5}, time.Minute},
		{"zero falls back", config.DownstreamConfig{}, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := drainTimeout(tt.cfg); got != tt.want {
				t.Errorf("drainTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}
