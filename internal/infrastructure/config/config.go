package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the balancer core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	Downstream DownstreamConfig `yaml:"downstream"`
	WebPush    WebPushConfig    `yaml:"webpush"`
}

// SiteConfig identifies this installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// The broker is optional. When enabled, the device-control service can
// deliver status updates and balancer actions over MQTT instead of the
// HTTP callback surface.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	TopicRoot string              `yaml:"topic_root"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when Output is "file". Sizes are in megabytes, ages in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT         JWTConfig       `yaml:"jwt"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Password    PasswordConfig  `yaml:"password"`
	Admin       SeedUserConfig  `yaml:"admin"`
	ServiceUser SeedUserConfig  `yaml:"service_user"`
	Headers     HeadersConfig   `yaml:"headers"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// PasswordConfig controls password strength checks at registration.
type PasswordConfig struct {
	MinEntropy float64 `yaml:"min_entropy"`
}

// SeedUserConfig describes an account created at startup when missing.
// An empty username disables seeding.
type SeedUserConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// HeadersConfig controls the security response headers.
type HeadersConfig struct {
	Enabled bool `yaml:"enabled"`
	HSTS    bool `yaml:"hsts"`
}

// DownstreamConfig describes the device-control microservice.
type DownstreamConfig struct {
	URL               string `yaml:"url"`
	ServiceToken      string `yaml:"service_token"`
	NotifyTimeout     int    `yaml:"notify_timeout"`  // seconds
	CommandTimeout    int    `yaml:"command_timeout"` // seconds
	RetryCount        int    `yaml:"retry_count"`
	StatusConcurrency int    `yaml:"status_concurrency"`
}

// WebPushConfig contains VAPID credentials and delivery limits.
type WebPushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subject         string `yaml:"subject"`
	TTL             int    `yaml:"ttl"`     // seconds
	Timeout         int    `yaml:"timeout"` // seconds
	Concurrency     int    `yaml:"concurrency"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BALANCER_SECTION_KEY
// For example: BALANCER_DATABASE_PATH, BALANCER_DOWNSTREAM_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Smart Power Balancer",
		},
		Database: DatabaseConfig{
			Path:        "./data/balancer.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "balancer-core",
			},
			QoS:       1,
			TopicRoot: "balancer",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins:   []string{"http://localhost:5173"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
				AllowCredentials: true,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "balancer",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/balancer.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 24 * 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 300,
			},
			Password: PasswordConfig{
				MinEntropy: 50,
			},
			Headers: HeadersConfig{
				Enabled: true,
			},
		},
		Downstream: DownstreamConfig{
			URL:               "http://localhost:8081",
			NotifyTimeout:     5,
			CommandTimeout:    10,
			RetryCount:        2,
			StatusConcurrency: 8,
		},
		WebPush: WebPushConfig{
			Subject:     "mailto:admin@localhost",
			TTL:         60,
			Timeout:     10,
			Concurrency: 4,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BALANCER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BALANCER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BALANCER_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("BALANCER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BALANCER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BALANCER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BALANCER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BALANCER_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	if v := os.Getenv("BALANCER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// JWT secret: always override in production
	if v := os.Getenv("BALANCER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("BALANCER_ADMIN_PASSWORD"); v != "" {
		cfg.Security.Admin.Password = v
	}
	if v := os.Getenv("BALANCER_SERVICE_USER_PASSWORD"); v != "" {
		cfg.Security.ServiceUser.Password = v
	}

	if v := os.Getenv("BALANCER_DOWNSTREAM_URL"); v != "" {
		cfg.Downstream.URL = v
	}
	if v := os.Getenv("BALANCER_DOWNSTREAM_SERVICE_TOKEN"); v != "" {
		cfg.Downstream.ServiceToken = v
	}

	if v := os.Getenv("BALANCER_VAPID_PUBLIC_KEY"); v != "" {
		cfg.WebPush.VAPIDPublicKey = v
	}
	if v := os.Getenv("BALANCER_VAPID_PRIVATE_KEY"); v != "" {
		cfg.WebPush.VAPIDPrivateKey = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicRoot == "" {
		errs = append(errs, "mqtt.topic_root is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A weak secret lets anyone mint a service-principal token.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set BALANCER_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.ServiceUser.Username != "" && c.Security.ServiceUser.Password == "" {
		errs = append(errs, "security.service_user.password is required when a service user is configured")
	}

	if c.Downstream.URL == "" {
		errs = append(errs, "downstream.url is required")
	} else if u, err := url.Parse(c.Downstream.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "downstream.url must be an absolute URL")
	}
	if c.Downstream.NotifyTimeout <= 0 {
		errs = append(errs, "downstream.notify_timeout must be positive")
	}
	if c.Downstream.CommandTimeout <= 0 {
		errs = append(errs, "downstream.command_timeout must be positive")
	}
	if c.Downstream.StatusConcurrency < 1 {
		errs = append(errs, "downstream.status_concurrency must be at least 1")
	}

	if (c.WebPush.VAPIDPublicKey == "") != (c.WebPush.VAPIDPrivateKey == "") {
		errs = append(errs, "webpush.vapid_public_key and webpush.vapid_private_key must be set together")
	}
	if c.WebPush.Concurrency < 1 {
		errs = append(errs, "webpush.concurrency must be at least 1")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetNotifyTimeout returns the per-call timeout for fire-and-forget downstream notifications.
func (d DownstreamConfig) GetNotifyTimeout() time.Duration {
	return time.Duration(d.NotifyTimeout) * time.Second
}

// GetCommandTimeout returns the per-call timeout for proxied device commands.
func (d DownstreamConfig) GetCommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeout) * time.Second
}

// GetTimeout returns the per-endpoint push delivery timeout.
func (w WebPushConfig) GetTimeout() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetAccessTokenTTL returns the access token lifetime.
func (j JWTConfig) GetAccessTokenTTL() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}
