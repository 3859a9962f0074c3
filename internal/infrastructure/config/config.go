package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the drone fleet core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Registration  RegistrationConfig  `yaml:"registration"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	SelfTest      SelfTestConfig      `yaml:"selftest"`
	Observability ObservabilityConfig `yaml:"observability"`
	Security      SecurityConfig      `yaml:"security"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name string `yaml:"name"`

	// BaseURL is the externally reachable URL used to build status check links
	// handed to drones during registration.
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicNamespace is the first topic segment for all drone topics:
	// <namespace>/<droneId>/telemetry|commands|responses.
	TopicNamespace string `yaml:"topic_namespace"`

	// PublicBrokerURL is the broker address handed to drones in their
	// credentials. It usually differs from the internal broker host.
	PublicBrokerURL string `yaml:"public_broker_url"`
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

// MQTTReconnectConfig contains the bridge supervision settings (seconds).
type MQTTReconnectConfig struct {
	// CheckInterval is how often the supervisor checks liveness.
	CheckInterval int `yaml:"check_interval"`

	// LostDelay is the initial delay before reconnecting after a lost connection.
	LostDelay int `yaml:"lost_delay"`

	// MaxDelay caps the lost-connection delay as it backs off.
	MaxDelay int `yaml:"max_delay"`
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

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RegistrationConfig controls the provisioning workflow.
type RegistrationConfig struct {
	// RotateSecretOnStatus issues a fresh transport secret on every status
	// poll of an approved request. When false the secret is handed out once.
	RotateSecretOnStatus bool `yaml:"rotate_secret_on_status"`

	// SecretLength is the generated transport secret length (minimum 12).
	SecretLength int `yaml:"secret_length"`

	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// TelemetryConfig controls the inbound message worker pool.
type TelemetryConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SelfTestConfig controls the startup dependency validation.
type SelfTestConfig struct {
	Enabled bool `yaml:"enabled"`

	// Strict makes the process exit when any dependency fails validation.
	Strict bool `yaml:"strict"`

	// GracePeriod is the delay (seconds) before a strict-mode exit.
	GracePeriod int `yaml:"grace_period"`

	// CanaryTimeout bounds the broker round trip (seconds).
	CanaryTimeout int `yaml:"canary_timeout"`
}

// ObservabilityConfig contains OpenTelemetry metric export settings.
type ObservabilityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
	Interval     int    `yaml:"interval"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains rate limiting settings for public endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DRONEFLEET_SECTION_KEY
// For example: DRONEFLEET_DATABASE_PATH, DRONEFLEET_MQTT_HOST
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
		Service: ServiceConfig{
			Name:    "dronefleet",
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path:        "./data/dronefleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dronefleet-core",
			},
			QoS:             1,
			TopicNamespace:  "drones",
			PublicBrokerURL: "tcp://localhost:1883",
			Reconnect: MQTTReconnectConfig{
				CheckInterval: 60,
				LostDelay:     5,
				MaxDelay:      60,
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
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       true,
			URL:           "http://localhost:8086",
			Org:           "dronefleet",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Registration: RegistrationConfig{
			RotateSecretOnStatus: true,
			SecretLength:         12,
			DefaultPageSize:      10,
			MaxPageSize:          100,
		},
		Telemetry: TelemetryConfig{
			Workers:   4,
			QueueSize: 1024,
		},
		SelfTest: SelfTestConfig{
			Enabled:       true,
			Strict:        false,
			GracePeriod:   1,
			CanaryTimeout: 5,
		},
		Observability: ObservabilityConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			Environment:  "development",
			Interval:     15,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DRONEFLEET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRONEFLEET_SERVICE_BASE_URL"); v != "" {
		cfg.Service.BaseURL = v
	}

	// Database
	if v := os.Getenv("DRONEFLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DRONEFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DRONEFLEET_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DRONEFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DRONEFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("DRONEFLEET_MQTT_PUBLIC_BROKER_URL"); v != "" {
		cfg.MQTT.PublicBrokerURL = v
	}

	// API
	if v := os.Getenv("DRONEFLEET_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("DRONEFLEET_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("DRONEFLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Self-test
	if v := os.Getenv("DRONEFLEET_SELFTEST_STRICT"); v != "" {
		if strict, err := strconv.ParseBool(v); err == nil {
			cfg.SelfTest.Strict = strict
		}
	}

	// Observability
	if v := os.Getenv("DRONEFLEET_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
}

// minSecretLength is the shortest transport secret the issuer may generate.
const minSecretLength = 12

// Validate checks the configuration for errors.
//
// All problems are collected and reported together so an operator can fix
// a broken file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.BaseURL == "" {
		errs = append(errs, "service.base_url is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicNamespace == "" || strings.ContainsAny(c.MQTT.TopicNamespace, "/+#") {
		errs = append(errs, "mqtt.topic_namespace must be a single topic segment without wildcards")
	}
	if c.MQTT.Reconnect.CheckInterval < 1 {
		errs = append(errs, "mqtt.reconnect.check_interval must be at least 1 second")
	}
	if c.MQTT.Reconnect.LostDelay < 1 {
		errs = append(errs, "mqtt.reconnect.lost_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.LostDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be less than lost_delay")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Registration.SecretLength < minSecretLength {
		errs = append(errs, fmt.Sprintf("registration.secret_length must be at least %d", minSecretLength))
	}
	if c.Registration.DefaultPageSize < 1 || c.Registration.MaxPageSize < c.Registration.DefaultPageSize {
		errs = append(errs, "registration page sizes must be positive and max_page_size >= default_page_size")
	}

	if c.Telemetry.Workers < 1 || c.Telemetry.QueueSize < 1 {
		errs = append(errs, "telemetry.workers and telemetry.queue_size must be positive")
	}

	if c.SelfTest.CanaryTimeout < 1 {
		errs = append(errs, "selftest.canary_timeout must be at least 1 second")
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

// GetCheckInterval returns the bridge supervisor interval.
func (m MQTTConfig) GetCheckInterval() time.Duration {
	return time.Duration(m.Reconnect.CheckInterval) * time.Second
}

// GetLostDelay returns the initial delay before a lost-connection reconnect.
func (m MQTTConfig) GetLostDelay() time.Duration {
	return time.Duration(m.Reconnect.LostDelay) * time.Second
}

// GetMaxDelay returns the upper bound for the lost-connection delay.
func (m MQTTConfig) GetMaxDelay() time.Duration {
	return time.Duration(m.Reconnect.MaxDelay) * time.Second
}

// GetGracePeriod returns the strict-mode exit delay.
func (s SelfTestConfig) GetGracePeriod() time.Duration {
	return time.Duration(s.GracePeriod) * time.Second
}

// GetCanaryTimeout returns the broker canary wait bound.
func (s SelfTestConfig) GetCanaryTimeout() time.Duration {
	return time.Duration(s.CanaryTimeout) * time.Second
}
