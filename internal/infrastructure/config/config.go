package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Edge Hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub          HubConfig          `yaml:"hub"`
	Database     DatabaseConfig     `yaml:"database"`
	Registration RegistrationConfig `yaml:"registration"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// HubConfig contains hub identity information.
type HubConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RegistrationConfig contains device registration policy settings.
type RegistrationConfig struct {
	// RequireTokenForNewDevices rejects tokenless registrations from hardware
	// keys that have no existing record. Known devices may always re-register
	// without a token.
	RequireTokenForNewDevices bool `yaml:"require_token_for_new_devices"`

	// StorageTimeout bounds the durable write during registration (seconds).
	StorageTimeout int `yaml:"storage_timeout"`

	// PushTimeout bounds the best-effort configuration push that follows a
	// successful registration (seconds).
	PushTimeout int `yaml:"push_timeout"`
}

// DispatchConfig contains command dispatch settings.
type DispatchConfig struct {
	// AckTimeout is how long to wait for a device to acknowledge a command (seconds).
	AckTimeout int `yaml:"ack_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains device WebSocket channel settings.
type WebSocketConfig struct {
	Path            string `yaml:"path"`
	MaxMessageSize  int    `yaml:"max_message_size"`
	PingInterval    int    `yaml:"ping_interval"`
	PongTimeout     int    `yaml:"pong_timeout"`
	RegisterTimeout int    `yaml:"register_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the outward
// event bridge. Disabled by default; the hub is fully functional without it.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
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

// InfluxDBConfig contains InfluxDB connection settings for telemetry history.
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

// SecurityConfig contains operator API security settings.
type SecurityConfig struct {
	JWT      JWTConfig `yaml:"jwt"`
	AdminKey string    `yaml:"admin_key"`
}

// JWTConfig contains JWT token settings for operator access tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the operator token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EDGEHUB_SECTION_KEY
// For example: EDGEHUB_DATABASE_PATH, EDGEHUB_API_PORT
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
		Hub: HubConfig{
			ID:   "hub-001",
			Name: "Edge Hub",
		},
		Database: DatabaseConfig{
			Path:        "./data/edgehub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Registration: RegistrationConfig{
			RequireTokenForNewDevices: true,
			StorageTimeout:            10,
			PushTimeout:               15,
		},
		Dispatch: DispatchConfig{
			AckTimeout: 10,
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
			Path:            "/ws/device",
			MaxMessageSize:  16384,
			PingInterval:    30,
			PongTimeout:     10,
			RegisterTimeout: 15,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "edgehub-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EDGEHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EDGEHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("EDGEHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("EDGEHUB_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("EDGEHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EDGEHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EDGEHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("EDGEHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("EDGEHUB_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("EDGEHUB_ADMIN_KEY"); v != "" {
		cfg.Security.AdminKey = v
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.Registration.StorageTimeout <= 0 {
		return fmt.Errorf("registration.storage_timeout must be positive, got %d", c.Registration.StorageTimeout)
	}
	if c.Dispatch.AckTimeout <= 0 {
		return fmt.Errorf("dispatch.ack_timeout must be positive, got %d", c.Dispatch.AckTimeout)
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		return fmt.Errorf("websocket.ping_interval and websocket.pong_timeout must be positive")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		return fmt.Errorf("mqtt.broker.host is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required when influxdb is enabled")
	}
	return nil
}
