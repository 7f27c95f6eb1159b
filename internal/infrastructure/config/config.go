package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the OpenRGB bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	OpenRGB       OpenRGBConfig       `yaml:"openrgb"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// OpenRGBConfig contains the OpenRGB SDK server connection settings.
type OpenRGBConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ClientName string `yaml:"client_name"`

	// AddLEDs exposes every LED of every device as its own light entity.
	AddLEDs bool `yaml:"add_leds"`

	// PollInterval is the sync loop period in seconds.
	PollInterval int `yaml:"poll_interval"`

	// ConnectTimeout bounds dialing and each request/response exchange, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// WriteRate limits colour and mode writes to the server (writes per second).
	WriteRate float64 `yaml:"write_rate"`
}

// HomeAssistantConfig controls the MQTT light entity surface.
type HomeAssistantConfig struct {
	Discovery       bool   `yaml:"discovery"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`

	// StateCacheSize bounds the number of entities whose last published
	// state is remembered for duplicate suppression.
	StateCacheSize int `yaml:"state_cache_size"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OPENRGB_BRIDGE_SECTION_KEY
// For example: OPENRGB_BRIDGE_OPENRGB_HOST, OPENRGB_BRIDGE_MQTT_PASSWORD
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

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "OpenRGB",
		},
		OpenRGB: OpenRGBConfig{
			Host:           "localhost",
			Port:           6742,
			ClientName:     "Home Assistant",
			AddLEDs:        false,
			PollInterval:   30,
			ConnectTimeout: 5,
			WriteRate:      20,
		},
		HomeAssistant: HomeAssistantConfig{
			Discovery:       true,
			DiscoveryPrefix: "homeassistant",
			BaseTopic:       "openrgb-bridge",
			StateCacheSize:  1024,
		},
		Database: DatabaseConfig{
			Path:        "./data/openrgb-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "openrgb-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8742,
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
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OPENRGB_BRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// OpenRGB
	if v := os.Getenv("OPENRGB_BRIDGE_OPENRGB_HOST"); v != "" {
		cfg.OpenRGB.Host = v
	}
	if v := os.Getenv("OPENRGB_BRIDGE_OPENRGB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.OpenRGB.Port = port
		}
	}
	if v := os.Getenv("OPENRGB_BRIDGE_OPENRGB_CLIENT_NAME"); v != "" {
		cfg.OpenRGB.ClientName = v
	}
	if v := os.Getenv("OPENRGB_BRIDGE_OPENRGB_ADD_LEDS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.OpenRGB.AddLEDs = b
		}
	}

	// Database
	if v := os.Getenv("OPENRGB_BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("OPENRGB_BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OPENRGB_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OPENRGB_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("OPENRGB_BRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("OPENRGB_BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// OpenRGB validation
	if c.OpenRGB.Host == "" {
		errs = append(errs, "openrgb.host is required")
	}
	if c.OpenRGB.Port < 1 || c.OpenRGB.Port > 65535 {
		errs = append(errs, "openrgb.port must be between 1 and 65535")
	}
	if c.OpenRGB.ClientName == "" {
		errs = append(errs, "openrgb.client_name is required")
	}
	if c.OpenRGB.PollInterval < 1 {
		errs = append(errs, "openrgb.poll_interval must be at least 1 second")
	}
	if c.OpenRGB.ConnectTimeout < 1 {
		errs = append(errs, "openrgb.connect_timeout must be at least 1 second")
	}
	if c.OpenRGB.WriteRate <= 0 {
		errs = append(errs, "openrgb.write_rate must be positive")
	}

	if c.HomeAssistant.BaseTopic == "" {
		errs = append(errs, "homeassistant.base_topic is required")
	}
	if c.HomeAssistant.Discovery && c.HomeAssistant.DiscoveryPrefix == "" {
		errs = append(errs, "homeassistant.discovery_prefix is required when discovery is enabled")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the sync loop period as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.OpenRGB.PollInterval) * time.Second
}

// GetConnectTimeout returns the OpenRGB connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.OpenRGB.ConnectTimeout) * time.Second
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
