package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "test-site"
openrgb:
  host: "10.0.0.5"
  port: 6743
  client_name: "Bridge Test"
  add_leds: true
  poll_interval: 10
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.OpenRGB.Host != "10.0.0.5" {
		t.Errorf("OpenRGB.Host = %q, want %q", cfg.OpenRGB.Host, "10.0.0.5")
	}
	if cfg.OpenRGB.Port != 6743 {
		t.Errorf("OpenRGB.Port = %d, want 6743", cfg.OpenRGB.Port)
	}
	if cfg.OpenRGB.ClientName != "Bridge Test" {
		t.Errorf("OpenRGB.ClientName = %q, want %q", cfg.OpenRGB.ClientName, "Bridge Test")
	}
	if !cfg.OpenRGB.AddLEDs {
		t.Error("OpenRGB.AddLEDs = false, want true")
	}
	if got := cfg.GetPollInterval(); got != 10*time.Second {
		t.Errorf("GetPollInterval() = %v, want 10s", got)
	}
	// Unset keys keep their defaults.
	if got := cfg.GetConnectTimeout(); got != 5*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 5s", got)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
openrgb:
  host: ""
  port: 0
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "openrgb.host is required") {
		t.Errorf("error %q does not mention openrgb.host", err)
	}
	if !strings.Contains(err.Error(), "openrgb.port must be between 1 and 65535") {
		t.Errorf("error %q does not mention openrgb.port", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}, wantErr: false},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing openrgb host", mutate: func(c *Config) { c.OpenRGB.Host = "" }, wantErr: true},
		{name: "openrgb port high", mutate: func(c *Config) { c.OpenRGB.Port = 70000 }, wantErr: true},
		{name: "empty client name", mutate: func(c *Config) { c.OpenRGB.ClientName = "" }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *Config) { c.OpenRGB.PollInterval = 0 }, wantErr: true},
		{name: "zero connect timeout", mutate: func(c *Config) { c.OpenRGB.ConnectTimeout = 0 }, wantErr: true},
		{name: "zero write rate", mutate: func(c *Config) { c.OpenRGB.WriteRate = 0 }, wantErr: true},
		{name: "missing base topic", mutate: func(c *Config) { c.HomeAssistant.BaseTopic = "" }, wantErr: true},
		{name: "discovery without prefix", mutate: func(c *Config) { c.HomeAssistant.DiscoveryPrefix = "" }, wantErr: true},
		{
			name: "no prefix needed when discovery disabled",
			mutate: func(c *Config) {
				c.HomeAssistant.Discovery = false
				c.HomeAssistant.DiscoveryPrefix = ""
			},
			wantErr: false,
		},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid api port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{
			name: "api port ignored when api disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("OPENRGB_BRIDGE_OPENRGB_HOST", "rgb.example.com")
	t.Setenv("OPENRGB_BRIDGE_OPENRGB_PORT", "6800")
	t.Setenv("OPENRGB_BRIDGE_OPENRGB_CLIENT_NAME", "Env Client")
	t.Setenv("OPENRGB_BRIDGE_OPENRGB_ADD_LEDS", "true")
	t.Setenv("OPENRGB_BRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("OPENRGB_BRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("OPENRGB_BRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("OPENRGB_BRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("OPENRGB_BRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("OPENRGB_BRIDGE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.OpenRGB.Host != "rgb.example.com" {
		t.Errorf("OpenRGB.Host = %q, want %q", cfg.OpenRGB.Host, "rgb.example.com")
	}
	if cfg.OpenRGB.Port != 6800 {
		t.Errorf("OpenRGB.Port = %d, want 6800", cfg.OpenRGB.Port)
	}
	if cfg.OpenRGB.ClientName != "Env Client" {
		t.Errorf("OpenRGB.ClientName = %q, want %q", cfg.OpenRGB.ClientName, "Env Client")
	}
	if !cfg.OpenRGB.AddLEDs {
		t.Error("OpenRGB.AddLEDs = false, want true")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("OPENRGB_BRIDGE_OPENRGB_PORT", "not-a-port")
	t.Setenv("OPENRGB_BRIDGE_OPENRGB_ADD_LEDS", "maybe")

	applyEnvOverrides(cfg)

	if cfg.OpenRGB.Port != 6742 {
		t.Errorf("OpenRGB.Port = %d, want default 6742", cfg.OpenRGB.Port)
	}
	if cfg.OpenRGB.AddLEDs {
		t.Error("OpenRGB.AddLEDs = true, want default false")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.OpenRGB.Port != 6742 {
		t.Errorf("defaultConfig OpenRGB.Port = %d, want 6742", cfg.OpenRGB.Port)
	}
	if cfg.OpenRGB.ClientName != "Home Assistant" {
		t.Errorf("defaultConfig OpenRGB.ClientName = %q, want %q", cfg.OpenRGB.ClientName, "Home Assistant")
	}
	if cfg.OpenRGB.AddLEDs {
		t.Error("defaultConfig OpenRGB.AddLEDs should be false")
	}
	if got := cfg.GetPollInterval(); got != 30*time.Second {
		t.Errorf("defaultConfig poll interval = %v, want 30s", got)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.HomeAssistant.DiscoveryPrefix != "homeassistant" {
		t.Errorf("defaultConfig discovery prefix = %q, want homeassistant", cfg.HomeAssistant.DiscoveryPrefix)
	}
}

func TestDefault_AppliesEnv(t *testing.T) {
	t.Setenv("OPENRGB_BRIDGE_OPENRGB_HOST", "env-host")

	cfg := Default()
	if cfg.OpenRGB.Host != "env-host" {
		t.Errorf("Default().OpenRGB.Host = %q, want env-host", cfg.OpenRGB.Host)
	}
}
