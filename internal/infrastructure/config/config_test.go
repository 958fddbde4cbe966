package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
  timezone: "Europe/London"
  location:
    latitude: 51.5
    longitude: -0.12
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
engine:
  evaluation_schedule: "*/1 * * * *"
  log_capacity: 50
`
	cfg, err := Load(writeConfig(t, t.TempDir(), content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Site.Location.Latitude != 51.5 {
		t.Errorf("Site.Location.Latitude = %v, want 51.5", cfg.Site.Location.Latitude)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Engine.EvaluationSchedule != "*/1 * * * *" {
		t.Errorf("Engine.EvaluationSchedule = %q", cfg.Engine.EvaluationSchedule)
	}
	if cfg.Engine.LogCapacity != 50 {
		t.Errorf("Engine.LogCapacity = %d, want 50", cfg.Engine.LogCapacity)
	}
	// Unset engine values keep their defaults.
	if cfg.Engine.CommandQueueSize != 256 {
		t.Errorf("Engine.CommandQueueSize = %d, want default 256", cfg.Engine.CommandQueueSize)
	}
	if cfg.Location().String() != "Europe/London" {
		t.Errorf("Location() = %v, want Europe/London", cfg.Location())
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("../../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("shipped config should leave InfluxDB disabled")
	}
	if cfg.GetEventDebounce().Milliseconds() != 250 {
		t.Errorf("GetEventDebounce() = %v, want 250ms", cfg.GetEventDebounce())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, t.TempDir(), content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "site:\n  id: \"dotenv\"\n")

	env := "GRAYLOGIC_MQTT_USERNAME=from-dotenv\nGRAYLOGIC_API_PORT=9100\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	// Real environment wins over .env. t.Setenv restores both on cleanup.
	t.Setenv("GRAYLOGIC_API_PORT", "9200")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "")
	os.Unsetenv("GRAYLOGIC_MQTT_USERNAME")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Auth.Username != "from-dotenv" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "from-dotenv")
	}
	if cfg.API.Port != 9200 {
		t.Errorf("API.Port = %d, want 9200", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, "site.id"},
		{"unknown timezone", func(c *Config) { c.Site.Timezone = "Mars/Olympus" }, "site.timezone"},
		{"latitude out of range", func(c *Config) { c.Site.Location.Latitude = 91 }, "latitude"},
		{"longitude out of range", func(c *Config) { c.Site.Location.Longitude = -181 }, "longitude"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb"},
		{"bad schedule", func(c *Config) { c.Engine.EvaluationSchedule = "every now and then" }, "evaluation_schedule"},
		{"zero log capacity", func(c *Config) { c.Engine.LogCapacity = 0 }, "log_capacity"},
		{"negative debounce", func(c *Config) { c.Engine.EventDebounceMS = -1 }, "event_debounce_ms"},
		{"zero queue", func(c *Config) { c.Engine.CommandQueueSize = 0 }, "command_queue_size"},
		{"zero ping interval", func(c *Config) { c.API.WebSocket.PingInterval = 0 }, "api.websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
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
		Engine: EngineConfig{EventDebounceMS: 250},
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
	if got := cfg.GetEventDebounce().Milliseconds(); got != 250 {
		t.Errorf("GetEventDebounce() = %vms, want 250", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_SITE_LATITUDE", "48.85")
	t.Setenv("GRAYLOGIC_SITE_LONGITUDE", "not-a-number")
	t.Setenv("GRAYLOGIC_ENGINE_EVALUATION_SCHEDULE", "@every 1m")
	t.Setenv("GRAYLOGIC_ENGINE_LOG_CAPACITY", "200")

	applyEnvOverrides(cfg)

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
	if cfg.Site.Location.Latitude != 48.85 {
		t.Errorf("Site.Location.Latitude = %v, want 48.85", cfg.Site.Location.Latitude)
	}
	if cfg.Site.Location.Longitude != 0 {
		t.Errorf("invalid longitude override should be ignored, got %v", cfg.Site.Location.Longitude)
	}
	if cfg.Engine.EvaluationSchedule != "@every 1m" {
		t.Errorf("Engine.EvaluationSchedule = %q", cfg.Engine.EvaluationSchedule)
	}
	if cfg.Engine.LogCapacity != 200 {
		t.Errorf("Engine.LogCapacity = %d, want 200", cfg.Engine.LogCapacity)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.MQTT.Broker.ClientID != "graylogic-rules" {
		t.Errorf("defaultConfig MQTT.Broker.ClientID = %q, want graylogic-rules", cfg.MQTT.Broker.ClientID)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
	if cfg.Engine.LogCapacity != 1000 {
		t.Errorf("defaultConfig Engine.LogCapacity = %d, want 1000", cfg.Engine.LogCapacity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
