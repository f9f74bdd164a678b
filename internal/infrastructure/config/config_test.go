package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
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
directory:
  source: file
  file: /etc/laurel/directory.yaml
mesh:
  poll_interval: 120
transport:
  type: gateway
  gateway:
    connection: "tcp://127.0.0.1:7420"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
api:
  enabled: true
  port: 8081
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Directory.File != "/etc/laurel/directory.yaml" {
		t.Errorf("Directory.File = %q", cfg.Directory.File)
	}
	if cfg.Transport.Gateway.Connection != "tcp://127.0.0.1:7420" {
		t.Errorf("Transport.Gateway.Connection = %q", cfg.Transport.Gateway.Connection)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Mesh.PollInterval != 120 {
		t.Errorf("Mesh.PollInterval = %d, want 120", cfg.Mesh.PollInterval)
	}

	// Defaults survive for keys the file does not set.
	if cfg.Mesh.Vendor != 0x0211 {
		t.Errorf("Mesh.Vendor = %#x, want 0x0211", cfg.Mesh.Vendor)
	}
	if cfg.Transport.Gateway.ConnectTimeout != 10 {
		t.Errorf("Transport.Gateway.ConnectTimeout = %d, want 10", cfg.Transport.Gateway.ConnectTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
directory:
  source: cloud
`))
	if err == nil {
		t.Fatal("Load() expected validation error for missing cloud credentials, got nil")
	}
	if !strings.Contains(err.Error(), "directory.cloud") {
		t.Errorf("error %q does not name directory.cloud", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Directory.Cloud.Email = "user@example.com"
		cfg.Directory.Cloud.Password = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults with credentials", func(*Config) {}, false},
		{"file source", func(c *Config) { c.Directory = DirectoryConfig{Source: "file", File: "d.yaml"} }, false},
		{"file source without path", func(c *Config) { c.Directory = DirectoryConfig{Source: "file"} }, true},
		{"unknown source", func(c *Config) { c.Directory.Source = "ldap" }, true},
		{"missing cloud password", func(c *Config) { c.Directory.Cloud.Password = "" }, true},
		{"simulator transport", func(c *Config) { c.Transport.Type = "simulator" }, false},
		{"unknown transport", func(c *Config) { c.Transport.Type = "ble" }, true},
		{"bad gateway url", func(c *Config) { c.Transport.Gateway.Connection = "http://x" }, true},
		{"managed gateway without binary", func(c *Config) { c.Transport.Gateway.Managed.Enabled = true }, true},
		{"managed gateway", func(c *Config) {
			c.Transport.Gateway.Managed = ManagedDaemonConfig{Enabled: true, Binary: "/usr/bin/meshd"}
		}, false},
		{"vendor too large", func(c *Config) { c.Mesh.Vendor = 0x10000 }, true},
		{"negative poll", func(c *Config) { c.Mesh.PollInterval = -1 }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"api port ignored when disabled", func(c *Config) { c.API.Port = 0 }, false},
		{"invalid api port", func(c *Config) { c.API.Enabled = true; c.API.Port = 70000 }, true},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"no JWT secret", func(c *Config) { c.Security.JWT.Secret = "" }, false},
		{"valid JWT secret", func(c *Config) { c.Security.JWT.Secret = validJWTSecret }, false},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.MQTT.QoS = 5
	cfg.Transport.Type = "ble"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"directory.cloud", "transport.type", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
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
	if got := Seconds(7).Seconds(); got != 7 {
		t.Errorf("Seconds(7) = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LAUREL_DIRECTORY_SOURCE", "file")
	t.Setenv("LAUREL_DIRECTORY_FILE", "/srv/dir.yaml")
	t.Setenv("LAUREL_CLOUD_EMAIL", "me@example.com")
	t.Setenv("LAUREL_CLOUD_PASSWORD", "cloudpass")
	t.Setenv("LAUREL_TRANSPORT_TYPE", "simulator")
	t.Setenv("LAUREL_GATEWAY_CONNECTION", "tcp://gw:7420")
	t.Setenv("LAUREL_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LAUREL_MQTT_PORT", "8883")
	t.Setenv("LAUREL_MQTT_USERNAME", "testuser")
	t.Setenv("LAUREL_MQTT_PASSWORD", "testpass")
	t.Setenv("LAUREL_API_HOST", "192.168.1.1")
	t.Setenv("LAUREL_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LAUREL_LOG_LEVEL", "debug")
	t.Setenv("LAUREL_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Directory.Source", cfg.Directory.Source, "file"},
		{"Directory.File", cfg.Directory.File, "/srv/dir.yaml"},
		{"Cloud.Email", cfg.Directory.Cloud.Email, "me@example.com"},
		{"Cloud.Password", cfg.Directory.Cloud.Password, "cloudpass"},
		{"Transport.Type", cfg.Transport.Type, "simulator"},
		{"Gateway.Connection", cfg.Transport.Gateway.Connection, "tcp://gw:7420"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("LAUREL_CONFIG", "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath(\"\") = %q, want %q", got, DefaultPath)
	}

	t.Setenv("LAUREL_CONFIG", "/etc/laurel.yaml")
	if got := ResolvePath(""); got != "/etc/laurel.yaml" {
		t.Errorf("ResolvePath(\"\") = %q, want env value", got)
	}
	if got := ResolvePath("flag.yaml"); got != "flag.yaml" {
		t.Errorf("ResolvePath(flag) = %q, want flag value", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Directory.Source != "cloud" {
		t.Errorf("defaultConfig Directory.Source = %q, want cloud", cfg.Directory.Source)
	}
	if cfg.Transport.Gateway.Connection == "" {
		t.Error("defaultConfig should have a gateway connection")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
