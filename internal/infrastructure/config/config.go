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

// Config is the root configuration structure for Laurel.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Directory DirectoryConfig `yaml:"directory"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Transport TransportConfig `yaml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DirectoryConfig selects where mesh and device records come from.
type DirectoryConfig struct {
	// Source is "cloud" or "file".
	Source string `yaml:"source"`

	// File is the YAML directory used when Source is "file".
	File string `yaml:"file"`

	Cloud CloudConfig `yaml:"cloud"`
}

// CloudConfig contains the vendor cloud account.
type CloudConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// MeshConfig contains session settings shared by every mesh.
type MeshConfig struct {
	// MeshMode enables mesh relaying on the radio link.
	MeshMode bool `yaml:"mesh_mode"`

	// Vendor is the vendor code sent when opening a session.
	Vendor int `yaml:"vendor"`

	// ReconnectInterval is how often disconnected meshes are retried, in
	// seconds. 0 disables retries.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// PollInterval is how often a mesh-wide status request is sent, in
	// seconds. 0 disables polling.
	PollInterval int `yaml:"poll_interval"`
}

// TransportConfig selects the radio transport.
type TransportConfig struct {
	// Type is "gateway" or "simulator".
	Type string `yaml:"type"`

	Gateway GatewayConfig `yaml:"gateway"`
}

// GatewayConfig contains the radio gateway daemon connection.
type GatewayConfig struct {
	// Connection is "unix:///run/meshd" or "tcp://host:port".
	Connection     string `yaml:"connection"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	ReadTimeout    int    `yaml:"read_timeout"`    // seconds
	QueueSize      int    `yaml:"queue_size"`

	// Managed starts and supervises the gateway daemon locally.
	Managed ManagedDaemonConfig `yaml:"managed"`
}

// ManagedDaemonConfig describes a gateway daemon Laurel runs itself.
type ManagedDaemonConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Binary       string   `yaml:"binary"`
	Args         []string `yaml:"args"`
	RestartDelay int      `yaml:"restart_delay"` // seconds
	MaxRestarts  int      `yaml:"max_restarts"`  // 0 means unlimited
}

// MQTTConfig contains MQTT broker connection settings.
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Panel    PanelConfig      `yaml:"panel"`
}

// PanelConfig controls the browser control panel served under /panel/.
type PanelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir overrides the embedded assets with a directory on disk.
	Dir string `yaml:"dir"`
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
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. API authentication is enabled when
// Secret is set.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// DefaultPath is used when no --config flag or LAUREL_CONFIG is given.
const DefaultPath = "configs/config.yaml"

// minJWTSecretLength is the shortest accepted JWT signing secret.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LAUREL_SECTION_KEY
// For example: LAUREL_CLOUD_PASSWORD, LAUREL_GATEWAY_CONNECTION
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

// ResolvePath returns flagValue, then LAUREL_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("LAUREL_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Directory: DirectoryConfig{
			Source: "cloud",
			Cloud: CloudConfig{
				Timeout: 5,
			},
		},
		Mesh: MeshConfig{
			MeshMode:          true,
			Vendor:            0x0211,
			ReconnectInterval: 60,
		},
		Transport: TransportConfig{
			Type: "gateway",
			Gateway: GatewayConfig{
				Connection:     "unix:///run/meshd",
				ConnectTimeout: 10,
				ReadTimeout:    30,
				QueueSize:      100,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "laurel",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host:  "0.0.0.0",
			Port:  8080,
			Panel: PanelConfig{Enabled: true},
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LAUREL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Directory
	if v := os.Getenv("LAUREL_DIRECTORY_SOURCE"); v != "" {
		cfg.Directory.Source = v
	}
	if v := os.Getenv("LAUREL_DIRECTORY_FILE"); v != "" {
		cfg.Directory.File = v
	}
	if v := os.Getenv("LAUREL_CLOUD_EMAIL"); v != "" {
		cfg.Directory.Cloud.Email = v
	}
	if v := os.Getenv("LAUREL_CLOUD_PASSWORD"); v != "" {
		cfg.Directory.Cloud.Password = v
	}

	// Transport
	if v := os.Getenv("LAUREL_TRANSPORT_TYPE"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv("LAUREL_GATEWAY_CONNECTION"); v != "" {
		cfg.Transport.Gateway.Connection = v
	}

	// MQTT
	if v := os.Getenv("LAUREL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LAUREL_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("LAUREL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LAUREL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LAUREL_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("LAUREL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LAUREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("LAUREL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Directory.Source {
	case "cloud":
		if c.Directory.Cloud.Email == "" || c.Directory.Cloud.Password == "" {
			errs = append(errs, "directory.cloud.email and password are required (set LAUREL_CLOUD_PASSWORD)")
		}
	case "file":
		if c.Directory.File == "" {
			errs = append(errs, "directory.file is required when directory.source is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("directory.source %q must be cloud or file", c.Directory.Source))
	}

	if c.Mesh.Vendor < 0 || c.Mesh.Vendor > 0xffff {
		errs = append(errs, "mesh.vendor must fit in 16 bits")
	}
	if c.Mesh.ReconnectInterval < 0 || c.Mesh.PollInterval < 0 {
		errs = append(errs, "mesh intervals cannot be negative")
	}

	switch c.Transport.Type {
	case "gateway":
		if u, err := url.Parse(c.Transport.Gateway.Connection); err != nil || (u.Scheme != "unix" && u.Scheme != "tcp") {
			errs = append(errs, "transport.gateway.connection must be a unix:// or tcp:// URL")
		}
		if m := c.Transport.Gateway.Managed; m.Enabled && m.Binary == "" {
			errs = append(errs, "transport.gateway.managed.binary is required when managed is enabled")
		}
	case "simulator":
	default:
		errs = append(errs, fmt.Sprintf("transport.type %q must be gateway or simulator", c.Transport.Type))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// An empty secret disables API authentication; a short one is refused.
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
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

// Seconds converts a whole-second config value to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
