package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Serial          SerialConfig      `yaml:"serial"`
	Link            LinkConfig        `yaml:"link"`
	Device          DeviceConfig      `yaml:"device"`
	Telemetry       TelemetryConfig   `yaml:"telemetry"`
	Ingress         IngressConfig     `yaml:"ingress"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"` // Command topic; status and availability live under it
	QoS      byte   `yaml:"qos"`

	ConnectTimeout Duration `yaml:"connect_timeout"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// SerialConfig contains serial port and reconnect settings
type SerialConfig struct {
	Port        string   `yaml:"port"`
	Baud        int      `yaml:"baud"`
	ReadTimeout Duration `yaml:"read_timeout"` // Poll granularity for the reader
	SettleDelay Duration `yaml:"settle_delay"` // Wait after open for boards that reset on connect

	// Reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 30s)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
}

// LinkConfig contains command/ack protocol settings
type LinkConfig struct {
	BufferSize        int      `yaml:"buffer_size"`        // Max inbound line length (default: 64)
	InactivityTimeout Duration `yaml:"inactivity_timeout"` // Liveness check window for the reader (default: 1s)
	HandshakeInterval Duration `yaml:"handshake_interval"` // Re-probe interval while not ready (default: 5s)
	TickInterval      Duration `yaml:"tick_interval"`      // Control loop tick (default: 50ms)
	AckTimeout        Duration `yaml:"ack_timeout"`        // 0 = wait forever for an ack (default)
}

// DeviceConfig contains light show defaults
type DeviceConfig struct {
	MaxBrightness     int `yaml:"max_brightness"`     // Upper bound for b=<n> (default: 255)
	DefaultBrightness int `yaml:"default_brightness"` // Brightness applied by "on" until b=<n> is received
}

// TelemetryConfig contains status publishing settings
type TelemetryConfig struct {
	MinInterval Duration `yaml:"min_interval"` // At most one message per interval (default: 1s)
}

// IngressConfig contains cloud command settings
type IngressConfig struct {
	Script string `yaml:"script"` // Optional Lua translator for non-builtin payloads
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"use_json"`
}

// LedgerConfig contains link ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
	QueueSize       int      `yaml:"queue_size"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and fills defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lightshowd.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lightshow"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "home1/noahsbedroom/device/lightshow"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.PublishTimeout == 0 {
		cfg.MQTT.PublishTimeout = Duration(2 * time.Second)
	}

	// Serial defaults
	if cfg.Serial.Port == "" {
		cfg.Serial.Port = "/dev/ttyUSB0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = Duration(100 * time.Millisecond)
	}
	if cfg.Serial.MinRetryBackoff == 0 {
		cfg.Serial.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Serial.MaxRetryBackoff == 0 {
		cfg.Serial.MaxRetryBackoff = Duration(30 * time.Second)
	}
	if cfg.Serial.RetryMultiplier == 0 {
		cfg.Serial.RetryMultiplier = 2.0
	}

	// Link defaults
	if cfg.Link.BufferSize == 0 {
		cfg.Link.BufferSize = 64
	}
	if cfg.Link.InactivityTimeout == 0 {
		cfg.Link.InactivityTimeout = Duration(1 * time.Second)
	}
	if cfg.Link.HandshakeInterval == 0 {
		cfg.Link.HandshakeInterval = Duration(5 * time.Second)
	}
	if cfg.Link.TickInterval == 0 {
		cfg.Link.TickInterval = Duration(50 * time.Millisecond)
	}
	// AckTimeout defaults to 0 (disabled), no need to set

	// Device defaults
	if cfg.Device.MaxBrightness == 0 {
		cfg.Device.MaxBrightness = 255
	}

	// Telemetry defaults
	if cfg.Telemetry.MinInterval == 0 {
		cfg.Telemetry.MinInterval = Duration(1 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Ledger.QueueSize == 0 {
		cfg.Ledger.QueueSize = 256
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate rejects settings the bridge cannot run with
func (c *Config) Validate() error {
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Link.BufferSize < 8 {
		return fmt.Errorf("link.buffer_size must be at least 8, got %d", c.Link.BufferSize)
	}
	if c.Device.MaxBrightness < 0 {
		return fmt.Errorf("device.max_brightness must not be negative, got %d", c.Device.MaxBrightness)
	}
	if c.Device.DefaultBrightness < 0 || c.Device.DefaultBrightness > c.Device.MaxBrightness {
		return fmt.Errorf("device.default_brightness must be within 0..%d, got %d",
			c.Device.MaxBrightness, c.Device.DefaultBrightness)
	}
	if c.Link.AckTimeout < 0 {
		return fmt.Errorf("link.ack_timeout must not be negative")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
