package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Poll modes accepted in mailbox.poll_mode.
const (
	PollModeDrainAll   = "drain_all"
	PollModeLatestOnly = "latest_only"
)

// Persistence flush modes accepted in persistence.mode.
const (
	PersistModeSync  = "sync"
	PersistModeAsync = "async"
)

// Snapshot encodings accepted in persistence.compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// argon2idPrefix marks a PHC-formatted admin secret hash.
const argon2idPrefix = "$argon2id$"

// Config is the root configuration structure for Relaybox.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Logging     LoggingConfig     `yaml:"logging"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`
	Security    SecurityConfig    `yaml:"security"`
	Persistence PersistenceConfig `yaml:"persistence"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains settings for the admin live event feed.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MailboxConfig controls per-device mailbox behaviour.
type MailboxConfig struct {
	// PollMode selects how a device poll empties the command queue:
	// "drain_all" returns every pending command, "latest_only" returns
	// the newest one and discards the older ones.
	PollMode string `yaml:"poll_mode"`

	// MaxPending caps each device's command queue. When exceeded the
	// oldest commands are evicted. 0 means unbounded.
	MaxPending int `yaml:"max_pending"`

	// RequireAdminSecret gates the admin device listing behind the shared secret.
	RequireAdminSecret bool `yaml:"require_admin_secret"`
}

// SecurityConfig contains admin authentication settings.
// AdminSecretHash, when set, takes precedence over AdminSecret and holds an
// Argon2id PHC string produced by `relaybox --hash-secret`.
type SecurityConfig struct {
	AdminSecret     string    `yaml:"admin_secret"`
	AdminSecretHash string    `yaml:"admin_secret_hash"`
	JWT             JWTConfig `yaml:"jwt"`
}

// JWTConfig contains admin bearer token settings.
// Token issuance is disabled when Secret is empty.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// PersistenceConfig controls the optional snapshot store.
type PersistenceConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Mode        string         `yaml:"mode"`
	Compression string         `yaml:"compression"`
	Database    DatabaseConfig `yaml:"database"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// When enabled, a wake-up message is published for every queued command.
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

// InfluxDBConfig contains InfluxDB connection settings for mailbox event recording.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYBOX_SECTION_KEY
// For example: RELAYBOX_API_PORT, RELAYBOX_ADMIN_SECRET
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

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set are left alone. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Default returns the built-in configuration with environment overrides applied.
// Used when no config file exists; it is not validated.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Mailbox: MailboxConfig{
			PollMode:           PollModeDrainAll,
			MaxPending:         0,
			RequireAdminSecret: true,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Persistence: PersistenceConfig{
			Enabled:     false,
			Mode:        PersistModeAsync,
			Compression: CompressionZstd,
			Database: DatabaseConfig{
				Path:        "./data/relaybox.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relaybox",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RELAYBOX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API. PORT is honoured for hosting platforms that inject it.
	if v := os.Getenv("RELAYBOX_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := firstEnv("RELAYBOX_API_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Security
	if v := os.Getenv("RELAYBOX_ADMIN_SECRET"); v != "" {
		cfg.Security.AdminSecret = v
	}
	if v := os.Getenv("RELAYBOX_ADMIN_SECRET_HASH"); v != "" {
		cfg.Security.AdminSecretHash = v
	}
	if v := os.Getenv("RELAYBOX_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Mailbox
	if v := os.Getenv("RELAYBOX_POLL_MODE"); v != "" {
		cfg.Mailbox.PollMode = v
	}

	// Persistence
	if v := os.Getenv("RELAYBOX_PERSISTENCE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Persistence.Enabled = enabled
		}
	}
	if v := os.Getenv("RELAYBOX_DATABASE_PATH"); v != "" {
		cfg.Persistence.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RELAYBOX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYBOX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYBOX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("RELAYBOX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Mailbox.PollMode {
	case PollModeDrainAll, PollModeLatestOnly:
	default:
		errs = append(errs, fmt.Sprintf("mailbox.poll_mode must be %q or %q", PollModeDrainAll, PollModeLatestOnly))
	}
	if c.Mailbox.MaxPending < 0 {
		errs = append(errs, "mailbox.max_pending must not be negative")
	}

	if c.Mailbox.RequireAdminSecret && c.Security.AdminSecret == "" && c.Security.AdminSecretHash == "" {
		errs = append(errs, "security.admin_secret or security.admin_secret_hash is required (set RELAYBOX_ADMIN_SECRET environment variable)")
	}
	if c.Security.AdminSecretHash != "" && !strings.HasPrefix(c.Security.AdminSecretHash, argon2idPrefix) {
		errs = append(errs, "security.admin_secret_hash must be an argon2id PHC string")
	}

	// Bearer tokens are optional, but a short signing key would let tokens be forged.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Persistence.Enabled {
		if c.Persistence.Database.Path == "" {
			errs = append(errs, "persistence.database.path is required when persistence is enabled")
		}
		switch c.Persistence.Mode {
		case PersistModeSync, PersistModeAsync:
		default:
			errs = append(errs, fmt.Sprintf("persistence.mode must be %q or %q", PersistModeSync, PersistModeAsync))
		}
		switch c.Persistence.Compression {
		case CompressionNone, CompressionZstd:
		default:
			errs = append(errs, fmt.Sprintf("persistence.compression must be %q or %q", CompressionNone, CompressionZstd))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
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
