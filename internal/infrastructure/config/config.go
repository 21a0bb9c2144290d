// Package config loads pyde1-core's YAML configuration (spec §6
// "Configuration"): one file, read from the path the caller passes to Load,
// with values overridable by PYDE1_* environment variables, covering the
// bluetooth, database, de1, http, logging and mqtt sections.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for pyde1-core.
type Config struct {
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Database  DatabaseConfig  `yaml:"database"`
	DE1       DE1Config       `yaml:"de1"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// BluetoothConfig maps to spec §6's `bluetooth.*` keys.
type BluetoothConfig struct {
	ScanTime            int    `yaml:"scan_time"`
	ConnectTimeout      int    `yaml:"connect_timeout"`
	DisconnectTimeout   int    `yaml:"disconnect_timeout"`
	ReconnectRetryCount int    `yaml:"reconnect_retry_count"`
	ReconnectGap        int    `yaml:"reconnect_gap"`
	IDFileDirectory     string `yaml:"id_file_directory"`
	IDFileSuffix        string `yaml:"id_file_suffix"`
}

// DatabaseConfig maps to spec §6's `database.*` keys.
type DatabaseConfig struct {
	Filename      string `yaml:"filename"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	BackupTimeout int    `yaml:"backup_timeout"` // seconds
}

// DE1Config maps to spec §6's `de1.*` keys, the tuning constants the flow
// sequencer and notification transport read at startup.
type DE1Config struct {
	LineFrequency           int     `yaml:"line_frequency"`
	DefaultAutoOffTime      int     `yaml:"default_auto_off_time"`
	StopAtWeightAdjust      float64 `yaml:"stop_at_weight_adjust"`
	MaxWaitForReadyEvents   int     `yaml:"max_wait_for_ready_events"`
	SequenceWatchdogTimeout int     `yaml:"sequence_watchdog_timeout"`
	GHCActive               bool    `yaml:"ghc_active"`
}

// HTTPConfig maps to spec §6's `http.*` keys plus the TLS/CORS/WebSocket
// sub-sections the ambient server stack needs.
type HTTPConfig struct {
	ServerHost     string          `yaml:"server_host"`
	ServerPort     int             `yaml:"server_port"`
	PatchSizeLimit int             `yaml:"patch_size_limit"`
	AsyncTimeout   int             `yaml:"async_timeout"` // seconds
	ProfileTimeout int             `yaml:"profile_timeout"`
	TLS            TLSConfig       `yaml:"tls"`
	CORS           CORSConfig      `yaml:"cors"`
	WebSocket      WebSocketConfig `yaml:"websocket"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings; File.Path is also
// the directory the `/logs`/`/log/{id}` endpoints list and serve from.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// MQTTConfig maps to spec §6's `mqtt.*` keys, the notification transport's
// broker connection and topic settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	TopicRoot string              `yaml:"topic_root"`
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

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern PYDE1_SECTION_KEY, e.g.
// PYDE1_DATABASE_FILENAME, PYDE1_HTTP_SERVER_PORT.
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

// defaultConfig returns a Config with the defaults spec §6 documents.
func defaultConfig() *Config {
	return &Config{
		Bluetooth: BluetoothConfig{
			ScanTime:            5,
			ConnectTimeout:      10,
			DisconnectTimeout:   5,
			ReconnectRetryCount: 3,
			ReconnectGap:        5,
			IDFileDirectory:     "/var/lib/pyde1",
			IDFileSuffix:        ".btid",
		},
		Database: DatabaseConfig{
			Filename:      "/var/lib/pyde1/pyde1.sqlite3",
			WALMode:       true,
			BusyTimeout:   5,
			BackupTimeout: 30,
		},
		DE1: DE1Config{
			LineFrequency:           60,
			DefaultAutoOffTime:      30,
			StopAtWeightAdjust:      0,
			MaxWaitForReadyEvents:   15,
			SequenceWatchdogTimeout: 270,
		},
		HTTP: HTTPConfig{
			ServerHost:     "0.0.0.0",
			ServerPort:     8080,
			PatchSizeLimit: 1 << 20,
			AsyncTimeout:   30,
			ProfileTimeout: 60,
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pyde1-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicRoot: "pyde1",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Only the keys an operator is most likely to need to
// override per-deployment (paths, hosts, credentials) are covered.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PYDE1_DATABASE_FILENAME"); v != "" {
		cfg.Database.Filename = v
	}
	if v := os.Getenv("PYDE1_MQTT_BROKER_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PYDE1_MQTT_AUTH_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PYDE1_MQTT_AUTH_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("PYDE1_HTTP_SERVER_HOST"); v != "" {
		cfg.HTTP.ServerHost = v
	}
	if v := os.Getenv("PYDE1_HTTP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.ServerPort = port
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Filename == "" {
		errs = append(errs, "database.filename is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.HTTP.ServerPort < 1 || c.HTTP.ServerPort > 65535 {
		errs = append(errs, "http.server_port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetAsyncTimeout returns the async request timeout as a Duration.
func (c *Config) GetAsyncTimeout() time.Duration {
	return time.Duration(c.HTTP.AsyncTimeout) * time.Second
}

// GetProfileTimeout returns the profile-upload timeout as a Duration.
func (c *Config) GetProfileTimeout() time.Duration {
	return time.Duration(c.HTTP.ProfileTimeout) * time.Second
}
