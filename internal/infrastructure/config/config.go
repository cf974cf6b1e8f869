package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the WebIoT relay.
// Values come from defaults, then an optional YAML file, then environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Relay     RelayConfig     `yaml:"relay"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Database  DatabaseConfig  `yaml:"database"`
	Site      SiteConfig      `yaml:"site"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// URL is the broker endpoint, e.g. tcp://localhost:1883 or ssl://broker:8883.
	// mqtt:// and mqtts:// are accepted as aliases.
	URL       string              `yaml:"url" env:"MQTT_URL"`
	ClientID  string              `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishTimeout bounds a single publish, in seconds.
	PublishTimeout int `yaml:"publish_timeout" env:"MQTT_PUBLISH_TIMEOUT"`

	// SubscribeTimeout bounds the subscribe issued after each connect, in seconds.
	SubscribeTimeout int `yaml:"subscribe_timeout"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// MQTTTopicsConfig names the topics the relay listens on and commands go to.
type MQTTTopicsConfig struct {
	Subscribe string `yaml:"subscribe" env:"MQTT_SUB_TOPIC"`
	Publish   string `yaml:"publish" env:"MQTT_PUB_TOPIC"`

	// Shared is the legacy single-topic setting. When set it fills whichever
	// of Subscribe and Publish were not given explicitly through the environment.
	Shared string `yaml:"-" env:"MQTT_TOPIC"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// RelayConfig contains message store settings.
type RelayConfig struct {
	HistorySize int `yaml:"history_size" env:"WEBIOT_HISTORY_SIZE"`
	EventBuffer int `yaml:"event_buffer"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host" env:"WEBIOT_API_HOST"`
	Port      int              `yaml:"port" env:"PORT"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
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

// RateLimitConfig throttles publish and send requests per identity.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains session settings.
type SecurityConfig struct {
	// SessionSecret signs session tokens. Leave empty to have one generated
	// at startup (sessions then do not survive a restart).
	SessionSecret string `yaml:"session_secret" env:"SESSION_SECRET"`

	// SessionTTL is the session lifetime, in minutes.
	SessionTTL int    `yaml:"session_ttl"`
	CookieName string `yaml:"cookie_name"`
	// CookieSecure marks the session cookie Secure (HTTPS only).
	CookieSecure bool `yaml:"cookie_secure" env:"WEBIOT_COOKIE_SECURE"`
}

// DatabaseConfig contains SQLite settings for the account store.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"WEBIOT_DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// SiteConfig points at the static page directory.
type SiteConfig struct {
	Dir string `yaml:"dir" env:"WEBIOT_SITE_DIR"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"WEBIOT_LOG_LEVEL"`
	Format string `yaml:"format" env:"WEBIOT_LOG_FORMAT"`
	Output string `yaml:"output"`
}

// defaultMQTTPort is used when MQTT_HOST is given without a port.
const defaultMQTTPort = "1883"

// minSessionSecretLength is the shortest accepted explicit session secret.
const minSessionSecretLength = 32

// Load reads configuration and applies environment variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if path is non-empty and the file exists
//  3. Environment variables (MQTT_URL, MQTT_SUB_TOPIC, MQTT_PUB_TOPIC, PORT, ...)
//
// MQTT_HOST and MQTT_PORT are still honoured: when MQTT_URL is unset they
// replace the host and port of the configured broker URL.
//
// A missing file is not an error: the relay is expected to run from
// environment variables alone.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults + environment only
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			URL:      "tcp://localhost:1883",
			ClientID: "webiot-relay",
			Topics: MQTTTopicsConfig{
				Subscribe: "iot/demo",
				Publish:   "iot/commands",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			PublishTimeout:   5,
			SubscribeTimeout: 5,
		},
		Relay: RelayConfig{
			HistorySize: 200,
			EventBuffer: 256,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             10,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			SessionTTL: 24 * 60,
			CookieName: "webiot_session",
		},
		Database: DatabaseConfig{
			Path:        "./data/webiot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Site: SiteConfig{
			Dir: "./site",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides decodes env-tagged fields over the loaded configuration.
// Fields whose variable is unset keep their current value.
func applyEnvOverrides(cfg *Config) error {
	explicitSub := os.Getenv("MQTT_SUB_TOPIC") != ""
	explicitPub := os.Getenv("MQTT_PUB_TOPIC") != ""

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}

	if shared := cfg.MQTT.Topics.Shared; shared != "" {
		if !explicitSub {
			cfg.MQTT.Topics.Subscribe = shared
		}
		if !explicitPub {
			cfg.MQTT.Topics.Publish = shared
		}
	}

	if os.Getenv("MQTT_URL") == "" {
		cfg.MQTT.URL = withHostPort(cfg.MQTT.URL, os.Getenv("MQTT_HOST"), os.Getenv("MQTT_PORT"))
	}
	return nil
}

// withHostPort replaces the host and/or port of a broker URL, keeping its
// scheme. It serves the older MQTT_HOST/MQTT_PORT variables, which only
// apply when MQTT_URL is unset. An unparsable URL starts over as tcp.
func withHostPort(raw, host, port string) string {
	if host == "" && port == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		u = &url.URL{Scheme: "tcp"}
	}
	if host == "" {
		host = u.Hostname()
	}
	if port == "" {
		port = u.Port()
	}
	if port == "" {
		port = defaultMQTTPort
	}
	u.Host = net.JoinHostPort(host, port)
	return u.String()
}

// Validate checks the configuration for errors.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.URL == "" {
		errs = append(errs, "mqtt.url is required")
	} else if _, err := BrokerURL(c.MQTT.URL); err != nil {
		errs = append(errs, err.Error())
	}
	if c.MQTT.Topics.Subscribe == "" {
		errs = append(errs, "mqtt.topics.subscribe is required")
	}
	if c.MQTT.Topics.Publish == "" {
		errs = append(errs, "mqtt.topics.publish is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.PublishTimeout < 1 || c.MQTT.PublishTimeout > 5 {
		errs = append(errs, "mqtt.publish_timeout must be between 1 and 5 seconds")
	}

	if c.Relay.HistorySize < 1 {
		errs = append(errs, "relay.history_size must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "api.rate_limit.requests_per_minute must be positive when enabled")
	}

	if s := c.Security.SessionSecret; s != "" && len(s) < minSessionSecretLength {
		errs = append(errs, "security.session_secret must be at least 32 characters (or unset to generate one)")
	}
	if c.Security.CookieName == "" {
		errs = append(errs, "security.cookie_name is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BrokerURL normalises a broker endpoint into the scheme paho understands.
// mqtt:// becomes tcp:// and mqtts:// becomes ssl://.
func BrokerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("mqtt.url is invalid: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts":
		u.Scheme = "ssl"
	case "tcp", "ssl", "tls", "ws", "wss":
	default:
		return "", fmt.Errorf("mqtt.url scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("mqtt.url %q has no host", raw)
	}
	return u.String(), nil
}

// GetPublishTimeout returns the publish bound as a Duration.
func (c *MQTTConfig) GetPublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeout) * time.Second
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
