package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for AquaNext Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Facility  FacilityConfig  `yaml:"facility"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Mode      ModeConfig      `yaml:"mode"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains broker candidate and session settings.
type MQTTConfig struct {
	// OverrideURL is tried before every entry in Candidates.
	OverrideURL string `yaml:"override_url"`

	// Candidates is the ordered fallback list of broker URIs.
	Candidates []string `yaml:"candidates"`

	// MountPath is the path every candidate URI must end in.
	MountPath string `yaml:"mount_path"`

	ClientIDPrefix string `yaml:"client_id_prefix"`

	// ConnectTimeout bounds a single candidate attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAlive is the MQTT keepalive interval, in seconds.
	KeepAlive int `yaml:"keep_alive"`

	Auth      MQTTAuthConfig      `yaml:"auth"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig is the caller-imposed reconnection policy.
// Disabled by default: a lost or exhausted connection stays down until restart.
type MQTTReconnectConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`
	MaxAttempts  int  `yaml:"max_attempts"`
}

// FacilityConfig describes the tanks, topic namespace and mirror rule of one line.
type FacilityConfig struct {
	// TopicRoot is the line-scoped topic prefix, e.g. "farm/line1".
	TopicRoot string           `yaml:"topic_root"`
	Tanks     []TankMetaConfig `yaml:"tanks"`
	Mirror    MirrorConfig     `yaml:"mirror"`
}

// TankMetaConfig is static metadata for a known tank.
type TankMetaConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
}

// MirrorConfig configures copying of one tank's readings onto others.
type MirrorConfig struct {
	Source  string   `yaml:"source"`
	Targets []string `yaml:"targets"`
	Metrics []string `yaml:"metrics"`

	// EnvironmentTemp copies the source tank's temp into the environment temp.
	EnvironmentTemp bool `yaml:"environment_temp"`
}

// TelemetryConfig contains settings for the state synchronizer.
type TelemetryConfig struct {
	// QueueSize is the capacity of the inbound message queue.
	QueueSize int `yaml:"queue_size"`
}

// ModeConfig contains operational mode settings.
type ModeConfig struct {
	// Initial is the seed mode before any authoritative value arrives.
	Initial string `yaml:"initial"`

	// PendingTimeout holds an optimistic mode against contradicting
	// authoritative values for this many seconds. 0 keeps last-write-wins.
	PendingTimeout int `yaml:"pending_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Public fallback brokers, tried in order after the override.
var defaultCandidates = []string{
	"wss://mqtt.eclipseprojects.io:443/mqtt",
	"wss://test.mosquitto.org:443/mqtt",
	"wss://broker.emqx.io:8084/mqtt",
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AQUANEXT_SECTION_KEY
// For example: AQUANEXT_MQTT_URL, AQUANEXT_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with the defaults of the reference line
// (farm/line1, five tanks, A5 mirrored onto the rest).
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "farm-001",
			Name: "AquaNext",
		},
		MQTT: MQTTConfig{
			Candidates:     append([]string(nil), defaultCandidates...),
			MountPath:      "/mqtt",
			ClientIDPrefix: "aquanext_",
			ConnectTimeout: 10,
			KeepAlive:      30,
			Reconnect: MQTTReconnectConfig{
				Enabled:      false,
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Facility: FacilityConfig{
			TopicRoot: "farm/line1",
			Tanks: []TankMetaConfig{
				{ID: "A5", Label: "Grow tank A5", Type: "grow"},
				{ID: "F5", Label: "Grow tank F5", Type: "grow"},
				{ID: "A1", Label: "Grow tank A1", Type: "grow"},
				{ID: "FIL", Label: "Filter tank", Type: "filter"},
				{ID: "SEA", Label: "Sea water tank", Type: "sea"},
			},
			Mirror: MirrorConfig{
				Source:          "A5",
				Targets:         []string{"F5", "A1", "FIL", "SEA"},
				Metrics:         []string{"temp", "do", "ph"},
				EnvironmentTemp: true,
			},
		},
		Telemetry: TelemetryConfig{
			QueueSize: 256,
		},
		Mode: ModeConfig{
			Initial: "flow",
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := strings.TrimSpace(os.Getenv("AQUANEXT_MQTT_URL")); v != "" {
		cfg.MQTT.OverrideURL = v
	}
	if v := os.Getenv("AQUANEXT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AQUANEXT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AQUANEXT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Logging
	if v := os.Getenv("AQUANEXT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so a single run reports every mistake.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// MQTT validation
	if c.MQTT.OverrideURL == "" && len(c.MQTT.Candidates) == 0 {
		errs = append(errs, "mqtt.candidates must list at least one broker (or set AQUANEXT_MQTT_URL)")
	}
	if !strings.HasPrefix(c.MQTT.MountPath, "/") {
		errs = append(errs, "mqtt.mount_path must start with /")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}
	if c.MQTT.Reconnect.Enabled && c.MQTT.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be positive when reconnect is enabled")
	}

	errs = append(errs, c.Facility.validate()...)

	if c.Telemetry.QueueSize <= 0 {
		errs = append(errs, "telemetry.queue_size must be positive")
	}

	switch c.Mode.Initial {
	case "flow", "ras":
	default:
		errs = append(errs, "mode.initial must be flow or ras")
	}
	if c.Mode.PendingTimeout < 0 {
		errs = append(errs, "mode.pending_timeout must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (f FacilityConfig) validate() []string {
	var errs []string

	if strings.Trim(f.TopicRoot, "/") == "" {
		errs = append(errs, "facility.topic_root is required")
	}

	seen := make(map[string]bool, len(f.Tanks))
	for i, t := range f.Tanks {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("facility.tanks[%d].id is required", i))
			continue
		}
		if strings.Contains(t.ID, "/") {
			errs = append(errs, fmt.Sprintf("facility.tanks[%d].id must not contain /", i))
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("facility.tanks[%d].id %q is duplicated", i, t.ID))
		}
		seen[t.ID] = true
		switch t.Type {
		case "grow", "filter", "sea":
		default:
			errs = append(errs, fmt.Sprintf("facility.tanks[%d].type must be grow, filter or sea", i))
		}
	}

	if f.Mirror.Source != "" {
		for _, target := range f.Mirror.Targets {
			if target == f.Mirror.Source {
				errs = append(errs, "facility.mirror.targets must not include the source tank")
			}
		}
	}

	return errs
}

// GetConnectTimeout returns the per-candidate connect timeout as a Duration.
func (c MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetKeepAlive returns the MQTT keepalive interval as a Duration.
func (c MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// GetPendingTimeout returns the optimistic mode hold window as a Duration.
func (c ModeConfig) GetPendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
