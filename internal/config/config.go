package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration, loadable from a YAML file
// and overlaid with environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Render       RenderConfig       `yaml:"render"`
	ConfigSource ConfigSourceConfig `yaml:"config_source"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port             int           `yaml:"port"`
	HTTPSPort        int           `yaml:"https_port"`
	TLSCertPath      string        `yaml:"tls_cert_path"`
	TLSKeyPath       string        `yaml:"tls_key_path"`
	ForceHTTPToHTTPS bool          `yaml:"force_http_to_https"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig points at the sqlite file used for admin settings and
// the audit trail only — dispatch state is never persisted.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DispatchConfig holds the timing knobs the state machine and sweeper
// use. PresenceWindow and SweepInterval stay as package constants in
// internal/core: they're protocol-shaped choices, not deployment knobs,
// and letting them vary independently per install risks contradicting
// the poll-interval assumptions the printer firmware itself hard-codes.
type DispatchConfig struct {
	OfferTimeout time.Duration `yaml:"offer_timeout"`
	SentTimeout  time.Duration `yaml:"sent_timeout"`
}

type RenderConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ConfigSourceConfig configures the remote tenant/serial mapping feed.
// Fallback is a small inline seed so a fresh deployment with no reachable
// mapping service still has something to dispatch against.
type ConfigSourceConfig struct {
	URL      string          `yaml:"url"`
	Interval time.Duration   `yaml:"interval"`
	Fallback []FallbackEntry `yaml:"fallback"`
}

type FallbackEntry struct {
	Tenant string `yaml:"tenant"`
	Serial string `yaml:"serial"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			HTTPSPort:        8443,
			ForceHTTPToHTTPS: false,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/cloudprnt.db",
		},
		Dispatch: DispatchConfig{
			OfferTimeout: 10 * time.Second,
			SentTimeout:  20 * time.Second,
		},
		Render: RenderConfig{
			Concurrency: 2,
			Timeout:     15 * time.Second,
		},
		ConfigSource: ConfigSourceConfig{
			Interval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configPath if present, overlaying it on top of defaults. A
// missing file is not an error: a fresh install runs entirely on
// defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables onto an already-loaded config,
// for the handful of settings operators expect to override without
// editing the YAML file, mainly container deployments.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("HTTPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPSPort = port
		}
	}

	if v := os.Getenv("CLOUDPRNT_TLS_CERT"); v != "" {
		cfg.Server.TLSCertPath = v
	}

	if v := os.Getenv("CLOUDPRNT_TLS_KEY"); v != "" {
		cfg.Server.TLSKeyPath = v
	}

	if v := os.Getenv("FORCE_HTTP_TO_HTTPS"); v != "" {
		cfg.Server.ForceHTTPToHTTPS = v == "1" || v == "true"
	}

	if v := os.Getenv("CLOUDPRNT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CLOUDPRNT_RENDER_ENDPOINT"); v != "" {
		cfg.Render.Endpoint = v
	}

	if v := os.Getenv("CLOUDPRNT_CONFIG_SOURCE_URL"); v != "" {
		cfg.ConfigSource.URL = v
	}

	if v := os.Getenv("CLOUDPRNT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects configurations that would put the process into an
// unrecoverable or nonsensical state at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.HTTPSPort != 0 && (c.Server.HTTPSPort < 1 || c.Server.HTTPSPort > 65535) {
		return fmt.Errorf("server https_port must be between 1 and 65535, got %d", c.Server.HTTPSPort)
	}

	if c.Server.ForceHTTPToHTTPS && (c.Server.TLSCertPath == "" || c.Server.TLSKeyPath == "") {
		return fmt.Errorf("force_http_to_https requires tls_cert_path and tls_key_path")
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Dispatch.OfferTimeout <= 0 {
		return fmt.Errorf("dispatch offer_timeout must be positive")
	}

	if c.Dispatch.SentTimeout <= 0 {
		return fmt.Errorf("dispatch sent_timeout must be positive")
	}

	if c.Render.Concurrency < 1 {
		return fmt.Errorf("render concurrency must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
