package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "SAKA"

// Config represents the complete application configuration.
//
// Environment names are derived from field names (split_words) rather than
// envconfig tags: a tag doubles as an unprefixed fallback, which would let
// PORT or PATH from the host environment leak in.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	License  LicenseConfig  `yaml:"license"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	CORS      CORSConfig      `yaml:"cors"`
}

// RateLimitConfig limits activation and verification attempts.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// CORSConfig lists the browser origins allowed to call the API. "*" allows
// any origin; with no origins listed no cross-origin request is allowed.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// LicenseConfig controls where the activated license lives, how long a
// single hardware probe may run and which request paths are gated.
type LicenseConfig struct {
	File              string        `yaml:"file"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout" split_words:"true"`
	ProtectedPrefixes []string      `yaml:"protected_prefixes" split_words:"true"`
	ExemptPrefixes    []string      `yaml:"exempt_prefixes" split_words:"true"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"` // "none" or "stdout"
	SampleRatio float64 `yaml:"sample_ratio" split_words:"true"`
	Environment string  `yaml:"environment"`
}

// Load builds the configuration from defaults, an optional YAML file and
// SAKA_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configFile, err)
		}
	}

	// No default tags on the struct: unset variables leave file/default values alone.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if cfg.License.File == "" {
		path, err := DefaultLicenseFile()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve license file: %w", err)
		}
		cfg.License.File = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the configuration and normalizes logging values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.License.ProbeTimeout <= 0 {
		return fmt.Errorf("license probe timeout must be positive")
	}

	for _, prefix := range append(append([]string{}, c.License.ProtectedPrefixes...), c.License.ExemptPrefixes...) {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("license path prefix %q must start with /", prefix)
		}
	}

	for _, origin := range c.Security.CORS.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors origin %q must be * or an http(s) origin", origin)
		}
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	// Logs are always JSON
	c.Logging.Format = "json"

	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "":
		c.Tracing.Exporter = "none"
	default:
		return fmt.Errorf("unsupported trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// getConfigFilePath returns the path to the config file, or "" if none exists
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     2,
				Burst:   10,
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: append([]string{}, DefaultAllowedOrigins...),
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		License: LicenseConfig{
			ProbeTimeout:      DefaultProbeTimeout,
			ProtectedPrefixes: append([]string{}, DefaultProtectedPrefixes...),
			ExemptPrefixes:    append([]string{}, DefaultExemptPrefixes...),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1.0,
			Environment: "production",
		},
	}
}
