package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keysmith configuration file. The
// mapstructure tags let viper unmarshal the same shape from flags and
// KEYSMITH_* environment variables.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	MCP       MCPConfig       `yaml:"mcp" mapstructure:"mcp"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	FloodLimit      int        `yaml:"flood_limit" mapstructure:"flood_limit"`
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// AuthConfig controls key issuance and token signing.
type AuthConfig struct {
	SigningSecret    string `yaml:"signing_secret" mapstructure:"signing_secret"`
	TokenLifetime    string `yaml:"token_lifetime" mapstructure:"token_lifetime"`
	MaxTokenLifetime string `yaml:"max_token_lifetime" mapstructure:"max_token_lifetime"`
	Issuer           string `yaml:"issuer" mapstructure:"issuer"`
	KeyPrefix        string `yaml:"key_prefix" mapstructure:"key_prefix"`
	Environment      string `yaml:"environment" mapstructure:"environment"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// RateLimitConfig tunes the per-client limiter. Categories override or add
// to the built-in category table.
type RateLimitConfig struct {
	SweepInterval string                           `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	GracePeriod   string                           `yaml:"grace_period" mapstructure:"grace_period"`
	Categories    map[string]RateLimitCategoryYAML `yaml:"categories,omitempty" mapstructure:"categories"`
}

// RateLimitCategoryYAML is one category's quota.
type RateLimitCategoryYAML struct {
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	BurstLimit        int    `yaml:"burst_limit" mapstructure:"burst_limit"`
	WindowSize        string `yaml:"window_size" mapstructure:"window_size"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Missing fields keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			FloodLimit:      1000,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			TokenLifetime:    "1h",
			MaxTokenLifetime: "24h",
			Issuer:           "keysmith",
			KeyPrefix:        "ks",
			Environment:      "live",
		},
		Store: StoreConfig{
			Driver:  DialectSQLite,
			Timeout: "5s",
		},
		RateLimit: RateLimitConfig{
			SweepInterval: "1m",
			GracePeriod:   "2m",
		},
		MCP: MCPConfig{
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ParseDuration parses s, returning def when s is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	return d, nil
}
