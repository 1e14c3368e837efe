// Package config provides configuration management for the social OAuth server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including server port, token-store selection,
// state-store selection, proxy configuration, and per-platform OAuth credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// AuthDir is the directory used by the file-backed token store.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// Debug enables verbose logging when true.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile redirects application logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// RequestLog enables or disables HTTP request logging.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// LogsMaxTotalSizeMB caps the total size of the log directory. When the
	// limit is exceeded the oldest rotated files are removed. Zero disables
	// the cleanup.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// StateTTLMinutes bounds the lifetime of pending authorization state entries.
	// Defaults to 30 when unset.
	StateTTLMinutes int `yaml:"state-ttl-minutes" json:"state-ttl-minutes"`

	// StateStore selects the backend that holds pending CSRF state.
	StateStore StateStoreConfig `yaml:"state-store" json:"state-store"`

	// TokenStore selects the backend that persists OAuth tokens.
	TokenStore TokenStoreConfig `yaml:"token-store" json:"token-store"`

	// Platforms maps a platform identifier (e.g. "youtube", "tiktok") to its
	// OAuth client credentials. A platform listed here with an empty client-id
	// is reported as unavailable rather than rejected at startup.
	Platforms map[string]PlatformCredentials `yaml:"platforms" json:"platforms"`
}

// PlatformCredentials holds the operator-supplied OAuth client settings for one platform.
type PlatformCredentials struct {
	// ClientID is the OAuth client identifier issued by the platform.
	ClientID string `yaml:"client-id" json:"client-id"`

	// ClientSecret is the OAuth client secret. Supports ${ENV_VAR} expansion.
	ClientSecret string `yaml:"client-secret" json:"client-secret"`

	// RedirectURI is the callback URL registered with the platform.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// Scopes overrides the default scope set requested during authorization.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// FallbackTokenTTLHours overrides the assumed token lifetime for vendors
	// that omit an expiry from their token responses. Zero keeps the built-in
	// platform default.
	FallbackTokenTTLHours int `yaml:"fallback-token-ttl-hours,omitempty" json:"fallback-token-ttl-hours,omitempty"`
}

// StateStoreConfig selects and configures the pending-state backend.
type StateStoreConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend" json:"backend"`

	// Redis configures the Redis backend when selected.
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig captures connection settings for a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// TokenStoreConfig selects and configures the token persistence backend.
type TokenStoreConfig struct {
	// Backend is "file" (default), "postgres", or "object".
	Backend string `yaml:"backend" json:"backend"`

	// Postgres configures the PostgreSQL backend when selected.
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`

	// Object configures the S3-compatible object storage backend when selected.
	Object ObjectConfig `yaml:"object" json:"object"`
}

// PostgresConfig captures connection settings for the PostgreSQL token store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string. Supports ${ENV_VAR} expansion.
	DSN string `yaml:"dsn" json:"dsn"`

	// Table overrides the default token table name.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
}

// ObjectConfig captures connection settings for an S3-compatible object store.
type ObjectConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv substitutes ${VAR} references with values from the process environment.
// Unset variables expand to an empty string.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		return []byte(os.Getenv(name))
	})
}

// LoadConfig reads the YAML configuration file at path, expands ${ENV_VAR}
// references, applies defaults, and returns the parsed configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s failed: %w", path, err)
	}

	var cfg Config
	if err = yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s failed: %w", path, err)
	}

	cfg.applyDefaults()
	if cfg.AuthDir, err = resolveDir(cfg.AuthDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.AuthDir == "" {
		c.AuthDir = "~/.socialauth"
	}
	if c.StateTTLMinutes <= 0 {
		c.StateTTLMinutes = 30
	}
	if c.StateStore.Backend == "" {
		c.StateStore.Backend = "memory"
	}
	if c.TokenStore.Backend == "" {
		c.TokenStore.Backend = "file"
	}
}

// resolveDir expands a leading "~" to the current user's home directory and
// converts the result to an absolute path.
func resolveDir(dir string) (string, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home dir failed: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("config: resolve auth dir failed: %w", err)
	}
	return abs, nil
}
