// Package config loads and validates the application configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete application configuration.
type Configuration struct {
	Server   ServerConfig   `yaml:"server"`
	WebDAV   WebDAVConfig   `yaml:"webdav"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the JSON API server.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ControlTimeout time.Duration `yaml:"control_timeout"`
	CORSOrigin     string        `yaml:"cors_origin"`
	CORSHeaders    string        `yaml:"cors_headers"`
}

// WebDAVConfig configures the WebDAV surface.
type WebDAVConfig struct {
	Prefix string `yaml:"prefix"`

	// HeaderOverrides lets the embedder replace or add per-platform protocol
	// response headers.
	HeaderOverrides map[string]string `yaml:"header_overrides"`
}

// DatabaseConfig configures the embedded store.
type DatabaseConfig struct {
	Directory string `yaml:"directory"`
	InMemory  bool   `yaml:"in_memory"`
}

// SecurityConfig holds the process-wide secret encryption key.
type SecurityConfig struct {
	MasterKey string `yaml:"master_key"`
}

// CacheConfig bounds the listing and search caches.
type CacheConfig struct {
	DirectoryTTL   time.Duration `yaml:"directory_ttl"`
	SearchTTL      time.Duration `yaml:"search_ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	CleanupEnabled bool          `yaml:"cleanup_enabled"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfiguration returns the built-in defaults.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Address:        "localhost:8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   0, // unbounded, streaming downloads
			IdleTimeout:    60 * time.Second,
			ControlTimeout: 60 * time.Second,
			CORSOrigin:     "*",
			CORSHeaders:    "Authorization, Content-Type, Depth, Destination, Overwrite",
		},
		WebDAV: WebDAVConfig{
			Prefix: "/dav",
		},
		Database: DatabaseConfig{
			Directory: "data/cloudpaste",
		},
		Cache: CacheConfig{
			DirectoryTTL:   60 * time.Second,
			SearchTTL:      300 * time.Second,
			MaxEntries:     10000,
			CleanupEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cloudpaste",
		},
	}
}

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Configuration, error) {
	cfg := DefaultConfiguration()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) applyEnvironmentOverrides() {
	if v := os.Getenv("CLOUDPASTE_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("CLOUDPASTE_DB_DIR"); v != "" {
		c.Database.Directory = v
	}
	if v := os.Getenv("CLOUDPASTE_MASTER_KEY"); v != "" {
		c.Security.MasterKey = v
	}
	if v := os.Getenv("CLOUDPASTE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CLOUDPASTE_WEBDAV_PREFIX"); v != "" {
		c.WebDAV.Prefix = v
	}
	if v := os.Getenv("CLOUDPASTE_CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			c.Cache.DirectoryTTL = time.Duration(secs) * time.Second
		}
	}
}

// Validate checks invariants the rest of the system assumes.
func (c *Configuration) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if c.Security.MasterKey == "" {
		return fmt.Errorf("security.master_key is required (set CLOUDPASTE_MASTER_KEY)")
	}
	if c.WebDAV.Prefix == "" || c.WebDAV.Prefix[0] != '/' {
		return fmt.Errorf("webdav.prefix must be an absolute path, got %q", c.WebDAV.Prefix)
	}
	if c.Cache.DirectoryTTL < 0 || c.Cache.SearchTTL < 0 {
		return fmt.Errorf("cache TTLs cannot be negative")
	}
	if !c.Database.InMemory && c.Database.Directory == "" {
		return fmt.Errorf("database.directory is required unless in_memory is set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
