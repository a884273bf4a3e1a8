package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/seriesstore/pkg/provider"
	"github.com/vjranagit/seriesstore/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Refresh RefreshConfig  `yaml:"refresh"`
	Log     LogConfig      `yaml:"log"`
	Series  []SeriesConfig `yaml:"series"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	Path             string `yaml:"path"`
	CompressionLevel int    `yaml:"compression_level"`
	KeyPrefix        string `yaml:"key_prefix"`
}

// RefreshConfig controls provider fetches
type RefreshConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Parallelism  int           `yaml:"parallelism"`
	// Interval between freshness checks in serve; zero disables them.
	Interval time.Duration `yaml:"interval"`
	// RateLimit is the provider request budget per second, shared by all
	// series.
	RateLimit float64 `yaml:"rate_limit"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SeriesConfig declares one series
type SeriesConfig struct {
	Name        string          `yaml:"name"`
	Source      string          `yaml:"source"`
	TextColumns []string        `yaml:"text_columns"`
	Provider    provider.Config `yaml:"provider"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:          storage.BackendBadger,
			Path:             "./data",
			CompressionLevel: 3,
			KeyPrefix:        "series/",
		},
		Refresh: RefreshConfig{
			FetchTimeout: 30 * time.Second,
			Parallelism:  4,
			Interval:     time.Hour,
			RateLimit:    1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.CompressionLevel = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel)
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Refresh.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", c.Refresh.FetchTimeout)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.JSON = getEnvBool("LOG_JSON", c.Log.JSON)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Backend:          c.Storage.Backend,
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		KeyPrefix:        c.Storage.KeyPrefix,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	switch c.Storage.Backend {
	case storage.BackendBadger, storage.BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case storage.BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Refresh.FetchTimeout < 0 || c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh durations must not be negative")
	}
	if c.Refresh.Parallelism < 1 {
		return fmt.Errorf("refresh parallelism must be at least 1")
	}
	if c.Refresh.RateLimit < 0 {
		return fmt.Errorf("refresh rate limit must not be negative")
	}

	seen := make(map[string]bool, len(c.Series))
	var errs []error
	for i, s := range c.Series {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("series %d: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("series %s: duplicate name", s.Name))
		}
		seen[s.Name] = true
		switch s.Provider.Kind {
		case "", "none":
		case "kraken":
			if s.Provider.Pair == "" {
				errs = append(errs, fmt.Errorf("series %s: kraken provider requires a pair", s.Name))
			}
		case "bls":
			if s.Provider.SeriesID == "" {
				errs = append(errs, fmt.Errorf("series %s: bls provider requires a series_id", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("series %s: %w: %q", s.Name, provider.ErrUnknownKind, s.Provider.Kind))
		}
	}
	return errors.Join(errs...)
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
