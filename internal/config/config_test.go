package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vjranagit/seriesstore/pkg/provider"
)

const sample = `
server:
  listen_addr: ":8080"
storage:
  backend: sqlite
  path: /var/lib/seriesstore
  compression_level: 2
refresh:
  fetch_timeout: 10s
  interval: 6h
  parallelism: 2
series:
  - name: CPI_U
    source: https://example.org/cpi.csv
    provider:
      kind: bls
      series_id: CUUR0000SA0
  - name: BTC
    source: data/btc.csv
    text_columns: [note]
    provider:
      kind: kraken
      pair: XBTUSD
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.Server.ListenAddr)
	}
	// defaults survive fields the file does not set
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout, got %v", cfg.Server.Timeout)
	}
	if cfg.Refresh.FetchTimeout != 10*time.Second || cfg.Refresh.Interval != 6*time.Hour {
		t.Errorf("Unexpected refresh config %+v", cfg.Refresh)
	}
	if len(cfg.Series) != 2 {
		t.Fatalf("Expected 2 series, got %d", len(cfg.Series))
	}
	if cfg.Series[1].Provider.Pair != "XBTUSD" || cfg.Series[1].TextColumns[0] != "note" {
		t.Errorf("Unexpected series %+v", cfg.Series[1])
	}

	sc := cfg.ToStorageConfig()
	if sc.Backend != "sqlite" || sc.Path != "/var/lib/seriesstore" || sc.KeyPrefix != "series/" {
		t.Errorf("Unexpected storage config %+v", sc)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.CompressionLevel != 3 {
		t.Errorf("Unexpected defaults %+v", cfg.Storage)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_PATH", "/tmp/series")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("COMPRESSION_LEVEL", "4")
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("FETCH_TIMEOUT", "1m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_JSON", "true")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Path != "/tmp/series" || cfg.Storage.Backend != "memory" || cfg.Storage.CompressionLevel != 4 {
		t.Errorf("Storage env not applied: %+v", cfg.Storage)
	}
	if cfg.Server.ListenAddr != ":7070" || cfg.Refresh.FetchTimeout != time.Minute {
		t.Errorf("Env not applied: %s %v", cfg.Server.ListenAddr, cfg.Refresh.FetchTimeout)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("Log env not applied: %+v", cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"memory without path", func(c *Config) { c.Storage.Backend = "memory"; c.Storage.Path = "" }, true},
		{"badger without path", func(c *Config) { c.Storage.Path = "" }, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, false},
		{"compression too high", func(c *Config) { c.Storage.CompressionLevel = 5 }, false},
		{"no listen addr", func(c *Config) { c.Server.ListenAddr = "" }, false},
		{"zero parallelism", func(c *Config) { c.Refresh.Parallelism = 0 }, false},
		{"negative interval", func(c *Config) { c.Refresh.Interval = -time.Second }, false},
		{"unnamed series", func(c *Config) { c.Series = []SeriesConfig{{}} }, false},
		{"duplicate series", func(c *Config) { c.Series = []SeriesConfig{{Name: "a"}, {Name: "a"}} }, false},
		{"kraken without pair", func(c *Config) {
			c.Series = []SeriesConfig{{Name: "btc", Provider: provider.Config{Kind: "kraken"}}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Series = []SeriesConfig{{Name: "eth", Provider: provider.Config{Kind: "coinbase"}}}
	if err := cfg.Validate(); !errors.Is(err, provider.ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}
