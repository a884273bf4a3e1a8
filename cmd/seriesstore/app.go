package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/vjranagit/seriesstore/internal/config"
	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/catalog"
	"github.com/vjranagit/seriesstore/pkg/manager"
	"github.com/vjranagit/seriesstore/pkg/provider"
	"github.com/vjranagit/seriesstore/pkg/refresh"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/storage"
)

// configPath is the -config flag shared by every command
var configPath = os.Getenv("SERIESSTORE_CONFIG")

// app wires the components every command needs
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   storage.ByteStore
	comp    *storage.Compressor
	gateway *storage.Gateway
	catalog *catalog.Catalog
	refresh *refresh.Orchestrator
	manager *manager.Manager
	defs    []catalog.Definition
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Log.JSON)
	log := logging.Component("main")

	sc := cfg.ToStorageConfig()
	store, err := storage.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	comp, err := storage.NewCompressor(sc.CompressionLevel)
	if err != nil {
		store.Close()
		return nil, err
	}
	log.Debug("storage opened", "backend", sc.Backend, "path", sc.Path)

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		comp:    comp,
		gateway: storage.NewGateway(store, comp, sc.KeyPrefix, nil),
		catalog: catalog.New(),
	}

	policy := series.Policy{}
	a.refresh = refresh.New(a.catalog, a.gateway, refresh.Options{
		Policy:       policy,
		FetchTimeout: cfg.Refresh.FetchTimeout,
		Parallelism:  cfg.Refresh.Parallelism,
	})
	client := &http.Client{Timeout: cfg.Server.Timeout}
	a.manager = manager.New(a.catalog, a.gateway, a.refresh, manager.Options{
		Policy:      policy,
		Client:      client,
		Parallelism: cfg.Refresh.Parallelism,
	})

	if err := a.buildDefinitions(client); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildDefinitions turns the configured series into catalog definitions.
// All providers share one rate limiter.
func (a *app) buildDefinitions(client *http.Client) error {
	limit := rate.Inf
	if a.cfg.Refresh.RateLimit > 0 {
		limit = rate.Limit(a.cfg.Refresh.RateLimit)
	}
	deps := provider.Deps{
		Client:  client,
		Limiter: rate.NewLimiter(limit, 1),
	}

	for _, sc := range a.cfg.Series {
		fetcher, err := provider.New(sc.Provider, deps)
		if err != nil {
			return fmt.Errorf("series %s: %w", sc.Name, err)
		}
		a.defs = append(a.defs, catalog.Definition{
			Name:        sc.Name,
			Source:      sc.Source,
			TextColumns: sc.TextColumns,
			Fetcher:     fetcher,
		})
	}
	return nil
}

// selected returns the definitions named in names, or all of them
func (a *app) selected(names []string) ([]catalog.Definition, error) {
	if len(names) == 0 {
		return a.defs, nil
	}
	byName := make(map[string]catalog.Definition, len(a.defs))
	for _, d := range a.defs {
		byName[d.Name] = d
	}
	out := make([]catalog.Definition, 0, len(names))
	for _, n := range names {
		d, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not configured", catalog.ErrNotFound, n)
		}
		out = append(out, d)
	}
	return out, nil
}

// populate registers name and loads it without contacting its provider
func (a *app) populate(ctx context.Context, name string) (*series.Series, error) {
	defs, err := a.selected([]string{name})
	if err != nil {
		return nil, err
	}
	if _, err := a.catalog.Register(defs[0]); err != nil {
		return nil, err
	}
	out, err := a.manager.Populate(ctx, name)
	if err != nil {
		return nil, err
	}
	if out.Err != nil {
		a.log.Warn("series loaded without seed", "series", name, "error", out.Err)
	}
	return a.catalog.Lookup(name)
}

func (a *app) Close() {
	if a.comp != nil {
		a.comp.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close storage", "error", err)
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
