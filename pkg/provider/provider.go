// Package provider holds the fetch capabilities that bring new rows into a
// series, one adapter per external data source.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// DateFormat is the layout of every date key
const DateFormat = "2006-01-02"

// ErrUnknownKind is returned by New for an unsupported provider kind
var ErrUnknownKind = errors.New("unknown provider kind")

// Fetcher fetches the rows of a series that follow lastDate. lastDate is
// empty when the series has no records. An empty result means nothing new;
// errors are reserved for transport and decoding failures.
type Fetcher interface {
	Fetch(ctx context.Context, lastDate string) ([]types.Observation, error)
}

// Schemer is implemented by fetchers that know the columns they produce,
// so a series without a seed can take its schema from them.
type Schemer interface {
	Schema() (keyHeader string, columns []types.Column)
}

// Config selects and parameterizes an adapter
type Config struct {
	Kind     string `yaml:"kind"`
	Pair     string `yaml:"pair"`
	SeriesID string `yaml:"series_id"`
	BaseURL  string `yaml:"base_url"`
}

// Deps are shared by every adapter built with New
type Deps struct {
	Client  *http.Client
	Limiter *rate.Limiter
	Now     func() time.Time
	Log     *slog.Logger
}

// New builds the adapter described by cfg. Kind "" and "none" yield a nil
// Fetcher: the series has no update strategy.
func New(cfg Config, deps Deps) (Fetcher, error) {
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Log == nil {
		deps.Log = logging.Component("provider")
	}

	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "kraken":
		if cfg.Pair == "" {
			return nil, errors.New("kraken provider requires a pair")
		}
		return &Kraken{
			Pair:    cfg.Pair,
			BaseURL: cfg.BaseURL,
			Client:  deps.Client,
			Limiter: deps.Limiter,
			Log:     deps.Log.With("provider", "kraken", "pair", cfg.Pair),
		}, nil
	case "bls":
		if cfg.SeriesID == "" {
			return nil, errors.New("bls provider requires a series_id")
		}
		return &BLS{
			SeriesID: cfg.SeriesID,
			BaseURL:  cfg.BaseURL,
			Client:   deps.Client,
			Limiter:  deps.Limiter,
			Now:      deps.Now,
			Log:      deps.Log.With("provider", "bls", "series_id", cfg.SeriesID),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Static serves a fixed list of observations. It is used to seed series
// by hand and in tests.
type Static struct {
	KeyHeader    string
	Columns      []types.Column
	Observations []types.Observation
	Err          error
}

// Fetch implements Fetcher
func (s *Static) Fetch(ctx context.Context, _ string) ([]types.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return slices.Clone(s.Observations), nil
}

// Schema implements Schemer
func (s *Static) Schema() (string, []types.Column) {
	return s.KeyHeader, slices.Clone(s.Columns)
}
