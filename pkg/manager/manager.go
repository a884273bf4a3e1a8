// Package manager brings configured series into memory: from a snapshot
// saved today, else from their seed payload, then refreshed when stale.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/catalog"
	"github.com/vjranagit/seriesstore/pkg/ingest"
	"github.com/vjranagit/seriesstore/pkg/refresh"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// Origin tells where the in-memory data of a series came from
type Origin int

const (
	// OriginEmpty means neither snapshot nor seed was usable.
	OriginEmpty Origin = iota
	OriginSnapshot
	OriginSeed
	// OriginStaleSnapshot is a snapshot from an earlier day, used when the
	// seed could not be read.
	OriginStaleSnapshot
)

func (o Origin) String() string {
	switch o {
	case OriginEmpty:
		return "empty"
	case OriginSnapshot:
		return "snapshot"
	case OriginSeed:
		return "seed"
	case OriginStaleSnapshot:
		return "stale_snapshot"
	default:
		return "origin(" + strconv.Itoa(int(o)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Outcome reports one initialization
type Outcome struct {
	Series  string         `json:"series"`
	Origin  Origin         `json:"origin"`
	Ingest  ingest.Report  `json:"ingest"`
	Refresh refresh.Result `json:"refresh"`
	// Err is a seed failure; the series is still usable.
	Err error `json:"-"`
}

// Store is the persistence the manager needs
type Store interface {
	Load(ctx context.Context, name string) (*types.Snapshot, bool)
	Save(ctx context.Context, s *series.Series) error
}

// Options configure a Manager
type Options struct {
	Policy series.Policy
	// Client downloads http(s) seeds.
	Client *http.Client
	// Parallelism bounds InitAll; values below 1 mean 4.
	Parallelism int
	Log         *slog.Logger
}

// Manager initializes series registered in a catalog
type Manager struct {
	cat         *catalog.Catalog
	store       Store
	refresher   *refresh.Orchestrator
	policy      series.Policy
	client      *http.Client
	parallelism int
	log         *slog.Logger
}

// New creates a manager
func New(cat *catalog.Catalog, store Store, refresher *refresh.Orchestrator, opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logging.Component("manager")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	return &Manager{
		cat:         cat,
		store:       store,
		refresher:   refresher,
		policy:      opts.Policy,
		client:      opts.Client,
		parallelism: opts.Parallelism,
		log:         opts.Log,
	}
}

// Init populates a registered series and refreshes it if it is stale.
// The error is non-nil only for an unknown series.
func (m *Manager) Init(ctx context.Context, name string) (Outcome, error) {
	out, err := m.Populate(ctx, name)
	if err != nil {
		return out, err
	}

	res, err := m.refresher.Refresh(ctx, name)
	if err != nil {
		return out, err
	}
	out.Refresh = res

	s, _ := m.cat.Lookup(name)
	m.log.Info("series initialized",
		"series", name,
		"origin", out.Origin.String(),
		"records", s.Len(),
		"refresh", res.State.String(),
	)
	return out, nil
}

// Populate loads a registered series from its snapshot or seed without
// contacting its provider.
func (m *Manager) Populate(ctx context.Context, name string) (Outcome, error) {
	out := Outcome{Series: name}
	err := m.cat.Exclusive(name, func(_ *series.Series, def catalog.Definition, replace catalog.Replacer) error {
		m.populate(ctx, def, replace, &out)
		return nil
	})
	return out, err
}

func (m *Manager) populate(ctx context.Context, def catalog.Definition, replace catalog.Replacer, out *Outcome) {
	name := def.Name
	snap, ok := m.store.Load(ctx, name)
	if ok && snap.LastRefreshed != nil && m.policy.IsCurrent(*snap.LastRefreshed) {
		replace(series.FromSnapshot(snap))
		out.Origin = OriginSnapshot
		m.log.Debug("restored snapshot", "series", name, "records", len(snap.Records))
		return
	}

	if def.Source != "" {
		s, report, err := ingest.Load(ctx, m.client, name, def.Source, ingest.Options{
			TextColumns: def.TextColumns,
			Now:         m.policy.Now,
		})
		out.Ingest = report
		if err == nil {
			replace(s)
			out.Origin = OriginSeed
			// a failed save is logged by the store; memory stays authoritative
			_ = m.store.Save(ctx, s)
			return
		}
		out.Err = fmt.Errorf("failed to ingest %s: %w", name, err)
		m.log.Warn("seed unavailable", "series", name, "source", def.Source, "error", err)
	}

	if ok {
		replace(series.FromSnapshot(snap))
		out.Origin = OriginStaleSnapshot
		return
	}
	out.Origin = OriginEmpty
}

// InitAll registers and initializes every definition, different series in
// parallel. Outcomes follow the order of defs.
func (m *Manager) InitAll(ctx context.Context, defs []catalog.Definition) []Outcome {
	outcomes := make([]Outcome, len(defs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, def := range defs {
		if _, err := m.cat.Register(def); err != nil {
			outcomes[i] = Outcome{Series: def.Name, Err: err}
			continue
		}
		g.Go(func() error {
			out, err := m.Init(ctx, def.Name)
			if err != nil {
				out.Err = err
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	m.log.Info("all series initialized", "count", len(defs), "names", m.cat.Names())
	return outcomes
}
