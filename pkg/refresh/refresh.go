// Package refresh brings stale series up to date from their fetch
// capability and persists the result.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/catalog"
	"github.com/vjranagit/seriesstore/pkg/provider"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// State is the progress of one refresh
type State int

const (
	Unchecked State = iota
	// Current means the series was refreshed today; nothing was fetched.
	Current
	Fetching
	Merging
	Done
	DoneWithError
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Current:
		return "current"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	case Done:
		return "done"
	case DoneWithError:
		return "done_with_error"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result reports what a refresh did. Err carries a fetch failure; it is
// informational and never means the series was modified.
type Result struct {
	Series    string `json:"series"`
	State     State  `json:"state"`
	Received  int    `json:"received"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Discarded int    `json:"discarded"`
	Saved     bool   `json:"saved"`
	Err       error  `json:"-"`
}

// Saver persists a series
type Saver interface {
	Save(ctx context.Context, s *series.Series) error
}

// Options configure an Orchestrator
type Options struct {
	Policy series.Policy
	// FetchTimeout bounds one fetch; zero means no bound.
	FetchTimeout time.Duration
	// Parallelism bounds RefreshAll; values below 1 mean 4.
	Parallelism int
	Log         *slog.Logger
}

// Orchestrator runs refreshes against a catalog. Refreshes of one series
// are serialized by the catalog entry lock, and concurrent requests for the
// same series share a single run.
type Orchestrator struct {
	cat         *catalog.Catalog
	saver       Saver
	policy      series.Policy
	timeout     time.Duration
	parallelism int
	log         *slog.Logger

	group singleflight.Group
}

// New creates an orchestrator
func New(cat *catalog.Catalog, saver Saver, opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = logging.Component("refresh")
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	return &Orchestrator{
		cat:         cat,
		saver:       saver,
		policy:      opts.Policy,
		timeout:     opts.FetchTimeout,
		parallelism: opts.Parallelism,
		log:         opts.Log,
	}
}

// Refresh updates name if it is not current. The error is non-nil only
// when the series is unknown.
func (o *Orchestrator) Refresh(ctx context.Context, name string) (Result, error) {
	return o.run(ctx, name, false)
}

// ForceRefresh fetches regardless of freshness
func (o *Orchestrator) ForceRefresh(ctx context.Context, name string) (Result, error) {
	return o.run(ctx, name, true)
}

func (o *Orchestrator) run(ctx context.Context, name string, force bool) (Result, error) {
	key := name
	if force {
		key += "\x00force"
	}
	// the first caller's context drives a shared run
	v, err, shared := o.group.Do(key, func() (any, error) {
		return o.refresh(ctx, name, force)
	})
	if shared {
		o.log.Debug("joined in-flight refresh", "series", name)
	}
	if err != nil {
		return Result{Series: name, State: Unchecked}, err
	}
	return v.(Result), nil
}

func (o *Orchestrator) refresh(ctx context.Context, name string, force bool) (Result, error) {
	res := Result{Series: name, State: Unchecked}
	err := o.cat.Exclusive(name, func(cur *series.Series, def catalog.Definition, _ catalog.Replacer) error {
		if !force && !o.policy.NeedsRefresh(cur) {
			res.State = Current
			return nil
		}
		if def.Fetcher == nil {
			o.log.Debug("series has no update strategy", "series", name)
			res.State = Done
			return nil
		}

		res.State = Fetching
		lastDate, _ := cur.Last()
		rows, err := o.fetch(ctx, def.Fetcher, lastDate)
		if err != nil {
			o.log.Warn("fetch failed, series unchanged", "series", name, "last_date", lastDate, "error", err)
			res.State = DoneWithError
			res.Err = fmt.Errorf("failed to fetch %s: %w", name, err)
			return nil
		}
		res.Received = len(rows)
		if len(rows) == 0 {
			o.log.Debug("no new rows", "series", name, "last_date", lastDate)
			res.State = Done
			return nil
		}

		res.State = Merging
		if sch, ok := def.Fetcher.(provider.Schemer); ok {
			keyHeader, cols := sch.Schema()
			if cur.Adopt(keyHeader, cols) {
				o.log.Info("adopted provider schema", "series", name, "columns", len(cols))
			}
		}

		records, discarded := Merge(cur.Schema(), lastDate, rows)
		res.Discarded = discarded
		res.Inserted, res.Updated = cur.UpsertBatch(records)
		if discarded > 0 {
			o.log.Debug("discarded fetched rows", "series", name, "last_date", lastDate, "count", discarded)
		}

		cur.Touch(o.now())
		res.Saved = o.saver.Save(ctx, cur) == nil
		res.State = Done

		o.log.Info("series refreshed",
			"series", name,
			"received", res.Received,
			"inserted", res.Inserted,
			"updated", res.Updated,
			"discarded", res.Discarded,
		)
		return nil
	})
	return res, err
}

func (o *Orchestrator) fetch(ctx context.Context, f provider.Fetcher, lastDate string) ([]types.Observation, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return f.Fetch(ctx, lastDate)
}

func (o *Orchestrator) now() time.Time {
	if o.policy.Now != nil {
		return o.policy.Now().UTC()
	}
	return time.Now().UTC()
}

// Merge turns fetched rows into records for columns. Rows whose date does
// not strictly follow lastDate, and rows whose field count differs from
// the column count, are discarded. An empty lastDate accepts every date.
func Merge(columns []types.Column, lastDate string, rows []types.Observation) (records []types.Record, discarded int) {
	records = make([]types.Record, 0, len(rows))
	for _, r := range rows {
		if r.Date == "" || (lastDate != "" && r.Date <= lastDate) || len(r.Fields) != len(columns) {
			discarded++
			continue
		}
		row := make(types.Row, len(columns))
		for i, c := range columns {
			if c.Kind == types.Text {
				row[c.Name] = types.TextValue(strconv.FormatFloat(r.Fields[i], 'f', -1, 64))
			} else {
				row[c.Name] = types.NumberValue(r.Fields[i])
			}
		}
		records = append(records, types.Record{Key: r.Date, Row: row})
	}
	return records, discarded
}

// RefreshAll refreshes every registered series, different series in
// parallel. Results follow catalog name order.
func (o *Orchestrator) RefreshAll(ctx context.Context) []Result {
	names := o.cat.Names()
	results := make([]Result, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, name := range names {
		g.Go(func() error {
			res, err := o.Refresh(ctx, name)
			if err != nil {
				res.State = DoneWithError
				res.Err = err
			}
			results[i] = res
			// per-series failures stay in results
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Watch runs RefreshAll every interval until ctx is done
func (o *Orchestrator) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, res := range o.RefreshAll(ctx) {
				if res.Err != nil {
					o.log.Warn("periodic refresh failed", "series", res.Series, "error", res.Err)
				}
			}
		}
	}
}
