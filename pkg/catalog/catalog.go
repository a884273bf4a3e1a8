// Package catalog is the registry of series known to a process. It is
// created by the application root and handed to every component that needs
// to find a series by name.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vjranagit/seriesstore/pkg/provider"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// ErrNotFound is returned for a series name the catalog does not hold
var ErrNotFound = errors.New("series not found")

// Definition is what the application registers for a series
type Definition struct {
	Name string
	// Source is the seed payload location (path or URL); may be empty.
	Source string
	// TextColumns are seed columns kept as text.
	TextColumns []string
	// Fetcher refreshes the series; nil means no update strategy.
	Fetcher provider.Fetcher
}

// Entry is the catalog slot of one series. Its lock serializes ingestion
// and refresh of that series.
type Entry struct {
	mu sync.Mutex

	state  sync.RWMutex
	def    Definition
	series *series.Series
}

// Definition returns the registered definition
func (e *Entry) Definition() Definition {
	e.state.RLock()
	defer e.state.RUnlock()
	return e.def
}

// Series returns the current series of the entry
func (e *Entry) Series() *series.Series {
	e.state.RLock()
	defer e.state.RUnlock()
	return e.series
}

// Catalog maps series names to entries
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// Register adds or redefines a series. An existing series keeps its data;
// only its definition changes.
func (c *Catalog) Register(def Definition) (*Entry, error) {
	if def.Name == "" {
		return nil, errors.New("series name is required")
	}
	c.mu.Lock()
	e, ok := c.entries[def.Name]
	if !ok {
		e = &Entry{def: def, series: series.New(def.Name)}
		c.entries[def.Name] = e
	}
	c.mu.Unlock()

	if ok {
		e.state.Lock()
		e.def = def
		e.state.Unlock()
	}
	return e, nil
}

// Entry returns the entry for name
func (c *Catalog) Entry(name string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Lookup returns the series registered under name
func (c *Catalog) Lookup(name string) (*series.Series, error) {
	e, err := c.Entry(name)
	if err != nil {
		return nil, err
	}
	return e.Series(), nil
}

// Exclusive runs fn while holding the entry lock of name. fn may replace
// the series through the Replacer it receives.
func (c *Catalog) Exclusive(name string, fn func(cur *series.Series, def Definition, replace Replacer) error) error {
	e, err := c.Entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.Series(), e.Definition(), func(s *series.Series) {
		e.state.Lock()
		e.series = s
		e.state.Unlock()
	})
}

// Replacer installs a freshly populated series in an entry
type Replacer func(*series.Series)

// Names returns the registered names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Info summarizes one series
func (c *Catalog) Info(name string) (types.Info, error) {
	s, err := c.Lookup(name)
	if err != nil {
		return types.Info{}, err
	}
	return s.Info(), nil
}

// AllInfo summarizes every series, keyed by name
func (c *Catalog) AllInfo() map[string]types.Info {
	out := make(map[string]types.Info)
	for _, name := range c.Names() {
		if info, err := c.Info(name); err == nil {
			out[name] = info
		}
	}
	return out
}
