// Package series implements the in-memory record store of one time series:
// a map from ISO date key to row, plus the ascending key order used for
// range and neighbour queries.
//
// Every exported method is safe for concurrent use. Writers take the series
// lock for the whole mutation, so readers never observe a key that is in the
// order but not in the records, or the reverse.
package series

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vjranagit/seriesstore/pkg/types"
)

// Series is a named, ordered, upsertable set of dated rows.
type Series struct {
	name string

	mu            sync.RWMutex
	keyHeader     string
	schema        []types.Column
	columns       map[string]types.Kind
	records       map[string]types.Row
	order         keyOrder
	lastRefreshed time.Time
}

// New returns an empty series without schema.
func New(name string) *Series {
	return &Series{
		name:    name,
		columns: make(map[string]types.Kind),
		records: make(map[string]types.Row),
	}
}

// NewBulk builds a populated series in one pass: records are placed in the
// map first and the order is sorted once at the end. Later records with a
// key already seen overwrite the earlier fields.
func NewBulk(name, keyHeader string, schema []types.Column, records []types.Record, refreshed time.Time) *Series {
	s := New(name)
	s.setSchema(keyHeader, schema)

	s.order = make(keyOrder, 0, len(records))
	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		row := s.filter(rec.Row)
		if existing, ok := s.records[rec.Key]; ok {
			for k, v := range row {
				existing[k] = v
			}
			continue
		}
		s.records[rec.Key] = row
		s.order = append(s.order, rec.Key)
	}
	sort.Strings(s.order)
	s.lastRefreshed = refreshed
	return s
}

// FromSnapshot rebuilds a series from its persisted form.
func FromSnapshot(snap *types.Snapshot) *Series {
	text := make(map[string]bool, len(snap.TextColumns))
	for _, c := range snap.TextColumns {
		text[c] = true
	}
	schema := make([]types.Column, len(snap.Headers))
	for i, h := range snap.Headers {
		schema[i] = types.Column{Name: h, Kind: types.Number}
		if text[h] {
			schema[i].Kind = types.Text
		}
	}
	var refreshed time.Time
	if snap.LastRefreshed != nil {
		refreshed = *snap.LastRefreshed
	}
	return NewBulk(snap.Name, snap.KeyHeader, schema, snap.Records, refreshed)
}

func (s *Series) setSchema(keyHeader string, schema []types.Column) {
	s.keyHeader = keyHeader
	s.schema = slices.Clone(schema)
	s.columns = make(map[string]types.Kind, len(schema))
	for _, c := range schema {
		s.columns[c.Name] = c.Kind
	}
}

// filter copies the fields of row that belong to the schema; others are dropped.
func (s *Series) filter(row types.Row) types.Row {
	out := make(types.Row, len(row))
	for k, v := range row {
		if _, ok := s.columns[k]; ok {
			out[k] = v
		}
	}
	return out
}

// ErrKindMismatch is returned by Conform for a value its column cannot hold.
var ErrKindMismatch = errors.New("value does not match column kind")

// Conform returns a copy of row that fits the schema: fields outside it
// are dropped, text holding a number becomes a number in a numeric column
// and numbers become their text in a text column. Other text in a numeric
// column is refused.
func (s *Series) Conform(row types.Row) (types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(types.Row, len(row))
	for k, v := range row {
		kind, ok := s.columns[k]
		if !ok {
			continue
		}
		switch {
		case kind == v.Kind():
			out[k] = v
		case kind == types.Text:
			out[k] = types.TextValue(v.String())
		default:
			f, err := types.ParseNumber(strings.TrimSpace(v.String()))
			if err != nil {
				return nil, fmt.Errorf("%w: column %s wants a number, got %q", ErrKindMismatch, k, v.String())
			}
			out[k] = types.NumberValue(f)
		}
	}
	return out, nil
}

// Name returns the series name.
func (s *Series) Name() string { return s.name }

// Adopt installs a schema on a series that has none yet and reports
// whether it did.
func (s *Series) Adopt(keyHeader string, schema []types.Column) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.schema) > 0 {
		return false
	}
	s.setSchema(keyHeader, schema)
	return true
}

// Schema returns the field columns, excluding the date key.
func (s *Series) Schema() []types.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.schema)
}

// Headers returns the field names in schema order.
func (s *Series) Headers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headersLocked()
}

func (s *Series) headersLocked() []string {
	out := make([]string, len(s.schema))
	for i, c := range s.schema {
		out[i] = c.Name
	}
	return out
}

// KeyHeader returns the name of the date column in the seed payload.
func (s *Series) KeyHeader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyHeader
}

// Upsert inserts row under key, or merges its fields into the existing row.
// Fields outside the schema are dropped. It reports whether key was new.
// An empty key is ignored.
func (s *Series) Upsert(key string, row types.Row) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(key, row)
}

// UpsertBatch applies several upserts as one step with respect to readers.
func (s *Series) UpsertBatch(records []types.Record) (inserted, updated int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		if s.upsertLocked(rec.Key, rec.Row) {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated
}

func (s *Series) upsertLocked(key string, row types.Row) bool {
	if existing, ok := s.records[key]; ok {
		for k, v := range row {
			if _, known := s.columns[k]; known {
				existing[k] = v
			}
		}
		return false
	}
	s.records[key] = s.filter(row)
	s.order = s.order.insert(key)
	return true
}

// Get returns a copy of the row stored under key.
func (s *Series) Get(key string) (types.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Range returns the records from start to end inclusive, ascending.
// Both bounds must be existing keys; otherwise the result is empty.
func (s *Series) Range(start, end string) []types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi, ok := s.order.span(start, end)
	if !ok {
		return nil
	}
	out := make([]types.Record, 0, hi-lo+1)
	for _, key := range s.order[lo : hi+1] {
		out = append(out, types.Record{Key: key, Row: s.records[key].Clone()})
	}
	return out
}

// Iterate walks from start, which must exist, through every following key
// up to and including end. Each call restarts from start, and the lock is
// only held while stepping, so the visitor may read the series.
func (s *Series) Iterate(start, end string) iter.Seq2[string, types.Row] {
	return func(yield func(string, types.Row) bool) {
		if _, ok := s.Get(start); !ok {
			return
		}
		key := start
		for key <= end {
			row, ok := s.Get(key)
			if ok && !yield(key, row) {
				return
			}
			next, ok := s.Next(key)
			if !ok {
				return
			}
			key = next
		}
	}
}

// Next returns the key following key.
func (s *Series) Next(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.order.position(key)
	if !ok || i == len(s.order)-1 {
		return "", false
	}
	return s.order[i+1], true
}

// Previous returns the key preceding key.
func (s *Series) Previous(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.order.position(key)
	if !ok || i == 0 {
		return "", false
	}
	return s.order[i-1], true
}

// First returns the smallest key.
func (s *Series) First() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", false
	}
	return s.order[0], true
}

// Last returns the greatest key.
func (s *Series) Last() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", false
	}
	return s.order[len(s.order)-1], true
}

// Keys returns a copy of the ascending key order.
func (s *Series) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone([]string(s.order))
}

// Len returns the number of records.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// LastRefreshed returns the time of the last ingestion or merge; the zero
// time means never.
func (s *Series) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefreshed
}

// Touch records a successful ingestion or merge at t.
func (s *Series) Touch(t time.Time) {
	s.mu.Lock()
	s.lastRefreshed = t
	s.mu.Unlock()
}

// Info summarizes the series.
func (s *Series) Info() types.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := types.Info{
		Name:          s.name,
		TotalRecords:  len(s.order),
		Headers:       s.headersLocked(),
		LastRefreshed: timePtr(s.lastRefreshed),
	}
	if n := len(s.order); n > 0 {
		info.FirstDate = s.order[0]
		info.LastDate = s.order[n-1]
	}
	return info
}

// Snapshot captures the series with records in ascending key order.
func (s *Series) Snapshot() *types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &types.Snapshot{
		Name:          s.name,
		KeyHeader:     s.keyHeader,
		Headers:       s.headersLocked(),
		Records:       make([]types.Record, 0, len(s.order)),
		LastRefreshed: timePtr(s.lastRefreshed),
	}
	for _, c := range s.schema {
		if c.Kind == types.Text {
			snap.TextColumns = append(snap.TextColumns, c.Name)
		}
	}
	for _, key := range s.order {
		snap.Records = append(snap.Records, types.Record{Key: key, Row: s.records[key].Clone()})
	}
	return snap
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
