package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/goccy/go-json"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// ErrCorruptSnapshot marks a stored blob that cannot be decoded
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Gateway saves and loads whole series snapshots to a ByteStore.
// Each series lives under prefix+name.
type Gateway struct {
	store  ByteStore
	comp   *Compressor
	prefix string
	log    *slog.Logger
}

// NewGateway creates a gateway over store. A nil logger uses the
// "storage" component logger.
func NewGateway(store ByteStore, comp *Compressor, prefix string, log *slog.Logger) *Gateway {
	if log == nil {
		log = logging.Component("storage")
	}
	return &Gateway{store: store, comp: comp, prefix: prefix, log: log}
}

// StorageKey returns the byte store key for a series name
func (g *Gateway) StorageKey(name string) string {
	return g.prefix + name
}

// Save writes the snapshot of s. Failures are logged and returned; the
// in-memory series stays authoritative either way.
func (g *Gateway) Save(ctx context.Context, s *series.Series) error {
	blob, err := g.Encode(s.Snapshot())
	if err != nil {
		g.log.Warn("failed to encode snapshot", "series", s.Name(), "error", err)
		return err
	}
	if err := g.store.Set(ctx, g.StorageKey(s.Name()), blob); err != nil {
		g.log.Warn("failed to save snapshot", "series", s.Name(), "error", err)
		return err
	}
	g.log.Debug("snapshot saved", "series", s.Name(), "records", s.Len(), "bytes", len(blob))
	return nil
}

// Load reads the snapshot of a series. A miss, a storage error or a
// corrupt payload all come back as absent.
func (g *Gateway) Load(ctx context.Context, name string) (*types.Snapshot, bool) {
	blob, ok, err := g.store.Get(ctx, g.StorageKey(name))
	if err != nil {
		g.log.Warn("failed to load snapshot", "series", name, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	snap, err := g.Decode(blob)
	if err != nil {
		g.log.Warn("discarding unreadable snapshot", "series", name, "error", err)
		return nil, false
	}
	if snap.Name != name {
		g.log.Warn("discarding snapshot of another series", "series", name, "found", snap.Name)
		return nil, false
	}
	return snap, true
}

// Encode serializes and compresses a snapshot
func (g *Gateway) Encode(snap *types.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return g.comp.Compress(data), nil
}

// Decode reverses Encode and checks the record order
func (g *Gateway) Decode(blob []byte) (*types.Snapshot, error) {
	data, err := g.comp.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snap.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrCorruptSnapshot)
	}
	ascending := sort.SliceIsSorted(snap.Records, func(i, j int) bool {
		return snap.Records[i].Key < snap.Records[j].Key
	})
	if !ascending {
		return nil, fmt.Errorf("%w: records out of order", ErrCorruptSnapshot)
	}
	return &snap, nil
}
