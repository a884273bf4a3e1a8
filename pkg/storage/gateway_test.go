package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

type failingStore struct{ MemoryStore }

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (f *failingStore) Set(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

func newTestGateway(t *testing.T, store ByteStore) *Gateway {
	t.Helper()
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	t.Cleanup(comp.Close)
	return NewGateway(store, comp, "series/", logging.Discard())
}

func sampleSeries() *series.Series {
	schema := []types.Column{
		{Name: "CPI", Kind: types.Number},
		{Name: "daily_multiplicator", Kind: types.Number},
		{Name: "note", Kind: types.Text},
	}
	return series.NewBulk("CPI_U", "timestamp", schema, []types.Record{
		{Key: "2008-01-10", Row: types.Row{"CPI": types.NumberValue(211.5), "daily_multiplicator": types.NumberValue(1.000075)}},
		{Key: "2008-01-08", Row: types.Row{"CPI": types.NumberValue(210.8), "note": types.TextValue("seed")}},
		{Key: "2008-01-09", Row: types.Row{"CPI": types.NumberValue(211.2032), "daily_multiplicator": types.NumberValue(1.000081)}},
	}, time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC))
}

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t, NewMemoryStore())
	s := sampleSeries()

	if err := gw.Save(ctx, s); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	snap, ok := gw.Load(ctx, "CPI_U")
	if !ok {
		t.Fatal("Expected snapshot to load")
	}
	back := series.FromSnapshot(snap)

	if !slices.Equal(back.Headers(), s.Headers()) {
		t.Errorf("Headers mismatch: %v vs %v", back.Headers(), s.Headers())
	}
	if !slices.Equal(back.Schema(), s.Schema()) {
		t.Errorf("Schema mismatch: %v vs %v", back.Schema(), s.Schema())
	}
	if !slices.Equal(back.Keys(), s.Keys()) {
		t.Errorf("Order mismatch: %v vs %v", back.Keys(), s.Keys())
	}
	for _, key := range s.Keys() {
		want, _ := s.Get(key)
		got, _ := back.Get(key)
		if !maps.Equal(want, got) {
			t.Errorf("Record %s mismatch: %v vs %v", key, got, want)
		}
	}
	if !back.LastRefreshed().Equal(s.LastRefreshed()) {
		t.Errorf("LastRefreshed mismatch: %v vs %v", back.LastRefreshed(), s.LastRefreshed())
	}
}

func TestGatewayKeysArePerSeries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gw := newTestGateway(t, store)

	gw.Save(ctx, sampleSeries())
	gw.Save(ctx, series.New("XBTUSD"))

	if _, ok, _ := store.Get(ctx, "series/CPI_U"); !ok {
		t.Error("Expected CPI_U under its prefixed key")
	}
	if _, ok, _ := store.Get(ctx, "series/XBTUSD"); !ok {
		t.Error("Expected XBTUSD under its prefixed key")
	}
	snap, ok := gw.Load(ctx, "CPI_U")
	if !ok || len(snap.Records) != 3 {
		t.Errorf("Saving XBTUSD clobbered CPI_U: %+v", snap)
	}
}

func TestGatewayMissIsAbsent(t *testing.T) {
	gw := newTestGateway(t, NewMemoryStore())
	if _, ok := gw.Load(context.Background(), "nothing"); ok {
		t.Error("Expected miss")
	}
}

func TestGatewayCorruptIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gw := newTestGateway(t, store)

	store.Set(ctx, "series/garbage", []byte("not a snapshot"))
	if _, ok := gw.Load(ctx, "garbage"); ok {
		t.Error("Garbage payload must load as absent")
	}

	// compressed but not JSON
	store.Set(ctx, "series/halfway", gw.comp.Compress([]byte("{{{")))
	if _, ok := gw.Load(ctx, "halfway"); ok {
		t.Error("Undecodable payload must load as absent")
	}

	// valid snapshot stored under the wrong key
	blob, err := gw.Encode(sampleSeries().Snapshot())
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	store.Set(ctx, "series/other", blob)
	if _, ok := gw.Load(ctx, "other"); ok {
		t.Error("Snapshot of another series must load as absent")
	}
}

func TestGatewayDecodeRejectsUnorderedRecords(t *testing.T) {
	gw := newTestGateway(t, NewMemoryStore())
	snap := sampleSeries().Snapshot()
	snap.Records[0], snap.Records[2] = snap.Records[2], snap.Records[0]

	blob, err := gw.Encode(snap)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if _, err := gw.Decode(blob); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("Expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestGatewayStorageFailure(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t, &failingStore{})

	if err := gw.Save(ctx, sampleSeries()); err == nil {
		t.Error("Expected save error to be reported")
	}
	if _, ok := gw.Load(ctx, "CPI_U"); ok {
		t.Error("Load error must come back as absent")
	}
}
