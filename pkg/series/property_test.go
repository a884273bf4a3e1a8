package series

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/vjranagit/seriesstore/pkg/types"
)

var propSchema = []types.Column{{Name: "v", Kind: types.Number}}

func dateKey() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		y := rapid.IntRange(2000, 2030).Draw(t, "year")
		m := rapid.IntRange(1, 12).Draw(t, "month")
		d := rapid.IntRange(1, 28).Draw(t, "day")
		return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	})
}

func checkInvariant(t *rapid.T, s *Series) {
	keys := s.Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("order not strictly ascending at %d: %q >= %q", i, keys[i-1], keys[i])
		}
	}
	s.mu.RLock()
	mapKeys := slices.Sorted(maps.Keys(s.records))
	s.mu.RUnlock()
	if !slices.Equal(keys, mapKeys) {
		t.Fatalf("order %v differs from record keys %v", keys, mapKeys)
	}
}

func TestPropertySortInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewBulk("p", "date", propSchema, nil, time.Time{})
		keys := rapid.SliceOf(dateKey()).Draw(t, "keys")
		for i, k := range keys {
			s.Upsert(k, types.Row{"v": types.NumberValue(float64(i))})
			checkInvariant(t, s)
		}
	})
}

func TestPropertyUpsertBranches(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewBulk("p", "date", propSchema, nil, time.Time{})
		for _, k := range rapid.SliceOf(dateKey()).Draw(t, "seed") {
			s.Upsert(k, types.Row{"v": types.NumberValue(0)})
		}

		key := dateKey().Draw(t, "key")
		before := s.Keys()
		pos, existed := slices.BinarySearch(before, key)

		inserted := s.Upsert(key, types.Row{"v": types.NumberValue(1)})
		after := s.Keys()

		if existed {
			if inserted || len(after) != len(before) || after[pos] != key {
				t.Fatalf("update branch changed order: before=%v after=%v", before, after)
			}
			return
		}
		if !inserted || len(after) != len(before)+1 {
			t.Fatalf("insert branch did not grow order by one: before=%v after=%v", before, after)
		}
		if after[pos] != key {
			t.Fatalf("key %q not at sort position %d: %v", key, pos, after)
		}
		if pos > 0 && !(after[pos-1] < key) {
			t.Fatalf("predecessor %q not below %q", after[pos-1], key)
		}
		if pos < len(after)-1 && !(key < after[pos+1]) {
			t.Fatalf("successor %q not above %q", after[pos+1], key)
		}
	})
}

func TestPropertyUpsertIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOf(dateKey()).Draw(t, "seed")
		key := dateKey().Draw(t, "key")
		val := rapid.Float64Range(-1e6, 1e6).Draw(t, "val")

		once := NewBulk("p", "date", propSchema, nil, time.Time{})
		twice := NewBulk("p", "date", propSchema, nil, time.Time{})
		for _, k := range keys {
			once.Upsert(k, types.Row{"v": types.NumberValue(1)})
			twice.Upsert(k, types.Row{"v": types.NumberValue(1)})
		}
		row := types.Row{"v": types.NumberValue(val)}
		once.Upsert(key, row)
		twice.Upsert(key, row)
		twice.Upsert(key, row)

		if !slices.Equal(once.Keys(), twice.Keys()) {
			t.Fatalf("order differs: %v vs %v", once.Keys(), twice.Keys())
		}
		a, _ := once.Get(key)
		b, _ := twice.Get(key)
		if !maps.Equal(a, b) {
			t.Fatalf("row differs: %v vs %v", a, b)
		}
	})
}

func TestPropertyRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(dateKey(), 1, 50, rapid.ID[string]).Draw(t, "keys")
		s := NewBulk("p", "date", propSchema, nil, time.Time{})
		for _, k := range keys {
			s.Upsert(k, types.Row{"v": types.NumberValue(1)})
		}
		sort.Strings(keys)

		i := rapid.IntRange(0, len(keys)-1).Draw(t, "i")
		j := rapid.IntRange(i, len(keys)-1).Draw(t, "j")

		var got []string
		for _, rec := range s.Range(keys[i], keys[j]) {
			got = append(got, rec.Key)
		}
		if !slices.Equal(got, keys[i:j+1]) {
			t.Fatalf("Range(%s, %s) = %v, want %v", keys[i], keys[j], got, keys[i:j+1])
		}

		var walked []string
		for k := range s.Iterate(keys[i], keys[j]) {
			walked = append(walked, k)
		}
		if !slices.Equal(walked, got) {
			t.Fatalf("Iterate differs from Range: %v vs %v", walked, got)
		}
	})
}

func TestPropertyBulkMatchesIncremental(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOf(dateKey()).Draw(t, "keys")
		records := make([]types.Record, len(keys))
		inc := NewBulk("p", "date", propSchema, nil, time.Time{})
		for i, k := range keys {
			records[i] = types.Record{Key: k, Row: types.Row{"v": types.NumberValue(float64(i))}}
			inc.Upsert(k, records[i].Row)
		}
		bulk := NewBulk("p", "date", propSchema, records, time.Time{})
		checkInvariant(t, bulk)
		if !slices.Equal(bulk.Keys(), inc.Keys()) {
			t.Fatalf("bulk %v vs incremental %v", bulk.Keys(), inc.Keys())
		}
	})
}
