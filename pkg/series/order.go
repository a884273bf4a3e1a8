package series

import "slices"

// keyOrder is the strictly ascending list of date keys of a series.
//
// Lookup is a binary search. Insertion finds its slot in O(log n)
// comparisons but the positional insert still shifts the tail, so an
// out-of-order insert is O(n); appending past the maximum is O(1).
// A skip list or B-tree would make inserts logarithmic if series ever
// grow large enough for the shift to matter.
type keyOrder []string

// lowerBound returns the first index i with o[i] >= key.
func (o keyOrder) lowerBound(key string) int {
	i, _ := slices.BinarySearch(o, key)
	return i
}

// position returns the index of key and whether it is present.
func (o keyOrder) position(key string) (int, bool) {
	return slices.BinarySearch(o, key)
}

// insert adds a key that is known to be absent.
func (o keyOrder) insert(key string) keyOrder {
	if n := len(o); n == 0 || key > o[n-1] {
		return append(o, key)
	}
	return slices.Insert(o, o.lowerBound(key), key)
}

// span returns the index range [lo, hi] covering start..end, both present.
func (o keyOrder) span(start, end string) (lo, hi int, ok bool) {
	lo, okLo := o.position(start)
	hi, okHi := o.position(end)
	if !okLo || !okHi || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
