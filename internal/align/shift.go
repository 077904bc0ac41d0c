package align

import "slices"

// ApplyShift re-associates EO records with keys under a constant offset.
//
// The set is stably sorted by record time, fixing indices 0..n-1. The key at
// sorted index i is then given the record at sorted index (i+shift) mod n, so
// every key stays mapped for every shift. A shift of zero, or an empty set,
// returns eo unchanged.
func ApplyShift(eo *KeyedSet, shift int) *KeyedSet {
	if shift == 0 || eo.Len() == 0 {
		return eo
	}
	return newRotation(eo).apply(shift)
}

// rotation caches the time order of an EO set so a search sorts once.
type rotation struct {
	src    *KeyedSet
	sorted []string
}

func newRotation(eo *KeyedSet) *rotation {
	sorted := slices.Clone(eo.Keys())
	slices.SortStableFunc(sorted, func(a, b string) int {
		return eo.byKey[a].Time.Compare(eo.byKey[b].Time)
	})
	return &rotation{src: eo, sorted: sorted}
}

func (r *rotation) apply(shift int) *KeyedSet {
	n := len(r.sorted)
	if shift == 0 || n == 0 {
		return r.src
	}
	shift %= n
	out := NewKeyedSet(n)
	for i, key := range r.sorted {
		j := (i + shift + n) % n
		out.put(key, r.src.byKey[r.sorted[j]])
	}
	return out
}
