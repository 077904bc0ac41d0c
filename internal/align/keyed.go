package align

import (
	"fmt"
	"strings"

	"github.com/banshee-data/ppk.report/internal/monitoring"
)

// DuplicatePolicy decides what happens when two records in one sequence
// produce the same key.
type DuplicatePolicy string

const (
	// DuplicateFirstWins keeps the earliest record and reports the rest.
	DuplicateFirstWins DuplicatePolicy = "first"
	// DuplicateLastWins keeps the latest record and reports the rest.
	DuplicateLastWins DuplicatePolicy = "last"
	// DuplicateError rejects the sequence.
	DuplicateError DuplicatePolicy = "error"
)

// ParseDuplicatePolicy accepts "first", "last" or "error"; empty means first.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DuplicateFirstWins, nil
	case DuplicateFirstWins, DuplicateLastWins, DuplicateError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q: expected first, last or error", s)
	}
}

// Duplicate records one collapsed key.
type Duplicate struct {
	Key     string         `json:"key"`
	Kept    PositionRecord `json:"kept"`
	Dropped PositionRecord `json:"dropped"`
}

// KeyedSet maps keys to records and remembers the order in which keys were
// first seen.
type KeyedSet struct {
	keys  []string
	byKey map[string]PositionRecord
}

// NewKeyedSet returns an empty set with room for n keys.
func NewKeyedSet(n int) *KeyedSet {
	return &KeyedSet{
		keys:  make([]string, 0, n),
		byKey: make(map[string]PositionRecord, n),
	}
}

// BuildKeyedSet keys records under policy. Records are expected to already
// carry their Key. With DuplicateError the first collision is returned as an
// *InputError.
func BuildKeyedSet(source string, records []PositionRecord, policy DuplicatePolicy) (*KeyedSet, []Duplicate, error) {
	set := NewKeyedSet(len(records))
	var dups []Duplicate
	for i, rec := range records {
		prev, seen := set.byKey[rec.Key]
		if !seen {
			set.keys = append(set.keys, rec.Key)
			set.byKey[rec.Key] = rec
			continue
		}
		switch policy {
		case DuplicateError:
			return nil, nil, &InputError{
				Source: source,
				Record: i,
				Err:    fmt.Errorf("duplicate key %q (ids %q and %q)", rec.Key, prev.ID, rec.ID),
			}
		case DuplicateLastWins:
			set.byKey[rec.Key] = rec
			dups = append(dups, Duplicate{Key: rec.Key, Kept: rec, Dropped: prev})
		default:
			dups = append(dups, Duplicate{Key: rec.Key, Kept: prev, Dropped: rec})
		}
		monitoring.Logf("[align] %s: duplicate key %q, keeping %q and dropping %q",
			source, rec.Key, dups[len(dups)-1].Kept.ID, dups[len(dups)-1].Dropped.ID)
	}
	return set, dups, nil
}

// Len returns the number of distinct keys.
func (s *KeyedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (s *KeyedSet) Keys() []string {
	if s == nil {
		return nil
	}
	return s.keys
}

// Get looks up the record for key.
func (s *KeyedSet) Get(key string) (PositionRecord, bool) {
	if s == nil {
		return PositionRecord{}, false
	}
	r, ok := s.byKey[key]
	return r, ok
}

// Records returns the records in key order.
func (s *KeyedSet) Records() []PositionRecord {
	out := make([]PositionRecord, 0, s.Len())
	for _, k := range s.Keys() {
		out = append(out, s.byKey[k])
	}
	return out
}

// put appends or overwrites without touching key order.
func (s *KeyedSet) put(key string, rec PositionRecord) {
	if _, ok := s.byKey[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.byKey[key] = rec
}
