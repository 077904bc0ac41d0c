package align

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppk.report/internal/monitoring"
)

func rec(key string, x, y, z float64, t string) PositionRecord {
	return PositionRecord{Key: key, ID: key, X: x, Y: y, Z: z, Time: ParseTimestamp(t)}
}

func mustSet(t *testing.T, records ...PositionRecord) *KeyedSet {
	t.Helper()
	set, _, err := BuildKeyedSet("test", records, DuplicateFirstWins)
	require.NoError(t, err)
	return set
}

func TestParseDuplicatePolicy(t *testing.T) {
	for in, want := range map[string]DuplicatePolicy{
		"":       DuplicateFirstWins,
		"first":  DuplicateFirstWins,
		" LAST ": DuplicateLastWins,
		"error":  DuplicateError,
	} {
		got, err := ParseDuplicatePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDuplicatePolicy("random")
	assert.Error(t, err)
}

func TestBuildKeyedSetPolicies(t *testing.T) {
	a1 := PositionRecord{Key: "A", ID: "A-first", X: 1}
	b := PositionRecord{Key: "B", ID: "B", X: 2}
	a2 := PositionRecord{Key: "A", ID: "A-second", X: 3}
	records := []PositionRecord{a1, b, a2}

	capture, restore := monitoring.CaptureLogger()
	defer restore()

	t.Run("first wins", func(t *testing.T) {
		set, dups, err := BuildKeyedSet("eo", records, DuplicateFirstWins)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, set.Keys())
		got, _ := set.Get("A")
		assert.Equal(t, "A-first", got.ID)
		require.Len(t, dups, 1)
		assert.Equal(t, "A-second", dups[0].Dropped.ID)
	})

	t.Run("last wins", func(t *testing.T) {
		set, dups, err := BuildKeyedSet("eo", records, DuplicateLastWins)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, set.Keys(), "key order follows first sighting")
		got, _ := set.Get("A")
		assert.Equal(t, "A-second", got.ID)
		require.Len(t, dups, 1)
		assert.Equal(t, "A-first", dups[0].Dropped.ID)
	})

	t.Run("error", func(t *testing.T) {
		_, _, err := BuildKeyedSet("eo", records, DuplicateError)
		var inErr *InputError
		require.True(t, errors.As(err, &inErr))
		assert.Equal(t, "eo", inErr.Source)
		assert.Equal(t, 2, inErr.Record)
	})

	var warned bool
	for _, line := range capture.Lines() {
		if strings.Contains(line, `duplicate key "A"`) {
			warned = true
		}
	}
	assert.True(t, warned, "expected a duplicate warning in %v", capture.Lines())
}

func TestKeyedSetNilSafe(t *testing.T) {
	var s *KeyedSet
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Keys())
	_, ok := s.Get("x")
	assert.False(t, ok)
	assert.Empty(t, s.Records())
}
