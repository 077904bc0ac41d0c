// Package testutil provides shared test fixtures for the alignment packages.
package testutil

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppk.report/internal/align"
)

// FlightSpacing is the distance in metres between consecutive captures of a
// LaggedFlight.
const FlightSpacing = 10.0

// LaggedFlight returns n captures flown along the easting axis and an EO log
// whose photo-id i carries the position of capture i-lag, as if the EO
// clock ran lag captures late. Keys are "K0".."K<n-1>" and times 100+i.
// Shift lag, and every shift congruent to it mod n, scores zero.
func LaggedFlight(n, lag int) (images, eo []align.PositionRecord) {
	for i := 0; i < n; i++ {
		key := "K" + strconv.Itoa(i)
		ts := align.ParseTimestamp(strconv.Itoa(100 + i))
		src := ((i-lag)%n + n) % n
		images = append(images, align.PositionRecord{Key: key, ID: key, X: FlightSpacing * float64(i), Z: 100, Time: ts, Source: "images"})
		eo = append(eo, align.PositionRecord{Key: key, ID: key, X: FlightSpacing * float64(src), Z: 100, Time: ts, Source: "eo"})
	}
	return images, eo
}

// KeyedFlight is LaggedFlight as keyed sets.
func KeyedFlight(t testing.TB, n, lag int) (images, eo *align.KeyedSet) {
	t.Helper()
	imgs, eos := LaggedFlight(n, lag)
	images, _, err := align.BuildKeyedSet("images", imgs, align.DuplicateFirstWins)
	require.NoError(t, err)
	eo, _, err = align.BuildKeyedSet("eo", eos, align.DuplicateFirstWins)
	require.NoError(t, err)
	return images, eo
}

// FlightSession is LaggedFlight wrapped in a session using searcher, which
// may be nil.
func FlightSession(t testing.TB, n, lag int, searcher *align.Searcher) *align.Session {
	t.Helper()
	imgs, eos := LaggedFlight(n, lag)
	s, err := align.NewSession(imgs, eos, align.SessionOptions{Searcher: searcher})
	require.NoError(t, err)
	return s
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
