package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/banshee-data/ppk.report/internal/align"
)

func TestLaggedFlightBestShiftIsLag(t *testing.T) {
	t.Parallel()

	for _, lag := range []int{-2, 0, 1, 2} {
		images, eo := KeyedFlight(t, 6, lag)
		res, err := align.NewSearcher(nil).Search(context.Background(), images, eo, align.ShiftRange{Min: -3, Max: 3})
		if err != nil {
			t.Fatalf("lag %d: %v", lag, err)
		}
		if res.BestShift != lag {
			t.Errorf("lag %d: best shift = %d", lag, res.BestShift)
		}
		if res.Best.Avg3D != 0 {
			t.Errorf("lag %d: best avg_3d = %v, want 0", lag, res.Best.Avg3D)
		}
	}
}

func TestFlightSession(t *testing.T) {
	t.Parallel()

	s := FlightSession(t, 4, 1, nil)
	if got := s.Summary().CommonKeys; got != 4 {
		t.Errorf("common keys = %d, want 4", got)
	}
	if ev := s.Evaluate(1); ev.Stats.Avg3D != 0 {
		t.Errorf("avg_3d at lag = %v, want 0", ev.Stats.Avg3D)
	}
}

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}
