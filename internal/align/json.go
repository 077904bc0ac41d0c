package align

import (
	"encoding/json"
	"math"
)

// statsJSON is the wire form of AlignmentStats. JSON has no infinity, so
// the distances of an empty shift travel as null.
type statsJSON struct {
	Avg3D      *float64 `json:"avg_3d"`
	Avg2D      *float64 `json:"avg_2d"`
	Max3D      *float64 `json:"max_3d"`
	Std3D      *float64 `json:"std_3d"`
	Median3D   *float64 `json:"median_3d"`
	RMS3D      *float64 `json:"rms_3d"`
	MatchCount int      `json:"match_count"`
}

// MarshalJSON writes non-finite statistics as null.
func (s AlignmentStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		Avg3D:      finiteOrNil(s.Avg3D),
		Avg2D:      finiteOrNil(s.Avg2D),
		Max3D:      finiteOrNil(s.Max3D),
		Std3D:      finiteOrNil(s.Std3D),
		Median3D:   finiteOrNil(s.Median3D),
		RMS3D:      finiteOrNil(s.RMS3D),
		MatchCount: s.MatchCount,
	})
}

// UnmarshalJSON reads null statistics back as +Inf.
func (s *AlignmentStats) UnmarshalJSON(b []byte) error {
	var w statsJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = AlignmentStats{
		Avg3D:      infIfNil(w.Avg3D),
		Avg2D:      infIfNil(w.Avg2D),
		Max3D:      infIfNil(w.Max3D),
		Std3D:      infIfNil(w.Std3D),
		Median3D:   infIfNil(w.Median3D),
		RMS3D:      infIfNil(w.RMS3D),
		MatchCount: w.MatchCount,
	}
	return nil
}

// MarshalJSON writes an unset best score as null.
func (r SearchResult) MarshalJSON() ([]byte, error) {
	type plain SearchResult
	return json.Marshal(struct {
		plain
		BestScore *float64 `json:"best_score"`
	}{plain: plain(r), BestScore: finiteOrNil(r.BestScore)})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *SearchResult) UnmarshalJSON(b []byte) error {
	type plain SearchResult
	var w struct {
		plain
		BestScore *float64 `json:"best_score"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = SearchResult(w.plain)
	r.BestScore = infIfNil(w.BestScore)
	return nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func infIfNil(v *float64) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return *v
}
