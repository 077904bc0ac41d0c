package align

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MatchResult is the residual between one image and the EO record associated
// with its key.
type MatchResult struct {
	Key        string  `json:"key"`
	EOKey      string  `json:"eo_key"` // key the EO record carried before any shift
	Distance3D float64 `json:"distance_3d"`
	Distance2D float64 `json:"distance_2d"`
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	DZ         float64 `json:"dz"`
	ImageTime  string  `json:"image_time"`
	EOTime     string  `json:"eo_time"`
}

// AlignmentStats summarises the residuals of one shift. With no matches every
// distance is +Inf and MatchCount is zero.
type AlignmentStats struct {
	Avg3D      float64 `json:"avg_3d"`
	Avg2D      float64 `json:"avg_2d"`
	Max3D      float64 `json:"max_3d"`
	Std3D      float64 `json:"std_3d"`
	Median3D   float64 `json:"median_3d"`
	RMS3D      float64 `json:"rms_3d"`
	MatchCount int     `json:"match_count"`
}

// NoMatchStats is the degenerate summary for a shift with nothing to score.
func NoMatchStats() AlignmentStats {
	inf := math.Inf(1)
	return AlignmentStats{Avg3D: inf, Avg2D: inf, Max3D: inf, Std3D: inf, Median3D: inf, RMS3D: inf}
}

// HasMatches reports whether the stats were computed from at least one pair.
func (s AlignmentStats) HasMatches() bool { return s.MatchCount > 0 }

// Residual computes the difference between an image position and an EO
// position. Swapping the arguments negates the components and leaves the
// distances unchanged.
func Residual(image, eo PositionRecord) MatchResult {
	dx := image.X - eo.X
	dy := image.Y - eo.Y
	dz := image.Z - eo.Z
	return MatchResult{
		Key:        image.Key,
		EOKey:      eo.Key,
		Distance3D: math.Sqrt(dx*dx + dy*dy + dz*dz),
		Distance2D: math.Sqrt(dx*dx + dy*dy),
		DX:         dx,
		DY:         dy,
		DZ:         dz,
		ImageTime:  image.Time.Raw,
		EOTime:     eo.Time.Raw,
	}
}

// Score pairs every image key that is also present in eo. Results follow the
// insertion order of images.
func Score(images, eo *KeyedSet) []MatchResult {
	results := make([]MatchResult, 0, min(images.Len(), eo.Len()))
	for _, key := range images.Keys() {
		e, ok := eo.Get(key)
		if !ok {
			continue
		}
		img, _ := images.Get(key)
		results = append(results, Residual(img, e))
	}
	return results
}

// Aggregate reduces match results to summary statistics.
func Aggregate(results []MatchResult) AlignmentStats {
	if len(results) == 0 {
		return NoMatchStats()
	}

	d3 := make([]float64, len(results))
	d2 := make([]float64, len(results))
	for i, r := range results {
		d3[i] = r.Distance3D
		d2[i] = r.Distance2D
	}

	st := AlignmentStats{
		Avg3D:      stat.Mean(d3, nil),
		Avg2D:      stat.Mean(d2, nil),
		Max3D:      floats.Max(d3),
		RMS3D:      math.Sqrt(floats.Dot(d3, d3) / float64(len(d3))),
		MatchCount: len(results),
	}
	if len(d3) > 1 {
		st.Std3D = stat.StdDev(d3, nil)
	}
	sorted := slices.Clone(d3)
	slices.Sort(sorted)
	st.Median3D = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return st
}
