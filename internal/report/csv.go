// Package report writes alignment results as CSV tables, PNG plots and an
// HTML chart page.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/banshee-data/ppk.report/internal/align"
)

// CSVWriter wraps csv.Writer with methods for alignment output.
type CSVWriter struct {
	Shifts  *csv.Writer
	Matches *csv.Writer
}

// NewCSVWriter creates a CSVWriter over the per-shift and match outputs.
// Either writer may be nil when that table is not wanted.
func NewCSVWriter(shifts, matches io.Writer) *CSVWriter {
	c := &CSVWriter{}
	if shifts != nil {
		c.Shifts = csv.NewWriter(shifts)
	}
	if matches != nil {
		c.Matches = csv.NewWriter(matches)
	}
	return c
}

var shiftHeader = []string{"shift", "match_count", "avg_3d", "avg_2d", "max_3d", "std_3d", "median_3d", "rms_3d", "score", "best"}

var matchHeader = []string{"key", "eo_key", "distance_3d", "distance_2d", "dx", "dy", "dz", "image_time", "eo_time"}

// WriteShiftStats writes one row per shift in ascending order. score is the
// objective applied to each row and may be nil.
func (c *CSVWriter) WriteShiftStats(perShift map[int]align.AlignmentStats, obj *align.Objective, bestShift int, found bool) error {
	if c.Shifts == nil {
		return nil
	}
	if err := c.Shifts.Write(shiftHeader); err != nil {
		return err
	}
	shifts := make([]int, 0, len(perShift))
	for s := range perShift {
		shifts = append(shifts, s)
	}
	sort.Ints(shifts)

	for _, s := range shifts {
		st := perShift[s]
		score := ""
		if obj != nil {
			score = formatFloat(obj.Score(st))
		}
		row := []string{
			strconv.Itoa(s),
			strconv.Itoa(st.MatchCount),
			formatFloat(st.Avg3D),
			formatFloat(st.Avg2D),
			formatFloat(st.Max3D),
			formatFloat(st.Std3D),
			formatFloat(st.Median3D),
			formatFloat(st.RMS3D),
			score,
			strconv.FormatBool(found && s == bestShift),
		}
		if err := c.Shifts.Write(row); err != nil {
			return err
		}
	}
	c.Shifts.Flush()
	return c.Shifts.Error()
}

// WriteMatches writes the residuals of a single shift.
func (c *CSVWriter) WriteMatches(matches []align.MatchResult) error {
	if c.Matches == nil {
		return nil
	}
	if err := c.Matches.Write(matchHeader); err != nil {
		return err
	}
	for _, m := range matches {
		row := []string{
			m.Key,
			m.EOKey,
			formatFloat(m.Distance3D),
			formatFloat(m.Distance2D),
			formatFloat(m.DX),
			formatFloat(m.DY),
			formatFloat(m.DZ),
			m.ImageTime,
			m.EOTime,
		}
		if err := c.Matches.Write(row); err != nil {
			return fmt.Errorf("write match %s: %w", m.Key, err)
		}
	}
	c.Matches.Flush()
	return c.Matches.Error()
}

// formatFloat prints six decimals; +Inf is written as "inf".
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
