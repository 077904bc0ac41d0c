package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/fsutil"
	"github.com/banshee-data/ppk.report/internal/monitoring"
	"github.com/banshee-data/ppk.report/internal/testutil"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func search(t *testing.T, images, eo *align.KeyedSet, r align.ShiftRange) *align.SearchResult {
	t.Helper()
	res, err := align.NewSearcher(nil).Search(context.Background(), images, eo, r)
	require.NoError(t, err)
	return res
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteShiftStats(t *testing.T) {
	images, eo := testutil.KeyedFlight(t, 5, 1)
	res := search(t, images, eo, align.ShiftRange{Min: -2, Max: 2})
	require.Equal(t, 1, res.BestShift)

	var buf bytes.Buffer
	obj, _ := align.DefaultObjectiveRegistry().Get("avg_3d")
	require.NoError(t, NewCSVWriter(&buf, nil).WriteShiftStats(res.PerShift, obj, res.BestShift, res.Found))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 6)
	assert.Equal(t, shiftHeader, rows[0])
	assert.Equal(t, []string{"-2", "-1", "0", "1", "2"}, []string{rows[1][0], rows[2][0], rows[3][0], rows[4][0], rows[5][0]})
	assert.Equal(t, "true", rows[4][9])
	assert.Equal(t, "false", rows[3][9])
	assert.Equal(t, rows[4][2], rows[4][8], "score column repeats avg_3d")
}

func TestWriteShiftStatsInfinite(t *testing.T) {
	var buf bytes.Buffer
	per := map[int]align.AlignmentStats{0: align.NoMatchStats()}
	require.NoError(t, NewCSVWriter(&buf, nil).WriteShiftStats(per, nil, 0, false))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0", "0", "inf", "inf", "inf", "inf", "inf", "inf", "", "false"}, rows[1])
}

func TestWriteMatches(t *testing.T) {
	images, eo := testutil.KeyedFlight(t, 5, 1)
	ev := align.Evaluate(images, eo, 1)

	var buf bytes.Buffer
	require.NoError(t, NewCSVWriter(nil, &buf).WriteMatches(ev.Matches))
	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 6)
	assert.Equal(t, matchHeader, rows[0])
	assert.Equal(t, "K0", rows[1][0])
	assert.Equal(t, "K1", rows[1][1], "shift 1 hands K0 the record filed under K1")
	assert.Equal(t, "100", rows[1][7])
}

func TestCSVWriterNilTargets(t *testing.T) {
	w := NewCSVWriter(nil, nil)
	assert.NoError(t, w.WriteShiftStats(nil, nil, 0, false))
	assert.NoError(t, w.WriteMatches(nil))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.500000", formatFloat(1.5))
	assert.Equal(t, "inf", formatFloat(align.NoMatchStats().Avg3D))
}

func TestPlotShiftCurve(t *testing.T) {
	images, eo := testutil.KeyedFlight(t, 5, 1)
	res := search(t, images, eo, align.ShiftRange{Min: -3, Max: 3})

	var buf bytes.Buffer
	require.NoError(t, PlotShiftCurve(&buf, NewShiftCurve("late clock", res)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestPlotShiftCurveNothingFinite(t *testing.T) {
	c := ShiftCurve{Shifts: []int{0}, Avg3D: []float64{align.NoMatchStats().Avg3D}, Max3D: []float64{align.NoMatchStats().Max3D}}
	var buf bytes.Buffer
	assert.Error(t, PlotShiftCurve(&buf, c))
}

func TestPlotResiduals(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PlotResiduals(&buf, "r", []float64{0.1, -0.2}, []float64{0.3, 0}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.Error(t, PlotResiduals(&buf, "r", nil, nil))
	assert.Error(t, PlotResiduals(&buf, "r", []float64{1}, nil))
}

func TestRenderPage(t *testing.T) {
	images, eo := testutil.KeyedFlight(t, 5, 1)
	res := search(t, images, eo, align.ShiftRange{Min: -2, Max: 2})
	ev := align.Evaluate(images, eo, res.BestShift)

	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, res, &ev, ChartOptions{Title: "Flight 7"}))
	html := buf.String()
	assert.Contains(t, html, "Flight 7")
	assert.Contains(t, html, "best shift 1")
	assert.Contains(t, html, "Residuals at shift 1")
}

func TestChartValue(t *testing.T) {
	assert.Nil(t, chartValue(align.NoMatchStats().Avg3D))
	assert.Equal(t, 2.5, chartValue(2.5))
}

func TestWriteAllSearch(t *testing.T) {
	images, eo := testutil.KeyedFlight(t, 5, 1)
	res := search(t, images, eo, align.ShiftRange{Min: -2, Max: 2})
	ev := align.Evaluate(images, eo, res.BestShift)

	fsys := fsutil.NewMemoryFileSystem()
	written, err := WriteAll(fsys, "out", Input{Label: "Flight 7 / north", Result: res, Evaluation: &ev})
	require.NoError(t, err)

	want := []string{
		"out/Flight_7_north_matches.csv",
		"out/Flight_7_north_report.html",
		"out/Flight_7_north_residuals.png",
		"out/Flight_7_north_result.json",
		"out/Flight_7_north_shift_curve.png",
		"out/Flight_7_north_shifts.csv",
	}
	assert.Equal(t, want, fsys.Paths())
	assert.Len(t, written.Files, len(want))

	data, err := fsys.ReadFile("out/Flight_7_north_result.json")
	require.NoError(t, err)
	var back align.SearchResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 1, back.BestShift)
	assert.True(t, back.Found)
}

func TestWriteAllPinnedOnly(t *testing.T) {
	images, eo := testutil.KeyedFlight(t, 5, 1)
	ev := align.Evaluate(images, eo, 2)

	fsys := fsutil.NewMemoryFileSystem()
	_, err := WriteAll(fsys, "out", Input{Label: "", Evaluation: &ev})
	require.NoError(t, err)
	assert.Equal(t, []string{"out/run_matches.csv", "out/run_residuals.png", "out/run_result.json"}, fsys.Paths())

	data, err := fsys.ReadFile("out/run_result.json")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"shift": 2`))
}

func TestWriteAllNoAlignmentSkipsCurve(t *testing.T) {
	images, _, err := align.BuildKeyedSet("images", []align.PositionRecord{{Key: "A"}}, align.DuplicateFirstWins)
	require.NoError(t, err)
	eo, _, err := align.BuildKeyedSet("eo", []align.PositionRecord{{Key: "B"}}, align.DuplicateFirstWins)
	require.NoError(t, err)
	res, err := align.NewSearcher(nil).Search(context.Background(), images, eo, align.ShiftRange{Min: 0, Max: 0})
	require.Error(t, err)

	capture, restore := monitoring.CaptureLogger()
	defer restore()

	fsys := fsutil.NewMemoryFileSystem()
	_, err = WriteAll(fsys, "out", Input{Label: "none", Result: res})
	require.NoError(t, err)
	assert.False(t, fsys.Exists("out/none_shift_curve.png"))
	assert.True(t, fsys.Exists("out/none_shifts.csv"))
	require.Len(t, capture.Lines(), 1)
	assert.Contains(t, capture.Lines()[0], "skipping shift curve")
}

func TestWriteAllNothing(t *testing.T) {
	_, err := WriteAll(fsutil.NewMemoryFileSystem(), "out", Input{})
	assert.Error(t, err)
}
