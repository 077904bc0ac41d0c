package ingest

import (
	"context"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/units"
)

func TestImageRecord(t *testing.T) {
	img := ImageData{Filename: "DJI_0001_1.tif", Latitude: 45, Longitude: -123, Altitude: 88, Timestamp: "2024:06:01 10:15:30"}
	rec, err := img.Record(align.DefaultKeyExtractor(), units.DefaultProjector())
	require.NoError(t, err)
	assert.Equal(t, "DJI_0001", rec.Key)
	assert.Equal(t, "DJI_0001_1.tif", rec.ID)
	assert.InDelta(t, 500000, rec.X, 1e-6)
	assert.InDelta(t, 4982950.40, rec.Y, 0.01)
	assert.Equal(t, 88.0, rec.Z)
	_, ok := rec.Time.Instant()
	assert.True(t, ok)

	_, err = ImageData{Filename: "x", Latitude: 89}.Record(align.DefaultKeyExtractor(), units.DefaultProjector())
	assert.Error(t, err)
}

func TestImageRecordNonFiniteAltitude(t *testing.T) {
	for _, alt := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := ImageData{Filename: "A_1.tif", Latitude: 45, Longitude: -123, Altitude: alt}.Record(align.DefaultKeyExtractor(), units.DefaultProjector())
		assert.Error(t, err, "altitude %v", alt)
	}
}

// TestSearchSkipsNonFiniteEORow checks that one unusable EO row does not
// poison every shift.
func TestSearchSkipsNonFiniteEORow(t *testing.T) {
	rows, rowErrs, err := ParseEO(strings.NewReader("A 0 0 0 1\nB 1 0 0 2\nC 2 0 0 3\nD NaN 0 0 4\n"), "eo.txt")
	require.NoError(t, err)
	require.Len(t, rowErrs, 1)
	require.Len(t, rows, 3)

	var images []align.PositionRecord
	for i, key := range []string{"A", "B", "C", "D"} {
		images = append(images, align.PositionRecord{
			Key: key, ID: key, X: float64(i), Time: align.ParseTimestamp(strconv.Itoa(i + 1)),
		})
	}
	ex := align.DefaultKeyExtractor()
	s, err := align.NewSession(images, EORecords(rows, ex), align.SessionOptions{})
	require.NoError(t, err)

	res, err := s.Search(context.Background(), align.ShiftRange{Min: -2, Max: 2})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 0, res.BestShift)
	assert.Equal(t, 3, res.Best.MatchCount)
	assert.InDelta(t, 0, res.Best.Avg3D, 1e-9)
}

func TestEORecordMatchesImageKey(t *testing.T) {
	ex := align.DefaultKeyExtractor()
	eo := EOData{ID: "DJI_0001", X: 1, Y: 2, Z: 3, Timestamp: "345600.5", Source: "eo.txt"}.Record(ex)
	img, err := ImageData{Filename: "DJI_0001_1.tif", Latitude: 45, Longitude: -123}.Record(ex, units.DefaultProjector())
	require.NoError(t, err)
	assert.Equal(t, img.Key, eo.Key)
	assert.Equal(t, "eo.txt", eo.Source)
}

func TestImageRecordsSkipsUnprojectable(t *testing.T) {
	images := []ImageData{
		{Filename: "A_1.tif", Latitude: 45, Longitude: -123},
		{Filename: "B_1.tif", Latitude: math.NaN(), Longitude: -123},
	}
	got := ImageRecords(images, align.DefaultKeyExtractor(), units.DefaultProjector())
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Key)
}

// TestEndToEnd runs an image JSON document and an EO file whose clock runs
// one capture late through to a search.
func TestEndToEnd(t *testing.T) {
	p := units.DefaultProjector()
	lats := []float64{45.0000, 45.0002, 45.0004, 45.0006, 45.0008}

	var images []ImageData
	var eo strings.Builder
	eo.WriteString("filename,x,y,z,time\n")
	for i, lat := range lats {
		name := "IMG_000" + string(rune('1'+i))
		images = append(images, ImageData{Filename: name + "_1.tif", Latitude: lat, Longitude: -123, Altitude: 100, Timestamp: "t"})
		// Photo-id i carries the position of capture i-1.
		src := lats[(i-1+len(lats))%len(lats)]
		e, n, err := p.Forward(src, -123)
		require.NoError(t, err)
		eo.WriteString(name)
		eo.WriteString(",")
		eo.WriteString(strings.Join([]string{ftoa(e), ftoa(n), "100", ftoa(float64(1000 + i))}, ","))
		eo.WriteString("\n")
	}

	rows, rowErrs, err := ParseEO(strings.NewReader(eo.String()), "eo.txt")
	require.NoError(t, err)
	require.Empty(t, rowErrs)

	ex := align.DefaultKeyExtractor()
	s, err := align.NewSession(ImageRecords(images, ex, p), EORecords(rows, ex), align.SessionOptions{})
	require.NoError(t, err)

	res, err := s.Search(context.Background(), align.ShiftRange{Min: -3, Max: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BestShift)
	assert.InDelta(t, 0, res.Best.Avg3D, 1e-6)
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
