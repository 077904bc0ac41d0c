package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/fsutil"
)

func TestParseEOCommaWithHeader(t *testing.T) {
	in := "Filename, Easting, Northing, Elevation, Omega, Phi, Kappa, Time\n" +
		"IMG_0001, 500000.0, 4982950.4, 120.5, 0.1, 0.2, 0.3, 345600.10\n" +
		"\n" +
		"# reprocessed\n" +
		"IMG_0002,500001.5,4982951.0,121.0,0,0,0,345602.10\n"

	got, rowErrs, err := ParseEO(strings.NewReader(in), "altum_eo.txt")
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, got, 2)

	assert.Equal(t, EOData{
		ID: "IMG_0001", X: 500000.0, Y: 4982950.4, Z: 120.5,
		Timestamp: "345600.10", Source: "altum_eo.txt", Line: 2,
	}, got[0])
	assert.Equal(t, "IMG_0002", got[1].ID)
	assert.Equal(t, 5, got[1].Line)
}

func TestParseEOWhitespace(t *testing.T) {
	in := "IMG_0001   500000.0\t4982950.4 120.5 2024-06-01T10:15:30Z\n" +
		"IMG_0002 500001.0 4982951.4 121.5 extra 2024-06-01T10:15:32Z\n"
	got, rowErrs, err := ParseEO(strings.NewReader(in), "eo.txt")
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, got, 2)
	assert.Equal(t, "IMG_0001", got[0].ID, "first data row must not be mistaken for a header")
	assert.Equal(t, "2024-06-01T10:15:32Z", got[1].Timestamp)
}

func TestParseEOHeaderVariants(t *testing.T) {
	for _, h := range []string{"name", "IMAGE", "filename"} {
		in := h + ",x,y,z,t\nA,1,2,3,4\n"
		got, rowErrs, err := ParseEO(strings.NewReader(in), "eo.txt")
		require.NoError(t, err)
		assert.Empty(t, rowErrs, h)
		assert.Len(t, got, 1, h)
	}
}

func TestParseEOBadRows(t *testing.T) {
	in := "A,1,2,3,t1\n" +
		"B,1,2\n" +
		"C,east,2,3,t3\n" +
		"D,1,2,3,t4\n"
	got, rowErrs, err := ParseEO(strings.NewReader(in), "eo.txt")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "D", got[1].ID)

	require.Len(t, rowErrs, 2)
	assert.Equal(t, 2, rowErrs[0].Line)
	assert.Equal(t, 3, rowErrs[1].Line)
	assert.Contains(t, rowErrs[1].Error(), "eo.txt:3")
}

func TestParseEONonFiniteCoordinates(t *testing.T) {
	in := "A 0 0 0 1\n" +
		"B NaN 0 0 2\n" +
		"C 2 +Inf 0 3\n" +
		"D 3 0 -inf 4\n" +
		"E 4 0 0 5\n"
	got, rowErrs, err := ParseEO(strings.NewReader(in), "eo.txt")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "E", got[1].ID)

	require.Len(t, rowErrs, 3)
	for i, line := range []int{2, 3, 4} {
		assert.Equal(t, line, rowErrs[i].Line)
		assert.Contains(t, rowErrs[i].Error(), "non-finite")
	}
}

func TestLoadEOFiles(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	_ = fsys.WriteFile("a/altum_eo.txt", []byte("A,1,2,3,t1\n"), 0644)
	_ = fsys.WriteFile("b/eo.txt", []byte("B 4 5 6 t2\n"), 0644)

	got, err := LoadEOFiles(fsys, []string{"a/altum_eo.txt", "missing.txt", "b/eo.txt"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a/altum_eo.txt", got[0].Source)
	assert.Equal(t, "b/eo.txt", got[1].Source)

	_, err = LoadEOFiles(fsys, []string{"missing.txt"})
	var inErr *align.InputError
	require.True(t, errors.As(err, &inErr))
	assert.ErrorIs(t, err, align.ErrEmptySequence)
}
