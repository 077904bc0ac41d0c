package align

import "testing"

func TestKeyExtractorExtract(t *testing.T) {
	ex := DefaultKeyExtractor()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"band one suffix", "DJI_0001_1.tif", "DJI_0001"},
		{"eo photo id", "DJI_0001", "DJI_0001"},
		{"surrounding whitespace", "  IMG_0420_1.tif \n", "IMG_0420"},
		{"uppercase suffix", "IMG_0420_1.TIF", "IMG_0420"},
		{"unix directory", "/data/flight2/IMG_0420_1.tif", "IMG_0420"},
		{"windows directory", `C:\flight2\IMG_0420_1.tif`, "IMG_0420"},
		{"other band left alone", "IMG_0420_2.tif", "IMG_0420_2.tif"},
		{"suffix only", "_1.tif", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ex.Extract(tt.raw); got != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestKeyExtractorFirstMatchingSuffixWins(t *testing.T) {
	ex := KeyExtractor{Suffixes: []string{"", "_1.tif", ".tif"}}
	if got := ex.Extract("IMG_0001_1.tif"); got != "IMG_0001" {
		t.Errorf("Extract = %q, want IMG_0001", got)
	}
	if got := ex.Extract("IMG_0001.tif"); got != "IMG_0001" {
		t.Errorf("Extract = %q, want IMG_0001", got)
	}
}

func TestImageAndEOKeysMatch(t *testing.T) {
	ex := DefaultKeyExtractor()
	img := ex.Extract("DJI_0001_1.tif")
	eo := ex.Extract("DJI_0001")
	if img != eo {
		t.Fatalf("image key %q does not match EO key %q", img, eo)
	}
}
