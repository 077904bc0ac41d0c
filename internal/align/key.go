package align

import "strings"

// DefaultKeySuffix is the band-1 TIFF suffix the multispectral camera appends
// to every capture; EO photo-ids carry the bare capture name.
const DefaultKeySuffix = "_1.tif"

// KeyExtractor derives a matching key from an image filename or an EO
// photo-id.
type KeyExtractor struct {
	// Suffixes are tried in order; the first case-insensitive match is
	// removed.
	Suffixes []string
}

// DefaultKeyExtractor strips DefaultKeySuffix.
func DefaultKeyExtractor() KeyExtractor {
	return KeyExtractor{Suffixes: []string{DefaultKeySuffix}}
}

// Extract returns the key for raw. It never fails: an identifier without a
// known suffix comes back trimmed and is matched literally.
func (k KeyExtractor) Extract(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	for _, suffix := range k.Suffixes {
		if suffix == "" || len(s) < len(suffix) {
			continue
		}
		tail := s[len(s)-len(suffix):]
		if strings.EqualFold(tail, suffix) {
			s = s[:len(s)-len(suffix)]
			break
		}
	}
	return strings.TrimSpace(s)
}
