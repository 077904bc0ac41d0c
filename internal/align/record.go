// Package align matches camera image positions against PPK exterior
// orientation (EO) positions. It keys both sequences, rotates the EO
// association by an integer shift, scores each pairing by geometric residual
// and searches a shift range for the best agreement.
//
// Everything in this package is a pure function of its inputs. Loading files,
// projecting coordinates and presenting results live in other packages.
package align

import (
	"strconv"
	"strings"
	"time"
)

// PositionRecord is a sensor-agnostic position sample. Image and EO records
// are both expressed in the same projected planar coordinate system before
// they reach this package.
type PositionRecord struct {
	Key    string    `json:"key"`
	ID     string    `json:"id"` // raw filename or photo-id the key came from
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Z      float64   `json:"z"`
	Time   Timestamp `json:"time"`
	Source string    `json:"source,omitempty"`
}

type timestampKind int

const (
	kindInstant timestampKind = iota
	kindNumeric
	kindText
)

// timestampLayouts are tried in order. The first is the EXIF DateTime form
// written by the camera.
var timestampLayouts = []string{
	"2006:01:02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006/01/02 15:04:05.999999999",
}

// Timestamp keeps the raw text of a capture or event time alongside its
// parsed form, so records from different clocks can be ordered and still be
// reported exactly as they were read.
type Timestamp struct {
	Raw     string
	kind    timestampKind
	instant time.Time
	seconds float64
}

// ParseTimestamp classifies raw as a calendar instant, a plain number of
// seconds (GPS seconds-of-week in most EO exports) or opaque text.
func ParseTimestamp(raw string) Timestamp {
	s := strings.TrimSpace(raw)
	ts := Timestamp{Raw: s, kind: kindText}
	if s == "" {
		return ts
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		ts.kind = kindNumeric
		ts.seconds = v
		return ts
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.kind = kindInstant
			ts.instant = t
			return ts
		}
	}
	return ts
}

// Instant returns the parsed calendar time and whether Raw was one.
func (t Timestamp) Instant() (time.Time, bool) {
	return t.instant, t.kind == kindInstant
}

// Seconds returns the numeric value and whether Raw was a number.
func (t Timestamp) Seconds() (float64, bool) {
	return t.seconds, t.kind == kindNumeric
}

// Compare orders two timestamps. Values of the same kind compare by value;
// mixed kinds order instant < numeric < text so sorting stays consistent.
func (t Timestamp) Compare(o Timestamp) int {
	if t.kind != o.kind {
		if t.kind < o.kind {
			return -1
		}
		return 1
	}
	switch t.kind {
	case kindInstant:
		return t.instant.Compare(o.instant)
	case kindNumeric:
		switch {
		case t.seconds < o.seconds:
			return -1
		case t.seconds > o.seconds:
			return 1
		}
		return 0
	default:
		return strings.Compare(t.Raw, o.Raw)
	}
}

// String returns the timestamp as it was read.
func (t Timestamp) String() string { return t.Raw }

// MarshalText keeps the raw form on the wire.
func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.Raw), nil
}

// UnmarshalText re-parses the raw form.
func (t *Timestamp) UnmarshalText(b []byte) error {
	*t = ParseTimestamp(string(b))
	return nil
}
