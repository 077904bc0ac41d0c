// Package units projects geographic coordinates into the planar metric
// system the alignment engine scores in.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

const (
	falseEasting = 500000.0

	// MinLatitude and MaxLatitude bound the UTM system; polar regions use UPS.
	MinLatitude = -80.0
	MaxLatitude = 84.0

	// DefaultZone is the zone the field surveys are flown in (EPSG:32610).
	DefaultZone = 10
)

// Projector converts WGS84 latitude/longitude into UTM easting/northing for
// one fixed zone. Points outside the zone are still projected against its
// central meridian so a survey that straddles a boundary stays in one frame.
type Projector struct {
	Zone  int
	South bool
}

// DefaultProjector returns zone 10 north.
func DefaultProjector() Projector {
	return Projector{Zone: DefaultZone}
}

// ZoneForLongitude returns the standard 6-degree zone containing lon.
func ZoneForLongitude(lon float64) int {
	z := int(math.Floor((lon+180)/6)) + 1
	switch {
	case z < 1:
		return 1
	case z > 60:
		return 60
	}
	return z
}

// ParseZone accepts "10", "10N" or "55S".
func ParseZone(s string) (Projector, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	p := Projector{}
	switch {
	case strings.HasSuffix(s, "S"):
		p.South = true
		s = strings.TrimSuffix(s, "S")
	case strings.HasSuffix(s, "N"):
		s = strings.TrimSuffix(s, "N")
	}
	z, err := strconv.Atoi(s)
	if err != nil {
		return Projector{}, fmt.Errorf("invalid UTM zone %q", s)
	}
	p.Zone = z
	return p, p.Validate()
}

// Validate checks the zone number.
func (p Projector) Validate() error {
	if p.Zone < 1 || p.Zone > 60 {
		return fmt.Errorf("UTM zone %d out of range [1, 60]", p.Zone)
	}
	return nil
}

// EPSG returns the EPSG code of the projected system, e.g. 32610.
func (p Projector) EPSG() int {
	if p.South {
		return 32700 + p.Zone
	}
	return 32600 + p.Zone
}

func (p Projector) String() string {
	h := "N"
	if p.South {
		h = "S"
	}
	return fmt.Sprintf("%d%s", p.Zone, h)
}

// CentralMeridian returns the zone's central meridian in degrees.
func (p Projector) CentralMeridian() float64 {
	return float64(p.Zone-1)*6 - 180 + 3
}

// transform maps WGS84 lon/lat/height into this zone. The unchecked
// variant is used so points across the zone boundary still project.
func (p Projector) transform() wgs84.Func {
	return wgs84.LonLat().To(wgs84.UTM(float64(p.Zone), !p.South))
}

// Forward projects lat/lon in degrees to easting/northing in metres.
func (p Projector) Forward(lat, lon float64) (easting, northing float64, err error) {
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, fmt.Errorf("invalid coordinate (%v, %v)", lat, lon)
	}
	if lat < MinLatitude || lat > MaxLatitude {
		return 0, 0, fmt.Errorf("latitude %.6f outside UTM coverage [%v, %v]", lat, MinLatitude, MaxLatitude)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("longitude %.6f out of range [-180, 180]", lon)
	}

	easting, northing, _ = p.transform()(lon, lat, 0)
	return easting, northing, nil
}
