package ingest

import (
	"fmt"
	"math"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/monitoring"
	"github.com/banshee-data/ppk.report/internal/units"
)

// Record projects the image location and keys it by filename.
func (d ImageData) Record(ex align.KeyExtractor, p units.Projector) (align.PositionRecord, error) {
	if math.IsNaN(d.Altitude) || math.IsInf(d.Altitude, 0) {
		return align.PositionRecord{}, fmt.Errorf("project %s: non-finite altitude %v", d.Filename, d.Altitude)
	}
	e, n, err := p.Forward(d.Latitude, d.Longitude)
	if err != nil {
		return align.PositionRecord{}, fmt.Errorf("project %s: %w", d.Filename, err)
	}
	return align.PositionRecord{
		Key:    ex.Extract(d.Filename),
		ID:     d.Filename,
		X:      e,
		Y:      n,
		Z:      d.Altitude,
		Time:   align.ParseTimestamp(d.Timestamp),
		Source: d.FilePath,
	}, nil
}

// Record keys the EO row by its photo-id. EO coordinates are already
// projected.
func (d EOData) Record(ex align.KeyExtractor) align.PositionRecord {
	return align.PositionRecord{
		Key:    ex.Extract(d.ID),
		ID:     d.ID,
		X:      d.X,
		Y:      d.Y,
		Z:      d.Z,
		Time:   align.ParseTimestamp(d.Timestamp),
		Source: d.Source,
	}
}

// ImageRecords converts every image, logging and skipping the ones that
// cannot be projected.
func ImageRecords(images []ImageData, ex align.KeyExtractor, p units.Projector) []align.PositionRecord {
	out := make([]align.PositionRecord, 0, len(images))
	for i, img := range images {
		rec, err := img.Record(ex, p)
		if err != nil {
			monitoring.Logf("[ingest] skipping image %d: %v", i, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// EORecords converts every EO row.
func EORecords(rows []EOData, ex align.KeyExtractor) []align.PositionRecord {
	out := make([]align.PositionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.Record(ex)
	}
	return out
}
