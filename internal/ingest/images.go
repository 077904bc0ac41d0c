// Package ingest reads the image and EO position files a survey produces and
// turns them into alignment records.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/fsutil"
	"github.com/banshee-data/ppk.report/internal/monitoring"
)

// MaxImageDataSize bounds an image location JSON file.
const MaxImageDataSize = 64 << 20

// ImageData is one image location as exchanged in the image JSON file.
type ImageData struct {
	FilePath  string  `json:"file_path"`
	Filename  string  `json:"filename"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Timestamp string  `json:"timestamp"`
	CaptureID string  `json:"capture_id"`
}

// rawImage distinguishes missing fields from zero values.
type rawImage struct {
	FilePath  string   `json:"file_path"`
	Filename  *string  `json:"filename"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	Timestamp string   `json:"timestamp"`
	CaptureID string   `json:"capture_id"`
}

func (r rawImage) missing() []string {
	var out []string
	if r.Filename == nil {
		out = append(out, "filename")
	}
	if r.Latitude == nil {
		out = append(out, "latitude")
	}
	if r.Longitude == nil {
		out = append(out, "longitude")
	}
	if r.Altitude == nil {
		out = append(out, "altitude")
	}
	return out
}

// DecodeImageData parses an image JSON array. Elements that are missing a
// required field or carry malformed values are logged and skipped. A document
// that is not an array, or has no usable element, is an *align.InputError.
func DecodeImageData(data []byte, source string) ([]ImageData, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, align.NewInputError(source, errors.New("image JSON must contain a list of image records"))
		}
		return nil, align.NewInputError(source, fmt.Errorf("invalid JSON: %w", err))
	}

	out := make([]ImageData, 0, len(elems))
	for i, elem := range elems {
		var raw rawImage
		if err := json.Unmarshal(elem, &raw); err != nil {
			monitoring.Logf("[ingest] %s: skipping image record %d: %v", source, i, err)
			continue
		}
		if miss := raw.missing(); len(miss) > 0 {
			monitoring.Logf("[ingest] %s: skipping image record %d: missing %v", source, i, miss)
			continue
		}
		out = append(out, ImageData{
			FilePath:  raw.FilePath,
			Filename:  *raw.Filename,
			Latitude:  *raw.Latitude,
			Longitude: *raw.Longitude,
			Altitude:  *raw.Altitude,
			Timestamp: raw.Timestamp,
			CaptureID: raw.CaptureID,
		})
	}
	if len(out) == 0 {
		return nil, align.NewInputError(source, align.ErrEmptySequence)
	}
	return out, nil
}

// LoadImageData reads and decodes an image JSON file.
func LoadImageData(fsys fsutil.FileSystem, path string) ([]ImageData, error) {
	data, err := fsutil.ReadFileLimit(fsys, path, MaxImageDataSize)
	if err != nil {
		return nil, align.NewInputError(path, err)
	}
	return DecodeImageData(data, path)
}

// SaveImageData writes records as an indented JSON array.
func SaveImageData(fsys fsutil.FileSystem, path string, records []ImageData) error {
	if records == nil {
		records = []ImageData{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode image data: %w", err)
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
