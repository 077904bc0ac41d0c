package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/fsutil"
	"github.com/banshee-data/ppk.report/internal/monitoring"
)

// MaxEOFileSize bounds a single EO text file.
const MaxEOFileSize = 64 << 20

// minEOColumns is id, x, y, z and a trailing timestamp.
const minEOColumns = 5

var eoHeaderNames = map[string]bool{"filename": true, "name": true, "image": true}

// EOData is one row of an exterior orientation export: the photo-id, the
// projected camera position and the event time from the last column.
type EOData struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp string  `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
	Line      int     `json:"line"`
}

// RowError describes a rejected EO row.
type RowError struct {
	Source string
	Line   int
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ParseEO reads EO rows from r. Rows may be comma separated or whitespace
// separated. Blank lines and lines starting with '#' are ignored, and a header
// is skipped when the first row's first field names the image column. Rows
// that cannot be parsed are returned as RowErrors and left out of the result;
// only a read failure is returned as an error.
func ParseEO(r io.Reader, source string) ([]EOData, []RowError, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out     []EOData
		rowErrs []RowError
		first   = true
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields, err := splitEOLine(line)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Source: source, Line: lineNo, Err: err})
			first = false
			continue
		}
		if first {
			first = false
			if len(fields) > 0 && eoHeaderNames[strings.ToLower(fields[0])] {
				continue
			}
		}

		rec, err := parseEOFields(fields)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Source: source, Line: lineNo, Err: err})
			continue
		}
		rec.Source = source
		rec.Line = lineNo
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, rowErrs, fmt.Errorf("read %s: %w", source, err)
	}
	return out, rowErrs, nil
}

func splitEOLine(line string) ([]string, error) {
	if !strings.Contains(line, ",") {
		return strings.Fields(line), nil
	}
	cr := csv.NewReader(strings.NewReader(line))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

func parseEOFields(fields []string) (EOData, error) {
	if len(fields) < minEOColumns {
		return EOData{}, fmt.Errorf("expected at least %d columns, got %d", minEOColumns, len(fields))
	}
	if fields[0] == "" {
		return EOData{}, errors.New("empty photo id")
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return EOData{}, fmt.Errorf("column %d: invalid number %q", i+2, fields[i+1])
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return EOData{}, fmt.Errorf("column %d: non-finite coordinate %q", i+2, fields[i+1])
		}
		xyz[i] = v
	}
	return EOData{
		ID:        fields[0],
		X:         xyz[0],
		Y:         xyz[1],
		Z:         xyz[2],
		Timestamp: fields[len(fields)-1],
	}, nil
}

// LoadEOFiles reads and concatenates several EO files. Unreadable files and
// bad rows are logged and skipped. No usable row across all files is an
// *align.InputError.
func LoadEOFiles(fsys fsutil.FileSystem, paths []string) ([]EOData, error) {
	var out []EOData
	for _, path := range paths {
		data, err := fsutil.ReadFileLimit(fsys, path, MaxEOFileSize)
		if err != nil {
			monitoring.Logf("[ingest] skipping EO file %s: %v", path, err)
			continue
		}
		recs, rowErrs, err := ParseEO(bytes.NewReader(data), path)
		for _, re := range rowErrs {
			monitoring.Logf("[ingest] skipping EO row %v", &re)
		}
		if err != nil {
			monitoring.Logf("[ingest] skipping EO file %s: %v", path, err)
			continue
		}
		out = append(out, recs...)
	}
	if len(out) == 0 {
		return nil, align.NewInputError(strings.Join(paths, ","), align.ErrEmptySequence)
	}
	return out, nil
}
