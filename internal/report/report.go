package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/fsutil"
	"github.com/banshee-data/ppk.report/internal/monitoring"
	"github.com/banshee-data/ppk.report/internal/security"
)

// Input is everything a report is written from. Result may come from a
// search or be nil for a pinned shift; Evaluation is the shift whose
// residuals are reported.
type Input struct {
	Label      string
	Result     *align.SearchResult
	Evaluation *align.Evaluation
	Objective  *align.Objective
}

// Written lists the files produced by WriteAll.
type Written struct {
	Files []string `json:"files"`
}

// WriteAll writes the report set for in under dir:
//
//	<label>_shifts.csv      per-shift statistics (search only)
//	<label>_shift_curve.png residual against shift (search only)
//	<label>_report.html     echarts page (search only)
//	<label>_matches.csv     residuals of the reported shift
//	<label>_residuals.png   dx/dy scatter of the reported shift
//	<label>_result.json     search result or evaluation
//
// The label is sanitised before use. A plot that has nothing to draw is
// skipped with a log line rather than failing the report.
func WriteAll(fsys fsutil.FileSystem, dir string, in Input) (*Written, error) {
	if in.Result == nil && in.Evaluation == nil {
		return nil, fmt.Errorf("nothing to report")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	label := security.SanitizeLabel(in.Label)
	out := &Written{}

	write := func(suffix string, data []byte) error {
		path, err := security.JoinWithin(dir, label+suffix)
		if err != nil {
			return err
		}
		if err := fsys.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
		out.Files = append(out.Files, path)
		return nil
	}

	if res := in.Result; res != nil {
		var buf bytes.Buffer
		obj := in.Objective
		if obj == nil {
			obj, _ = align.DefaultObjectiveRegistry().Get(res.Objective)
		}
		if err := NewCSVWriter(&buf, nil).WriteShiftStats(res.PerShift, obj, res.BestShift, res.Found); err != nil {
			return nil, fmt.Errorf("shift stats: %w", err)
		}
		if err := write("_shifts.csv", buf.Bytes()); err != nil {
			return nil, err
		}

		buf.Reset()
		if err := PlotShiftCurve(&buf, NewShiftCurve(in.Label, res)); err != nil {
			monitoring.Logf("[report] %s: skipping shift curve: %v", label, err)
		} else if err := write("_shift_curve.png", buf.Bytes()); err != nil {
			return nil, err
		}

		buf.Reset()
		if err := RenderPage(&buf, res, in.Evaluation, ChartOptions{Title: in.Label}); err != nil {
			return nil, err
		}
		if err := write("_report.html", buf.Bytes()); err != nil {
			return nil, err
		}
	}

	if ev := in.Evaluation; ev != nil {
		var buf bytes.Buffer
		if err := NewCSVWriter(nil, &buf).WriteMatches(ev.Matches); err != nil {
			return nil, fmt.Errorf("matches: %w", err)
		}
		if err := write("_matches.csv", buf.Bytes()); err != nil {
			return nil, err
		}

		dx := make([]float64, len(ev.Matches))
		dy := make([]float64, len(ev.Matches))
		for i, m := range ev.Matches {
			dx[i], dy[i] = m.DX, m.DY
		}
		buf.Reset()
		title := fmt.Sprintf("%s residuals at shift %d", in.Label, ev.Shift)
		if err := PlotResiduals(&buf, title, dx, dy); err != nil {
			monitoring.Logf("[report] %s: skipping residual plot: %v", label, err)
		} else if err := write("_residuals.png", buf.Bytes()); err != nil {
			return nil, err
		}
	}

	var payload interface{} = in.Result
	if in.Result == nil {
		payload = in.Evaluation
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if err := write("_result.json", data); err != nil {
		return nil, err
	}
	return out, nil
}
