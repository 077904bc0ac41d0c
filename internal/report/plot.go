package report

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"

	"github.com/banshee-data/ppk.report/internal/align"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

var (
	avgColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	maxColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	bestColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// ShiftCurve is the data behind the per-shift plot.
type ShiftCurve struct {
	Title     string
	Shifts    []int
	Avg3D     []float64
	Max3D     []float64
	BestShift int
	Found     bool
}

// NewShiftCurve extracts a curve from per-shift statistics in shift order.
func NewShiftCurve(title string, res *align.SearchResult) ShiftCurve {
	c := ShiftCurve{Title: title, BestShift: res.BestShift, Found: res.Found}
	for s := range res.PerShift {
		c.Shifts = append(c.Shifts, s)
	}
	sort.Ints(c.Shifts)
	for _, s := range c.Shifts {
		c.Avg3D = append(c.Avg3D, res.PerShift[s].Avg3D)
		c.Max3D = append(c.Max3D, res.PerShift[s].Max3D)
	}
	return c
}

// PlotShiftCurve draws mean and max 3D residual against shift as PNG.
// Shifts without matches are left out of the lines.
func PlotShiftCurve(w io.Writer, c ShiftCurve) error {
	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = "Shift (captures)"
	p.Y.Label.Text = "Residual (m)"
	p.Add(plotter.NewGrid())

	avg := finitePoints(c.Shifts, c.Avg3D)
	mx := finitePoints(c.Shifts, c.Max3D)
	if len(avg) == 0 {
		return fmt.Errorf("no shift produced a finite residual")
	}

	avgLine, err := plotter.NewLine(avg)
	if err != nil {
		return fmt.Errorf("avg line: %w", err)
	}
	avgLine.Color = avgColor
	avgLine.Width = vg.Points(1.5)
	p.Add(avgLine)
	p.Legend.Add("avg 3D", avgLine)

	maxLine, err := plotter.NewLine(mx)
	if err != nil {
		return fmt.Errorf("max line: %w", err)
	}
	maxLine.Color = maxColor
	maxLine.Width = vg.Points(1)
	maxLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(maxLine)
	p.Legend.Add("max 3D", maxLine)

	if c.Found {
		for i, s := range c.Shifts {
			if s != c.BestShift || math.IsInf(c.Avg3D[i], 0) {
				continue
			}
			best, err := plotter.NewScatter(plotter.XYs{{X: float64(s), Y: c.Avg3D[i]}})
			if err != nil {
				return fmt.Errorf("best marker: %w", err)
			}
			best.Color = bestColor
			best.Radius = vg.Points(4)
			p.Add(best)
			p.Legend.Add(fmt.Sprintf("best shift %d", s), best)
		}
	}
	p.Legend.Top = true

	return writePNG(p, w)
}

// PlotResiduals draws each matched key's horizontal residual (dx, dy) as a
// scatter, one point per image.
func PlotResiduals(w io.Writer, title string, dx, dy []float64) error {
	if len(dx) != len(dy) {
		return fmt.Errorf("residual lengths differ: %d and %d", len(dx), len(dy))
	}
	if len(dx) == 0 {
		return fmt.Errorf("no residuals to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "dx easting (m)"
	p.Y.Label.Text = "dy northing (m)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(dx))
	for i := range dx {
		pts[i] = plotter.XY{X: dx[i], Y: dy[i]}
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("residual scatter: %w", err)
	}
	sc.Color = avgColor
	sc.Radius = vg.Points(2)
	p.Add(sc)

	return writePNG(p, w)
}

func finitePoints(xs []int, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs))
	for i, x := range xs {
		if math.IsInf(ys[i], 0) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(x), Y: ys[i]})
	}
	return pts
}

func writePNG(p *plot.Plot, w io.Writer) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
