package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ChartOptions controls the HTML chart page.
type ChartOptions struct {
	Title string
	// AssetsHost overrides where echarts.min.js is loaded from. Empty uses
	// the go-echarts default.
	AssetsHost string
}

// ShiftLineChart plots mean and max 3D residual per shift. Shifts without
// matches are rendered as gaps.
func ShiftLineChart(res *align.SearchResult, o ChartOptions) *charts.Line {
	c := NewShiftCurve(o.Title, res)

	x := make([]string, len(c.Shifts))
	avg := make([]opts.LineData, len(c.Shifts))
	mx := make([]opts.LineData, len(c.Shifts))
	for i, s := range c.Shifts {
		x[i] = strconv.Itoa(s)
		avg[i] = opts.LineData{Value: chartValue(c.Avg3D[i])}
		mx[i] = opts.LineData{Value: chartValue(c.Max3D[i])}
	}

	subtitle := "no eligible shift"
	if res.Found {
		subtitle = fmt.Sprintf("best shift %d (%s = %.3f m)", res.BestShift, res.Objective, res.BestScore)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: "100%", Height: "480px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "shift"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "residual (m)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(x).
		AddSeries("avg 3D", avg).
		AddSeries("max 3D", mx)
	return line
}

// ResidualBarChart plots the 3D residual of each matched key for one shift.
func ResidualBarChart(ev align.Evaluation, o ChartOptions) *charts.Bar {
	x := make([]string, len(ev.Matches))
	y := make([]opts.BarData, len(ev.Matches))
	for i, m := range ev.Matches {
		x[i] = m.Key
		y[i] = opts.BarData{Value: chartValue(m.Distance3D)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Residuals at shift %d", ev.Shift),
			Subtitle: fmt.Sprintf("%d matches, avg %.3f m", ev.Stats.MatchCount, ev.Stats.Avg3D),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "key"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "3D residual (m)"}),
	)
	bar.SetXAxis(x).AddSeries("distance 3D", y)
	return bar
}

// RenderPage writes an HTML page holding the shift curve and, when ev has
// matches, the residual bars of that shift.
func RenderPage(w io.Writer, res *align.SearchResult, ev *align.Evaluation, o ChartOptions) error {
	page := components.NewPage()
	page.PageTitle = o.Title
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(ShiftLineChart(res, o))
	if ev != nil && len(ev.Matches) > 0 {
		page.AddCharts(ResidualBarChart(*ev, o))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart page: %w", err)
	}
	return nil
}

// chartValue maps non-finite values to nil so echarts draws a gap.
func chartValue(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}
