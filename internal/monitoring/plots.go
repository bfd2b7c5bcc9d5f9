package monitoring

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// EChartsAssetsHost serves the echarts javascript for rendered pages.
var EChartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to plot")

// WriteHistogramPNG renders a distance histogram as PNG.
func WriteHistogramPNG(w io.Writer, distances []float64, bins int, title string) error {
	if len(distances) == 0 {
		return ErrNoData
	}
	if bins <= 0 {
		bins = 50
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "distance (m)"
	p.Y.Label.Text = "pixels"

	h, err := plotter.NewHist(plotter.Values(distances), bins)
	if err != nil {
		return fmt.Errorf("histogram: %w", err)
	}
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SessionPoint is one bar group of the session chart.
type SessionPoint struct {
	Label    string
	Frames   uint64
	Timeouts uint64
	Failures uint64
}

// WriteSessionChart renders per-session counters as an HTML bar chart.
func WriteSessionChart(w io.Writer, title string, points []SessionPoint) error {
	if len(points) == 0 {
		return ErrNoData
	}
	labels := make([]string, len(points))
	framesData := make([]opts.BarData, len(points))
	timeoutsData := make([]opts.BarData, len(points))
	failuresData := make([]opts.BarData, len(points))
	for i, p := range points {
		labels[i] = p.Label
		framesData[i] = opts.BarData{Value: p.Frames}
		timeoutsData[i] = opts.BarData{Value: p.Timeouts}
		failuresData[i] = opts.BarData{Value: p.Failures}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px", AssetsHost: EChartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d sessions", len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("frames", framesData).
		AddSeries("timeouts", timeoutsData).
		AddSeries("failed grabs", failuresData)

	page := components.NewPage()
	page.SetAssetsHost(EChartsAssetsHost)
	page.AddCharts(bar)
	return page.Render(w)
}
