package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/relabs-tech/motion_logger/internal/motion"
)

// Series colours, in X, Y, Z order.
var seriesColors = []color.Color{
	color.RGBA{R: 193, G: 37, B: 82, A: 255},
	color.RGBA{R: 245, G: 199, B: 0, A: 255},
	color.RGBA{R: 106, G: 150, B: 31, A: 255},
}

// Default image size for RenderPNG.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// Plot builds the line chart for snap. Non-finite values are skipped, the
// plotter cannot place them.
func Plot(snap Snapshot, labels motion.Labels) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = labels.Description
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = labels.AxisUnit
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, series := range []struct {
		name string
		pts  []Point
	}{{"X", snap.X}, {"Y", snap.Y}, {"Z", snap.Z}} {
		xys := finiteXYs(series.pts)
		if len(xys) == 0 {
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("chart: %s series: %w", series.name, err)
		}
		line.Color = seriesColors[i]
		line.Width = vg.Points(1.3)
		p.Add(line)
		p.Legend.Add(series.name, line)
		drawn++
	}

	if drawn == 0 {
		p.X.Min, p.X.Max = 0, 1
		p.Y.Min, p.Y.Max = -1, 1
	}
	return p, nil
}

func finiteXYs(pts []Point) plotter.XYs {
	xys := make(plotter.XYs, 0, len(pts))
	for _, pt := range pts {
		if math.IsNaN(pt.V) || math.IsInf(pt.V, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: pt.T, Y: pt.V})
	}
	return xys
}

// RenderPNG writes the chart for snap as a PNG image.
func RenderPNG(w io.Writer, snap Snapshot, labels motion.Labels, width, height vg.Length) error {
	p, err := Plot(snap, labels)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("chart: png canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("chart: write png: %w", err)
	}
	return nil
}
