// Package render draws before/after plots of squared building rings.
package render

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/unsquare/internal/geom"
	"github.com/banshee-data/unsquare/internal/security"
)

var (
	beforeColor = color.RGBA{R: 200, G: 60, B: 60, A: 255}
	afterColor  = color.RGBA{R: 40, G: 110, B: 200, A: 255}
)

// plotSize is the edge length of the square image.
const plotSize = 6 * vg.Inch

// WriteComparison saves a plot of before (dashed) and after to path. The
// image format follows the extension of path. Coordinates are drawn relative
// to the centroid of before, on equal axes so right angles look right.
func WriteComparison(path, title string, before, after geom.Ring) error {
	if len(before) == 0 {
		return fmt.Errorf("nothing to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	origin := geom.Centroid(geom.Vertices(before))
	beforePts := relative(before, origin)

	beforeLine, err := plotter.NewLine(beforePts)
	if err != nil {
		return err
	}
	beforeLine.Color = beforeColor
	beforeLine.Width = vg.Points(1)
	beforeLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(beforeLine)
	p.Legend.Add("original", beforeLine)

	extent := bounds(beforePts)
	if len(after) > 0 {
		afterPts := relative(after, origin)
		afterLine, afterPoints, err := plotter.NewLinePoints(afterPts)
		if err != nil {
			return err
		}
		afterLine.Color = afterColor
		afterLine.Width = vg.Points(1.5)
		afterPoints.Color = afterColor
		afterPoints.Radius = vg.Points(2)
		p.Add(afterLine, afterPoints)
		p.Legend.Add("squared", afterLine)
		extent = math.Max(extent, bounds(afterPts))
	}

	pad := extent * 1.1
	if pad == 0 {
		pad = 1
	}
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(plotSize, plotSize, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// Plotter writes one comparison image per entity into a directory. Entity
// IDs that sanitize to the same file name get a numeric suffix.
type Plotter struct {
	dir  string
	used map[string]bool
}

// NewPlotter creates dir if needed.
func NewPlotter(dir string) (*Plotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}
	return &Plotter{dir: dir, used: make(map[string]bool)}, nil
}

// Plot writes the comparison for entityID and returns the file path.
func (pl *Plotter) Plot(entityID string, before, after geom.Ring) (string, error) {
	path, err := security.SafeJoin(pl.dir, entityID, ".png")
	if err != nil {
		return "", err
	}
	for n := 2; pl.used[path]; n++ {
		if path, err = security.SafeJoin(pl.dir, entityID, fmt.Sprintf("_%d.png", n)); err != nil {
			return "", err
		}
	}
	if err := WriteComparison(path, entityID, before, after); err != nil {
		return "", err
	}
	pl.used[path] = true
	return path, nil
}

// Written returns the number of plots saved so far.
func (pl *Plotter) Written() int {
	return len(pl.used)
}

func relative(r geom.Ring, origin geom.Point) plotter.XYs {
	pts := make(plotter.XYs, len(r))
	for i, p := range r {
		d := geom.Sub(p, origin)
		pts[i] = plotter.XY{X: d[0], Y: d[1]}
	}
	return pts
}

// bounds returns the largest absolute coordinate in pts.
func bounds(pts plotter.XYs) float64 {
	var m float64
	for _, p := range pts {
		m = math.Max(m, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	return m
}
