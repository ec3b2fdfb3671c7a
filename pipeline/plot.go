package pipeline

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// PlotFile is the name of the predicted-vs-actual chart artifact.
const PlotFile = "pred_vs_actual.png"

// savePredictionPlot draws predicted against actual quality for the test
// set, with the y = x reference line, and writes a PNG to filename.
func savePredictionPlot(actual, predicted *mat.VecDense, filename string) error {
	n := actual.Len()
	if n == 0 || predicted.Len() != n {
		return errors.NewDimensionError("savePredictionPlot", n, predicted.Len(), 0)
	}

	p := plot.New()
	p.Title.Text = "ElasticNet: predicted vs actual"
	p.X.Label.Text = "actual quality"
	p.Y.Label.Text = "predicted quality"

	pts := make(plotter.XYs, n)
	xs, ys := make([]float64, n), make([]float64, n)
	for i := range pts {
		xs[i], ys[i] = actual.AtVec(i), predicted.AtVec(i)
		pts[i].X, pts[i].Y = xs[i], ys[i]
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "scatter")
	}
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(2)

	lo := math.Min(floats.Min(xs), floats.Min(ys))
	hi := math.Max(floats.Max(xs), floats.Max(ys))
	ref, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "reference line")
	}
	ref.LineStyle.Width = vg.Points(1)
	ref.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(s, ref, plotter.NewGrid())
	p.Legend.Add("test rows", s)
	p.Legend.Add("y = x", ref)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, filename); err != nil {
		return errors.Wrap(err, "save plot")
	}
	return nil
}
