// Package chart renders run metrics to SVG and PNG files.
package chart

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/joshdurbin/strava-runstats/internal/metrics"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Default output size.
const (
	DefaultWidth  = 11 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

// DefaultFormats are the file extensions each chart is saved as.
var DefaultFormats = []string{"svg", "png"}

// ErrNoData is returned by a chart with nothing to plot.
var ErrNoData = errors.New("no data to plot")

var (
	pointFill = color.RGBA{R: 0x72, G: 0x7f, B: 0xfc, A: 0xff}
	lineColor = color.RGBA{B: 0xff, A: 0xff}
)

// Options selects which charts to render.
type Options struct {
	All             bool
	Distance        bool
	Pace            bool
	HeartRate       bool
	Cadence         bool
	WeeklyDistance  bool
	HeartRateVsPace bool
	CadenceVsPace   bool
}

// Any reports whether at least one chart is selected.
func (o Options) Any() bool {
	return o.All || o.Distance || o.Pace || o.HeartRate || o.Cadence ||
		o.WeeklyDistance || o.HeartRateVsPace || o.CadenceVsPace
}

type chartSpec struct {
	name     string
	label    string
	selected func(Options) bool
	build    func(*metrics.Summary) (*plot.Plot, error)
}

var charts = []chartSpec{
	{"distances", "distances", func(o Options) bool { return o.Distance }, distancePlot},
	{"paces", "paces", func(o Options) bool { return o.Pace }, pacePlot},
	{"heart_rates", "heart rates", func(o Options) bool { return o.HeartRate }, heartRatePlot},
	{"cadences", "cadences", func(o Options) bool { return o.Cadence }, cadencePlot},
	{"weekly_distance", "weekly distances", func(o Options) bool { return o.WeeklyDistance }, weeklyPlot},
	{"hr_vs_pace", "heart rate vs pace", func(o Options) bool { return o.HeartRateVsPace }, heartRateVsPacePlot},
	{"cadence_vs_pace", "cadence vs pace", func(o Options) bool { return o.CadenceVsPace }, cadenceVsPacePlot},
}

// Names lists the base file name of every chart, in render order.
func Names() []string {
	names := make([]string, len(charts))
	for i, c := range charts {
		names[i] = c.name
	}
	return names
}

// Renderer writes charts into Dir.
type Renderer struct {
	Dir     string
	Width   vg.Length
	Height  vg.Length
	Formats []string
}

// NewRenderer returns a Renderer with the default size and formats.
func NewRenderer(dir string) *Renderer {
	return &Renderer{Dir: dir, Width: DefaultWidth, Height: DefaultHeight, Formats: DefaultFormats}
}

// Render draws every selected chart and returns the written file paths. A
// chart with no plottable points is skipped with a warning.
func (r *Renderer) Render(s *metrics.Summary, opts Options) ([]string, error) {
	log := logging.Component("chart")

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var written []string
	for _, c := range charts {
		if !opts.All && !c.selected(opts) {
			continue
		}

		log.Info().Str("chart", c.label).Msg("plotting")
		p, err := c.build(s)
		if errors.Is(err, ErrNoData) {
			log.Warn().Str("chart", c.label).Msg("skipped: no plottable points")
			continue
		}
		if err != nil {
			return written, fmt.Errorf("building %s chart: %w", c.name, err)
		}

		for _, ext := range r.Formats {
			path := filepath.Join(r.Dir, c.name+"."+ext)
			if err := p.Save(r.Width, r.Height, path); err != nil {
				return written, fmt.Errorf("saving %s: %w", path, err)
			}
			written = append(written, path)
		}
	}
	return written, nil
}

// axis describes the fixed y axis of a per-run time series.
type axis struct {
	min, max, step float64
	refs           []float64
}

func distancePlot(s *metrics.Summary) (*plot.Plot, error) {
	return timeSeries(s, seriesOf(s, func(r metrics.Run) float64 { return r.DistanceKm }),
		fmt.Sprintf("Running distance in kilometers (%d runs)", s.TotalRuns), "Distance (km)",
		axis{min: 0, max: 25, step: 2.5, refs: []float64{5, 10}})
}

func pacePlot(s *metrics.Summary) (*plot.Plot, error) {
	return timeSeries(s, seriesOf(s, func(r metrics.Run) float64 { return r.Pace }),
		fmt.Sprintf("Running pace in minutes per kilometer (%d runs)", s.TotalRuns), "Pace (mins/km)",
		axis{min: 4.5, max: 7.5, step: 0.5, refs: []float64{5}})
}

func heartRatePlot(s *metrics.Summary) (*plot.Plot, error) {
	return timeSeries(s, seriesOf(s, func(r metrics.Run) float64 { return r.HeartRate }),
		fmt.Sprintf("Heartrate in bpm (%d runs)", s.TotalRuns), "HR (bpm)",
		axis{min: 130, max: 190, step: 10})
}

func cadencePlot(s *metrics.Summary) (*plot.Plot, error) {
	return timeSeries(s, seriesOf(s, func(r metrics.Run) float64 { return r.Cadence }),
		fmt.Sprintf("Cadence in steps per minute (%d runs)", s.TotalRuns), "Cadence (spm)",
		axis{min: 140, max: 185, step: 5, refs: []float64{180}})
}

// seriesOf returns (unix seconds, value) points, skipping non-finite values.
func seriesOf(s *metrics.Summary, value func(metrics.Run) float64) plotter.XYs {
	var xys plotter.XYs
	for _, r := range s.Runs {
		v := value(r)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(r.Date.Unix()), Y: v})
	}
	return xys
}

func timeSeries(s *metrics.Summary, xys plotter.XYs, title, ylabel string, y axis) (*plot.Plot, error) {
	if len(xys) == 0 {
		return nil, ErrNoData
	}

	p := newPlot(title, "Date", ylabel)
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}

	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	styleLinePoints(line, points)
	p.Add(line, points)

	for _, ref := range y.refs {
		p.Add(referenceLine(ref))
	}

	first, last := s.DateRange()
	p.X.Min, p.X.Max = float64(first.Unix()), float64(last.Unix())
	if p.X.Min == p.X.Max {
		p.X.Min -= 86400
		p.X.Max += 86400
	}
	p.Y.Min, p.Y.Max = y.min, y.max
	p.Y.Tick.Marker = constantTicks(y.min, y.max, y.step)

	return p, nil
}

func weeklyPlot(s *metrics.Summary) (*plot.Plot, error) {
	if len(s.Weeks) == 0 {
		return nil, ErrNoData
	}

	p := newPlot("Weekly distance", "Week number", "Weekly distance (km)")

	xys := make(plotter.XYs, len(s.Weeks))
	for i, w := range s.Weeks {
		xys[i] = plotter.XY{X: float64(i), Y: w.Total}
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	styleLinePoints(line, points)
	p.Add(line, points)

	last := float64(len(s.Weeks) - 1)
	p.X.Tick.Marker = constantTicks(0, last, 5)
	return p, nil
}

func heartRateVsPacePlot(s *metrics.Summary) (*plot.Plot, error) {
	pairs := s.PaceVsHeartRate()
	if len(pairs) == 0 {
		return nil, ErrNoData
	}

	p := newPlot("Average HR vs pace", "Pace (mins/km)", "HR (bpm)")

	xys := make(plotter.XYs, len(pairs))
	xs := make([]float64, len(pairs))
	ys := make([]float64, len(pairs))
	for i, pair := range pairs {
		xys[i] = plotter.XY{X: pair.X, Y: pair.Y}
		xs[i], ys[i] = pair.X, pair.Y
	}

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyleFunc = distanceColours(pairs)
	p.Add(scatter)
	p.Legend.Add("colour: distance (km), blue short to red long")

	if len(pairs) >= 2 {
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		if !math.IsNaN(alpha) && !math.IsNaN(beta) {
			fit := plotter.NewFunction(func(x float64) float64 { return alpha + beta*x })
			fit.XMin, fit.XMax = 4.3, 7.5
			fit.Color = lineColor
			fit.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
			p.Add(fit)
			p.Legend.Add("least-squares fit", fit)
		}
	}

	p.Y.Min, p.Y.Max = 130, 190
	p.Y.Tick.Marker = constantTicks(130, 190, 10)
	return p, nil
}

func cadenceVsPacePlot(s *metrics.Summary) (*plot.Plot, error) {
	pairs := s.PaceVsCadence()
	if len(pairs) == 0 {
		return nil, ErrNoData
	}

	p := newPlot("Average cadence vs pace", "Pace (mins/km)", "Cadence (steps/min)")

	xys := make(plotter.XYs, len(pairs))
	for i, pair := range pairs {
		xys[i] = plotter.XY{X: pair.X, Y: pair.Y}
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle = pointGlyph(pointFill)
	p.Add(scatter)
	return p, nil
}

func newPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())
	return p
}

func styleLinePoints(line *plotter.Line, points *plotter.Scatter) {
	line.Color = lineColor
	points.GlyphStyle = pointGlyph(pointFill)
}

func pointGlyph(c color.Color) draw.GlyphStyle {
	return draw.GlyphStyle{Color: c, Radius: vg.Points(3), Shape: draw.CircleGlyph{}}
}

// referenceLine is a dashed horizontal line at y.
func referenceLine(y float64) *plotter.Function {
	f := plotter.NewFunction(func(float64) float64 { return y })
	f.Color = color.Black
	f.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
	return f
}

// distanceColours maps each point's distance onto a diverging colour map.
func distanceColours(pairs []metrics.Pair) func(int) draw.GlyphStyle {
	cmap := moreland.SmoothBlueRed()
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, pair := range pairs {
		lo = math.Min(lo, pair.Weight)
		hi = math.Max(hi, pair.Weight)
	}
	if hi <= lo {
		hi = lo + 1
	}
	cmap.SetMin(lo)
	cmap.SetMax(hi)

	return func(i int) draw.GlyphStyle {
		c, err := cmap.At(pairs[i].Weight)
		if err != nil {
			c = pointFill
		}
		return pointGlyph(c)
	}
}

// constantTicks returns labelled ticks from min to max inclusive.
func constantTicks(min, max, step float64) plot.ConstantTicks {
	var ticks plot.ConstantTicks
	for i := 0; ; i++ {
		v := min + float64(i)*step
		if v > max+step*1e-9 {
			break
		}
		ticks = append(ticks, plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'f', -1, 64)})
	}
	return ticks
}
