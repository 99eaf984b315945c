// Package report consumes fit results downstream of the worker. Recorder
// keeps the displacement history and charts it, MeanRecorder averages live
// profiles into fit templates.
package report

import (
	"fmt"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/timeutil"
)

// Point is one recorded result. The Has fields report which values the
// result carried.
type Point struct {
	Index    int
	Time     time.Time
	Moving   float64
	HasMP    bool
	Ref      float64
	HasRef   bool
	Relative float64
	HasRel   bool
}

// Recorder accumulates results. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	points []Point
	limit  int
	next   int
	clock  timeutil.Clock
}

// NewRecorder keeps the last limit results, or all of them when limit is
// not positive.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock stamping new points.
func (r *Recorder) SetClock(c timeutil.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = timeutil.OrReal(c)
}

// Add records m and returns the stored point.
func (r *Recorder) Add(m protocol.ResultMessage) Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Point{Index: r.next, Time: r.clock.Now()}
	r.next++
	if m.DisplacementMP != nil {
		p.Moving, p.HasMP = *m.DisplacementMP, true
	}
	if m.DisplacementRef != nil {
		p.Ref, p.HasRef = *m.DisplacementRef, true
	}
	p.Relative, p.HasRel = m.Relative()

	r.points = append(r.points, p)
	if r.limit > 0 && len(r.points) > r.limit {
		r.points = append(r.points[:0:0], r.points[len(r.points)-r.limit:]...)
	}
	return p
}

// Points returns a copy of the recorded points, oldest first.
func (r *Recorder) Points() []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.points...)
}

// Len returns the number of recorded points.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

type series struct {
	name string
	pts  plotter.XYs
}

func (r *Recorder) series() []series {
	all := []series{{name: "displacement_mp"}, {name: "displacement_ref"}, {name: "mp - ref"}}
	for _, p := range r.Points() {
		x := float64(p.Index)
		if p.HasMP {
			all[0].pts = append(all[0].pts, plotter.XY{X: x, Y: p.Moving})
		}
		if p.HasRef {
			all[1].pts = append(all[1].pts, plotter.XY{X: x, Y: p.Ref})
		}
		if p.HasRel {
			all[2].pts = append(all[2].pts, plotter.XY{X: x, Y: p.Relative})
		}
	}
	return all
}

var seriesColors = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
}

// SavePNG writes the displacement time series to file.
func (r *Recorder) SavePNG(file string) error {
	p := plot.New()
	p.Title.Text = "Peak displacement"
	p.X.Label.Text = "Result"
	p.Y.Label.Text = "Displacement (px)"

	for i, s := range r.series() {
		if len(s.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("line %s: %w", s.name, err)
		}
		line.Width = vg.Points(1)
		line.Color = seriesColors[i%len(seriesColors)]
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save displacement plot: %w", err)
	}
	return nil
}

// WriteHTML renders the displacement time series as an interactive chart.
func (r *Recorder) WriteHTML(w io.Writer, title string) error {
	points := r.Points()
	x := make([]int, len(points))
	mp := make([]opts.LineData, len(points))
	ref := make([]opts.LineData, len(points))
	rel := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = p.Index
		mp[i] = lineValue(p.Moving, p.HasMP)
		ref[i] = lineValue(p.Ref, p.HasRef)
		rel[i] = lineValue(p.Relative, p.HasRel)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("results=%d", len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Result", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Displacement (px)", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("displacement_mp", mp).
		AddSeries("displacement_ref", ref).
		AddSeries("mp - ref", rel)
	return line.Render(w)
}

// lineValue leaves a gap for a missing peak.
func lineValue(v float64, ok bool) opts.LineData {
	if !ok {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}
