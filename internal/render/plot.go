package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/beamscan/internal/livefit"
	"github.com/banshee-data/beamscan/internal/monitoring"
)

// PlotRenderer keeps one gonum plot and mutates its lines in place.
type PlotRenderer struct {
	Width  vg.Length
	Height vg.Length
	// ShowPath is where Show saves the image. Defaults to beamscan.png
	// in the temp directory.
	ShowPath string

	mu    sync.Mutex
	plot  *plot.Plot
	lines []*plotter.Line
}

type plotHandle int

func NewPlotRenderer(title, xLabel, yLabel string) *PlotRenderer {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	return &PlotRenderer{
		Width:  8 * vg.Inch,
		Height: 5 * vg.Inch,
		plot:   p,
	}
}

func toXYs(xs, ys []float64) (plotter.XYs, error) {
	if err := checkSeries(xs, ys); err != nil {
		return nil, err
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	return pts, nil
}

func (r *PlotRenderer) Draw(xs, ys []float64, label string) (livefit.Handle, error) {
	pts, err := toXYs(xs, ys)
	if err != nil {
		return nil, err
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", label, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	line.Color = plotutil.Color(len(r.lines))
	line.Width = vg.Points(1.5)
	if len(r.lines) > 0 {
		line.Dashes = plotutil.Dashes(1)
	}
	r.plot.Add(line)
	r.plot.Legend.Add(label, line)
	r.lines = append(r.lines, line)
	return plotHandle(len(r.lines) - 1), nil
}

func (r *PlotRenderer) Update(h livefit.Handle, xs, ys []float64) error {
	idx, ok := h.(plotHandle)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok || int(idx) < 0 || int(idx) >= len(r.lines) {
		return ErrUnknownHandle
	}
	pts, err := toXYs(xs, ys)
	if err != nil {
		return err
	}
	r.lines[idx].XYs = pts
	return nil
}

// Lines returns a copy of the points currently held by each line.
func (r *PlotRenderer) Lines() []plotter.XYs {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]plotter.XYs, len(r.lines))
	for i, l := range r.lines {
		out[i] = append(plotter.XYs(nil), l.XYs...)
	}
	return out
}

// Save writes the plot; the format follows the extension (png, svg, pdf, ...).
func (r *PlotRenderer) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.plot.Save(r.Width, r.Height, path); err != nil {
		return fmt.Errorf("render: save %s: %w", path, err)
	}
	return nil
}

func (r *PlotRenderer) Show() error {
	path := r.ShowPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "beamscan.png")
	}
	if err := r.Save(path); err != nil {
		return err
	}
	monitoring.Logf("plot written to %s", path)
	return nil
}
