package render

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/beamscan/internal/livefit"
	"github.com/banshee-data/beamscan/internal/monitoring"
)

// ChartRenderer keeps the series in memory and renders an echarts line
// chart on demand. It also serves the current chart over HTTP so a scan
// can be watched while it runs.
type ChartRenderer struct {
	// ShowPath is where Show writes the page. Defaults to beamscan.html
	// in the temp directory.
	ShowPath string

	title, xLabel, yLabel string

	mu     sync.Mutex
	series []chartSeries
}

type chartSeries struct {
	label string
	xs    []float64
	ys    []float64
}

type chartHandle int

func NewChartRenderer(title, xLabel, yLabel string) *ChartRenderer {
	return &ChartRenderer{title: title, xLabel: xLabel, yLabel: yLabel}
}

func (c *ChartRenderer) Draw(xs, ys []float64, label string) (livefit.Handle, error) {
	if err := checkSeries(xs, ys); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = append(c.series, chartSeries{
		label: label,
		xs:    append([]float64(nil), xs...),
		ys:    append([]float64(nil), ys...),
	})
	return chartHandle(len(c.series) - 1), nil
}

func (c *ChartRenderer) Update(h livefit.Handle, xs, ys []float64) error {
	idx, ok := h.(chartHandle)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok || int(idx) < 0 || int(idx) >= len(c.series) {
		return ErrUnknownHandle
	}
	if err := checkSeries(xs, ys); err != nil {
		return err
	}
	c.series[idx].xs = append(c.series[idx].xs[:0], xs...)
	c.series[idx].ys = append(c.series[idx].ys[:0], ys...)
	return nil
}

// Render writes the chart page to w.
func (c *ChartRenderer) Render(w io.Writer) error {
	c.mu.Lock()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: c.title, Width: "900px", Height: "560px"}),
		charts.WithTitleOpts(opts.Title{Title: c.title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: c.xLabel, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: c.yLabel, Scale: opts.Bool(true)}),
	)
	for i, s := range c.series {
		data := make([]opts.LineData, len(s.xs))
		for j := range s.xs {
			data[j] = opts.LineData{Value: []interface{}{s.xs[j], s.ys[j]}}
		}
		line.AddSeries(s.label, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(i == 0)}))
	}
	c.mu.Unlock()

	return line.Render(w)
}

// ServeHTTP renders the current chart.
func (c *ChartRenderer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (c *ChartRenderer) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := c.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render: save %s: %w", path, err)
	}
	return f.Close()
}

func (c *ChartRenderer) Show() error {
	path := c.ShowPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "beamscan.html")
	}
	if err := c.Save(path); err != nil {
		return err
	}
	monitoring.Logf("chart written to %s", path)
	return nil
}
