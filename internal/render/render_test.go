package render

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/beamscan/internal/livefit"
)

func TestPlotRenderer_UpdatesInPlace(t *testing.T) {
	r := NewPlotRenderer("scan", "theta", "counts")

	h0, err := r.Draw([]float64{0, 1}, []float64{5, 6}, "theta")
	require.NoError(t, err)
	h1, err := r.Draw([]float64{0, 1}, []float64{5.5, 5.5}, "Linear fit")
	require.NoError(t, err)

	require.NoError(t, r.Update(h1, []float64{0, 1, 2}, []float64{1, 2, 3}))

	lines := r.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, plotter.XYs{{X: 0, Y: 5}, {X: 1, Y: 6}}, lines[0])
	assert.Equal(t, plotter.XYs{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 3}}, lines[1])
	assert.NotEqual(t, h0, h1)
}

func TestPlotRenderer_Errors(t *testing.T) {
	r := NewPlotRenderer("scan", "x", "y")

	_, err := r.Draw([]float64{0, 1}, []float64{1}, "bad")
	assert.Error(t, err)

	assert.ErrorIs(t, r.Update(plotHandle(3), nil, nil), ErrUnknownHandle)
	assert.ErrorIs(t, r.Update(chartHandle(0), nil, nil), ErrUnknownHandle)

	h, err := r.Draw([]float64{0}, []float64{1}, "ok")
	require.NoError(t, err)
	assert.Error(t, r.Update(h, []float64{0, 1}, []float64{1}))
}

func TestPlotRenderer_Save(t *testing.T) {
	r := NewPlotRenderer("scan", "x", "y")
	_, err := r.Draw([]float64{0, 1, 2}, []float64{1, 4, 9}, "data")
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"out.png", "nested/out.svg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, r.Save(path))
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}

	r.ShowPath = filepath.Join(dir, "show.png")
	require.NoError(t, r.Show())
	assert.FileExists(t, r.ShowPath)
}

func TestChartRenderer(t *testing.T) {
	c := NewChartRenderer("beamscan", "theta", "counts")

	h, err := c.Draw([]float64{0, 1}, []float64{3, 4}, "theta")
	require.NoError(t, err)
	require.NoError(t, c.Update(h, []float64{0, 1, 2}, []float64{3, 4, 42.5}))
	assert.ErrorIs(t, c.Update(chartHandle(7), nil, nil), ErrUnknownHandle)

	var buf bytes.Buffer
	require.NoError(t, c.Render(&buf))
	body := buf.String()
	assert.Contains(t, body, "beamscan")
	assert.Contains(t, body, "theta")
	assert.Contains(t, body, "42.5")

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/beamscan/chart", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	path := filepath.Join(t.TempDir(), "chart.html")
	require.NoError(t, c.Save(path))
	assert.FileExists(t, path)
}

func TestTee(t *testing.T) {
	p := NewPlotRenderer("scan", "x", "y")
	c := NewChartRenderer("scan", "x", "y")
	tee := Tee{p, c}

	h, err := tee.Draw([]float64{0}, []float64{1}, "data")
	require.NoError(t, err)
	require.NoError(t, tee.Update(h, []float64{0, 1}, []float64{1, 2}))

	assert.Equal(t, plotter.XYs{{X: 0, Y: 1}, {X: 1, Y: 2}}, p.Lines()[0])
	assert.Equal(t, []float64{1, 2}, c.series[0].ys)

	assert.ErrorIs(t, tee.Update(plotHandle(0), nil, nil), ErrUnknownHandle)
}

func TestNew(t *testing.T) {
	_, ok := New("out/scan.html", "t", "x", "y").(*ChartRenderer)
	assert.True(t, ok)

	r, ok := New("scan.svg", "t", "x", "y").(*PlotRenderer)
	require.True(t, ok)
	assert.Equal(t, "scan.svg", r.ShowPath)

	var _ livefit.Renderer = Tee{}
}
