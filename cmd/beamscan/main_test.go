package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beamscan/internal/config"
	"github.com/banshee-data/beamscan/internal/fit"
	"github.com/banshee-data/beamscan/internal/plan"
	"github.com/banshee-data/beamscan/internal/render"
	"github.com/banshee-data/beamscan/internal/scan"
)

func TestScanFlagRepeats(t *testing.T) {
	var s stringList
	require.NoError(t, s.Set("theta:0:1:0.5"))
	require.NoError(t, s.Set("height:0:10:5"))
	assert.Equal(t, stringList{"theta:0:1:0.5", "height:0:10:5"}, s)
	assert.Equal(t, "theta:0:1:0.5 height:0:10:5", s.String())
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title": "rock", "fit": "gaussian", "scan": {"axis": "theta", "values": [0, 1]}}`), 0o644))

	testCases := []struct {
		name      string
		path      string
		specs     []string
		wantTitle string
		expectErr bool
	}{
		{"from_file", path, nil, "rock", false},
		{"from_flags", "", []string{"theta:0:1:0.5"}, "", false},
		{"neither", "", nil, "", true},
		{"both", path, []string{"theta:0:1:0.5"}, "", true},
		{"bad_flag", "", []string{"theta"}, "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := loadPlan(tc.path, tc.specs)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantTitle, p.Title)
			n, err := p.Scan.Build(func(string) scan.Action { return nil })
			require.NoError(t, err)
			assert.Equal(t, []string{"theta"}, scan.Axes(n))
		})
	}
}

func TestResolveSettings(t *testing.T) {
	frames := 7
	db := "runs.db"
	cfg := &config.InstrumentConfig{Database: &db}

	s := resolveSettings(&plan.Plan{Fit: "linear", Frames: &frames}, cfg)
	assert.Equal(t, "scan", s.title)
	assert.Equal(t, "linear", s.fit)
	assert.Equal(t, 7, s.frames)
	assert.Equal(t, "runs.db", s.database)

	s = resolveSettings(&plan.Plan{Title: "rock"}, &config.InstrumentConfig{})
	assert.Equal(t, "rock", s.title)
	assert.Equal(t, 50, s.frames)
	assert.Equal(t, "beamscan.db", s.database)
	assert.Empty(t, s.debugListen)
}

func TestRendererFor(t *testing.T) {
	testCases := []struct {
		name      string
		kind      string
		path      string
		wantChart bool
		expectErr bool
	}{
		{"auto_png", config.RendererAuto, "out.png", false, false},
		{"auto_html", config.RendererAuto, "out.html", true, false},
		{"image", config.RendererImage, "out.svg", false, false},
		{"image_html", config.RendererImage, "out.html", false, true},
		{"html", config.RendererHTML, "", true, false},
		{"both", config.RendererBoth, "out.html", true, false},
		{"unknown", "ascii", "", false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, chart, err := rendererFor(tc.kind, tc.path, "t", "theta", "counts")
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r)
			assert.Equal(t, tc.wantChart, chart != nil)
		})
	}
}

func TestRendererFor_BothPaths(t *testing.T) {
	r, chart, err := rendererFor(config.RendererBoth, filepath.Join("plots", "rock.html"), "t", "theta", "counts")
	require.NoError(t, err)
	tee, ok := r.(render.Tee)
	require.True(t, ok)
	require.Len(t, tee, 2)
	assert.Equal(t, filepath.Join("plots", "rock.png"), tee[0].(*render.PlotRenderer).ShowPath)
	assert.Equal(t, filepath.Join("plots", "rock.html"), chart.ShowPath)
}

func TestRecorders(t *testing.T) {
	var got []string
	ok := scan.RecorderFunc(func(_ context.Context, title string, _ scan.Position, _ float64) error {
		got = append(got, title)
		return nil
	})
	boom := errors.New("boom")
	failing := scan.RecorderFunc(func(context.Context, string, scan.Position, float64) error { return boom })

	require.NoError(t, recorders{ok, ok}.Record(context.Background(), "a", scan.Position{"x": 1}, 2))
	assert.Equal(t, []string{"a", "a"}, got)

	got = nil
	err := recorders{failing, ok}.Record(context.Background(), "b", scan.Position{"x": 1}, 2)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, got)
}

func TestFormatDescription(t *testing.T) {
	d := fit.Description{
		"Linear":   fit.Description{"slope": 2.0, "intercept": 0.5},
		"Gaussian": fit.Description{"center": 1.25},
	}
	want := "Gaussian:\n  center = 1.25\nLinear:\n  intercept = 0.5\n  slope = 2\n"
	assert.Equal(t, want, formatDescription(d, ""))
}

// blockingMonitor runs until its context is cancelled.
type blockingMonitor struct {
	started  chan struct{}
	returned atomic.Bool
}

func (m *blockingMonitor) Monitor(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	m.returned.Store(true)
	return ctx.Err()
}

func TestStartMonitor_StopWaitsForReturn(t *testing.T) {
	m := &blockingMonitor{started: make(chan struct{})}
	stop := startMonitor(context.Background(), m)
	<-m.started
	assert.False(t, m.returned.Load())

	stop()
	assert.True(t, m.returned.Load(), "stop returns only after Monitor has")
}

func TestStartMonitor_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &blockingMonitor{started: make(chan struct{})}
	stop := startMonitor(ctx, m)
	<-m.started
	cancel()
	stop()
	assert.True(t, m.returned.Load())
}
