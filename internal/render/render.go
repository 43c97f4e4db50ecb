// Package render draws measured series and fitted curves for the live
// fitting loop. PlotRenderer writes static images with gonum/plot,
// ChartRenderer writes interactive HTML with go-echarts and Tee fans a
// single loop out to several renderers.
package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/beamscan/internal/livefit"
)

// ErrUnknownHandle is returned by Update for handles the renderer did not issue.
var ErrUnknownHandle = errors.New("render: unknown handle")

// New picks a renderer from the output path extension: .html gives a
// ChartRenderer, anything else a PlotRenderer saving to that path.
func New(path, title, xLabel, yLabel string) livefit.Renderer {
	if strings.EqualFold(filepath.Ext(path), ".html") {
		c := NewChartRenderer(title, xLabel, yLabel)
		c.ShowPath = path
		return c
	}
	p := NewPlotRenderer(title, xLabel, yLabel)
	if path != "" {
		p.ShowPath = path
	}
	return p
}

func checkSeries(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("render: %d x values but %d y values", len(xs), len(ys))
	}
	return nil
}

// Tee draws on every renderer in order. Its handles are only valid for
// the same Tee.
type Tee []livefit.Renderer

type teeHandle []livefit.Handle

func (t Tee) Draw(xs, ys []float64, label string) (livefit.Handle, error) {
	hs := make(teeHandle, len(t))
	for i, r := range t {
		h, err := r.Draw(xs, ys, label)
		if err != nil {
			return nil, err
		}
		hs[i] = h
	}
	return hs, nil
}

func (t Tee) Update(h livefit.Handle, xs, ys []float64) error {
	hs, ok := h.(teeHandle)
	if !ok || len(hs) != len(t) {
		return ErrUnknownHandle
	}
	for i, r := range t {
		if err := r.Update(hs[i], xs, ys); err != nil {
			return err
		}
	}
	return nil
}

// Save writes every renderer to path, letting each pick its own format
// from the extension.
func (t Tee) Save(path string) error {
	var errs []error
	for _, r := range t {
		errs = append(errs, r.Save(path))
	}
	return errors.Join(errs...)
}

func (t Tee) Show() error {
	var errs []error
	for _, r := range t {
		errs = append(errs, r.Show())
	}
	return errors.Join(errs...)
}
