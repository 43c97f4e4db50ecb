// Package acquire runs a scan against an instrument: it moves through the
// scan tree, counts at every position, records each step and keeps a
// live fit of one-dimensional scans up to date.
package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/beamscan/internal/fit"
	"github.com/banshee-data/beamscan/internal/livefit"
	"github.com/banshee-data/beamscan/internal/monitoring"
	"github.com/banshee-data/beamscan/internal/scan"
	"github.com/banshee-data/beamscan/internal/timeutil"
)

// Options configures Run. Every field is optional.
type Options struct {
	// Title is a run title template, see scan.FormatTitle.
	Title string
	// Recorder receives every measured step. Record errors stop the run.
	Recorder scan.Recorder
	// Fit is refined after every step of a one-dimensional scan.
	Fit fit.Fit
	// Renderer draws the measured series and the fitted curves.
	Renderer livefit.Renderer
	// Settle is waited after each move before counting.
	Settle time.Duration
	Clock  timeutil.Clock
}

// Result is what a run produced, complete or not.
type Result struct {
	Samples scan.Samples
	// Axis is set for one-dimensional scans.
	Axis string
	// FitResult and Description hold the last successful fit, if any.
	FitResult   fit.Result
	Description fit.Description
	Elapsed     time.Duration
}

// Run drives n and s to completion. Motion, acquisition and record errors
// stop the run and are returned together with the samples taken so far.
// Fit and drawing failures are logged and the scan carries on.
func Run(ctx context.Context, n scan.Node, s scan.Sampler, opts Options) (Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()

	res := Result{Samples: make(scan.Samples, 0, n.Len())}
	axes := scan.Axes(n)
	oneD := len(axes) == 1
	if oneD {
		res.Axis = axes[0]
	}

	var loop *livefit.Loop
	if opts.Fit != nil {
		if oneD {
			r := opts.Renderer
			if r == nil {
				r = discard{}
			}
			loop = livefit.NewLoop(opts.Fit, r)
		} else {
			monitoring.Logf("acquire: %s fit skipped, scan drives %d axes", opts.Fit.Title(), len(axes))
		}
	}

	var (
		xs, ys     []float64
		dataHandle livefit.Handle
		drawOK     = opts.Renderer != nil && oneD
	)

	err := func() error {
		step := 0
		for pos, err := range n.Iterate(ctx) {
			if err != nil {
				return err
			}
			if opts.Settle > 0 {
				if err := clock.Sleep(ctx, opts.Settle); err != nil {
					return err
				}
			}
			value, err := s.Sample(ctx)
			if err != nil {
				return fmt.Errorf("sample at %s: %w", pos, err)
			}
			res.Samples = append(res.Samples, scan.Sample{Position: pos, Value: value})
			monitoring.Debugf("acquire step %d/%d %s -> %g", step+1, n.Len(), pos, value)

			if opts.Recorder != nil {
				if err := opts.Recorder.Record(ctx, scan.FormatTitle(opts.Title, pos), pos, value); err != nil {
					return fmt.Errorf("record step %d: %w", step, err)
				}
			}
			step++

			if !oneD {
				continue
			}
			xs = append(xs, pos[res.Axis])
			ys = append(ys, value)

			if drawOK {
				if dataHandle == nil {
					dataHandle, err = opts.Renderer.Draw(xs, ys, res.Axis)
				} else {
					err = opts.Renderer.Update(dataHandle, xs, ys)
				}
				if err != nil {
					monitoring.Logf("acquire: drawing data failed, live plot disabled: %v", err)
					drawOK = false
				}
			}
			if loop != nil {
				if err := loop.Step(ctx, xs, ys); err != nil {
					monitoring.Logf("acquire: %v", err)
				}
			}
		}
		return nil
	}()

	if loop != nil {
		res.FitResult = loop.State().Result()
		if d, ok, derr := loop.Describe(); derr != nil {
			monitoring.Logf("acquire: describe fit: %v", derr)
		} else if ok {
			res.Description = d
		}
	}
	res.Elapsed = clock.Since(start)
	return res, err
}

type discard struct{}

func (discard) Draw([]float64, []float64, string) (livefit.Handle, error) { return struct{}{}, nil }
func (discard) Update(livefit.Handle, []float64, []float64) error       { return nil }
func (discard) Save(string) error                                       { return nil }
func (discard) Show() error                                             { return nil }

// Estimate predicts how long n takes when every step counts frames at
// frameRate frames per second and waits settle after each move.
func Estimate(n scan.Node, frames int, frameRate float64, settle time.Duration) time.Duration {
	per := settle
	if frameRate > 0 && frames > 0 {
		per += time.Duration(float64(frames) / frameRate * float64(time.Second))
	}
	return time.Duration(n.Len()) * per
}
