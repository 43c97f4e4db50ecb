// Package livefit keeps a fitted curve on screen up to date while a scan is
// still acquiring data.
//
// The loop is a two-state machine carried in an explicit State value:
// Empty until the first successful fit draws its curves, then Rendered,
// holding the renderer handles and the latest Result. Every later step
// redraws the same handles in place.
package livefit

import (
	"context"
	"fmt"

	"github.com/banshee-data/beamscan/internal/fit"
)

// Handle identifies a curve previously drawn by a Renderer.
type Handle any

// Renderer draws and updates labelled curves.
type Renderer interface {
	Draw(xs, ys []float64, label string) (Handle, error)
	Update(h Handle, xs, ys []float64) error
	Save(path string) error
	Show() error
}

// State is the loop's carried state. The zero value is Empty. A draw that
// failed part way leaves the curves already drawn in handles while the
// state is still not Rendered; the next Step draws only the missing ones.
type State struct {
	handles []Handle
	result  fit.Result
}

// Rendered reports whether every curve of a successful fit is on screen.
func (s State) Rendered() bool { return s.result != nil && len(s.handles) > 0 }

// Result is the last successful fit, or nil while Empty.
func (s State) Result() fit.Result { return s.result }

// Handles returns the renderer handles, one per fitted curve.
func (s State) Handles() []Handle { return append([]Handle(nil), s.handles...) }

// Step fits the full history (xs, ys) and draws or updates the curves.
// With fewer than f.Degree() samples it returns s untouched without calling
// the renderer. A fit error returns s unchanged along with the error.
func Step(ctx context.Context, s State, xs, ys []float64, f fit.Fit, r Renderer) (State, error) {
	if len(xs) < f.Degree() {
		return s, nil
	}
	result, err := f.Fit(ctx, xs, ys)
	if err != nil {
		return s, err
	}
	curves, err := f.Evaluate(xs, result)
	if err != nil {
		return s, err
	}
	if len(curves) < len(s.handles) {
		return s, fmt.Errorf("%s produced %d curves, %d are on screen", f.Title(), len(curves), len(s.handles))
	}

	for i, h := range s.handles {
		if err := r.Update(h, xs, curves[i].Ys); err != nil {
			return s, fmt.Errorf("update %q: %w", curves[i].Label, err)
		}
	}
	handles := append([]Handle(nil), s.handles...)
	for _, c := range curves[len(handles):] {
		h, err := r.Draw(xs, c.Ys, c.Label)
		if err != nil {
			return State{handles: handles, result: s.result}, fmt.Errorf("draw %q: %w", c.Label, err)
		}
		handles = append(handles, h)
	}
	return State{handles: handles, result: result}, nil
}

// Loop holds the State for one driver so callers need not thread it by
// hand.
type Loop struct {
	fit      fit.Fit
	renderer Renderer
	state    State
}

// NewLoop returns an Empty loop for f drawing on r.
func NewLoop(f fit.Fit, r Renderer) *Loop {
	return &Loop{fit: f, renderer: r}
}

// Fit returns the fit being tracked.
func (l *Loop) Fit() fit.Fit { return l.fit }

// State returns the current state.
func (l *Loop) State() State { return l.state }

// Step runs Step against the loop's state.
func (l *Loop) Step(ctx context.Context, xs, ys []float64) error {
	st, err := Step(ctx, l.state, xs, ys, l.fit, l.renderer)
	l.state = st
	return err
}

// Describe returns the human-readable parameters of the last fit. ok is
// false while nothing has been fitted.
func (l *Loop) Describe() (d fit.Description, ok bool, err error) {
	if l.state.result == nil {
		return nil, false, nil
	}
	d, err = l.fit.Describe(l.state.result)
	return d, err == nil, err
}
