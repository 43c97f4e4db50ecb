// Package fit turns sampled scan data into model parameters.
//
// A Fit is stateless: Fit is a pure function of the samples handed to it,
// and the Result it returns is only meaningful to the Fit that produced it.
// Fits compose with Combine, which runs two fits against the same data and
// pairs their results.
package fit

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when fewer samples than Degree are
	// passed to Fit.
	ErrInsufficientData = errors.New("insufficient data for fit")
	// ErrConvergence matches every *ConvergenceError.
	ErrConvergence = errors.New("fit did not converge")
	// ErrResultType is returned when a Result is handed to a Fit that did
	// not produce it.
	ErrResultType = errors.New("result does not belong to this fit")
)

// ConvergenceError reports a nonlinear fit that the optimizer could not
// settle.
type ConvergenceError struct {
	Status string
	Err    error
}

func (e *ConvergenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fit did not converge (%s): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("fit did not converge (%s)", e.Status)
}

func (e *ConvergenceError) Unwrap() error { return e.Err }

func (e *ConvergenceError) Is(target error) bool { return target == ErrConvergence }

// Result is a fit-specific parameter bundle.
type Result any

// Pair is the Result of a ParallelFit.
type Pair struct {
	First, Second Result
}

// Curve is one fitted line evaluated at the requested x positions.
type Curve struct {
	Label string
	Ys    []float64
}

// Description maps human-readable parameter names to values. Leaves are
// float64; a ParallelFit nests one Description per child title.
type Description map[string]any

// Fit is the capability shared by every fitting routine.
type Fit interface {
	// Degree is the minimum number of samples for a meaningful fit.
	Degree() int
	// Title labels the fit in plots and descriptions.
	Title() string
	// Fit computes parameters for the samples (xs[i], ys[i]).
	Fit(ctx context.Context, xs, ys []float64) (Result, error)
	// Evaluate reproduces the fitted curves at xs. Single fits return one
	// curve; a ParallelFit returns its children's curves in order.
	Evaluate(xs []float64, r Result) ([]Curve, error)
	// Describe names the parameters held in r.
	Describe(r Result) (Description, error)
}

func checkData(f Fit, xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("%s: %d x values but %d y values", f.Title(), len(xs), len(ys))
	}
	if len(xs) < f.Degree() {
		return fmt.Errorf("%w: %s needs %d points, have %d", ErrInsufficientData, f.Title(), f.Degree(), len(xs))
	}
	return nil
}

func fitLabel(f Fit) string { return f.Title() + " fit" }
