package fit

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// GonumOptimizer minimises squared residuals with gonum's Nelder-Mead
// simplex method. Zero values pick the defaults below.
type GonumOptimizer struct {
	// FuncEvaluations caps objective evaluations. Default 20000.
	FuncEvaluations int
	// Tolerance is the absolute and relative change in the residual below
	// which the fit is considered settled. Default 1e-12.
	Tolerance float64
}

func (g GonumOptimizer) Minimize(ctx context.Context, model func(x float64, params []float64) float64, xs, ys, initial []float64) ([]float64, error) {
	evals := g.FuncEvaluations
	if evals <= 0 {
		evals = 20000
	}
	tol := g.Tolerance
	if tol <= 0 {
		tol = 1e-12
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var sum float64
			for i, x := range xs {
				r := ys[i] - model(x, p)
				sum += r * r
			}
			return sum
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: evals,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Relative:   tol,
			Iterations: 200,
		},
		Recorder: contextRecorder{ctx: ctx},
	}

	result, err := optimize.Minimize(problem, append([]float64(nil), initial...), settings, &optimize.NelderMead{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		status := "error"
		if result != nil {
			status = result.Status.String()
		}
		return nil, &ConvergenceError{Status: status, Err: err}
	}
	if !settled(result.Status) || math.IsNaN(result.F) {
		return nil, &ConvergenceError{Status: result.Status.String()}
	}
	return result.X, nil
}

func settled(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge,
		optimize.FunctionThreshold, optimize.GradientThreshold, optimize.StepConvergence:
		return true
	}
	return false
}

// contextRecorder stops the optimizer once ctx is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
