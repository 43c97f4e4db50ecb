package fit

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/beamscan/internal/monitoring"
)

// Model is a closed-form curve with named parameters.
type Model interface {
	// Names lists the parameters in the order Eval expects them.
	Names() []string
	// Eval computes the model at x.
	Eval(x float64, params []float64) float64
	// Guess gives the optimizer a starting point from the raw data.
	Guess(xs, ys []float64) []float64
}

// normalizer is implemented by models whose parameters have symmetric
// solutions (for example a width that may come back negative).
type normalizer interface {
	Normalize(params []float64) []float64
}

// Optimizer minimises the squared residuals of model against (xs, ys),
// starting from initial.
type Optimizer interface {
	Minimize(ctx context.Context, model func(x float64, params []float64) float64, xs, ys, initial []float64) ([]float64, error)
}

// Params is the Result of a CurveFit, in Model.Names order.
type Params []float64

// CurveFit fits a nonlinear Model through an Optimizer.
//
// Each call runs the optimizer on its own goroutine. If ctx is cancelled
// the call returns ctx.Err() straight away; the optimizer is told to stop
// through the same context but is not waited for.
type CurveFit struct {
	title     string
	model     Model
	optimizer Optimizer
}

// NewCurveFit returns a fit of model titled title. A nil optimizer uses
// GonumOptimizer defaults.
func NewCurveFit(title string, model Model, optimizer Optimizer) *CurveFit {
	if optimizer == nil {
		optimizer = GonumOptimizer{}
	}
	return &CurveFit{title: title, model: model, optimizer: optimizer}
}

// Model returns the fitted model.
func (c *CurveFit) Model() Model { return c.model }

func (c *CurveFit) Degree() int   { return len(c.model.Names()) }
func (c *CurveFit) Title() string { return c.title }

type fitOutcome struct {
	params []float64
	err    error
}

func (c *CurveFit) Fit(ctx context.Context, xs, ys []float64) (Result, error) {
	if err := checkData(c, xs, ys); err != nil {
		return nil, err
	}
	guess := c.model.Guess(xs, ys)
	xs = append([]float64(nil), xs...)
	ys = append([]float64(nil), ys...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan fitOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fitOutcome{err: &ConvergenceError{Status: "panic", Err: fmt.Errorf("%v", r)}}
			}
		}()
		p, err := c.optimizer.Minimize(ctx, c.model.Eval, xs, ys, guess)
		done <- fitOutcome{params: p, err: err}
	}()

	select {
	case <-ctx.Done():
		monitoring.Logf("%s: fit abandoned: %v", c.title, ctx.Err())
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", c.title, out.err)
		}
		if len(out.params) != c.Degree() {
			return nil, fmt.Errorf("%s: %w", c.title, &ConvergenceError{Status: fmt.Sprintf("optimizer returned %d parameters", len(out.params))})
		}
		for _, v := range out.params {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%s: %w", c.title, &ConvergenceError{Status: "non-finite parameters"})
			}
		}
		if n, ok := c.model.(normalizer); ok {
			out.params = n.Normalize(out.params)
		}
		return Params(out.params), nil
	}
}

func (c *CurveFit) Evaluate(xs []float64, r Result) ([]Curve, error) {
	p, err := c.params(r)
	if err != nil {
		return nil, err
	}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = c.model.Eval(x, p)
	}
	return []Curve{{Label: fitLabel(c), Ys: ys}}, nil
}

func (c *CurveFit) Describe(r Result) (Description, error) {
	p, err := c.params(r)
	if err != nil {
		return nil, err
	}
	d := make(Description, len(p))
	for i, name := range c.model.Names() {
		d[name] = p[i]
	}
	return d, nil
}

func (c *CurveFit) params(r Result) (Params, error) {
	p, ok := r.(Params)
	if !ok || len(p) != c.Degree() {
		return nil, fmt.Errorf("%w: %s got %T", ErrResultType, c.title, r)
	}
	return p, nil
}
