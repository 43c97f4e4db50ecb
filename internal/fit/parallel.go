package fit

import (
	"context"
	"fmt"
)

// ParallelFit runs two fits over the same data.
type ParallelFit struct {
	first, second Fit
}

// Combine pairs a and b. The combined degree is the larger of the two.
func Combine(a, b Fit) *ParallelFit {
	return &ParallelFit{first: a, second: b}
}

// First returns the left-hand fit.
func (p *ParallelFit) First() Fit { return p.first }

// Second returns the right-hand fit.
func (p *ParallelFit) Second() Fit { return p.second }

func (p *ParallelFit) Degree() int { return max(p.first.Degree(), p.second.Degree()) }

func (p *ParallelFit) Title() string {
	return fmt.Sprintf("Combination of %s and %s", p.first.Title(), p.second.Title())
}

func (p *ParallelFit) Fit(ctx context.Context, xs, ys []float64) (Result, error) {
	if err := checkData(p, xs, ys); err != nil {
		return nil, err
	}
	a, err := p.first.Fit(ctx, xs, ys)
	if err != nil {
		return nil, err
	}
	b, err := p.second.Fit(ctx, xs, ys)
	if err != nil {
		return nil, err
	}
	return Pair{First: a, Second: b}, nil
}

// Evaluate returns the first child's curves followed by the second's.
func (p *ParallelFit) Evaluate(xs []float64, r Result) ([]Curve, error) {
	pair, err := p.pair(r)
	if err != nil {
		return nil, err
	}
	a, err := p.first.Evaluate(xs, pair.First)
	if err != nil {
		return nil, err
	}
	b, err := p.second.Evaluate(xs, pair.Second)
	if err != nil {
		return nil, err
	}
	return append(a, b...), nil
}

// Describe keys each child's description by its title. Children sharing a
// title collide and the second wins.
func (p *ParallelFit) Describe(r Result) (Description, error) {
	pair, err := p.pair(r)
	if err != nil {
		return nil, err
	}
	a, err := p.first.Describe(pair.First)
	if err != nil {
		return nil, err
	}
	b, err := p.second.Describe(pair.Second)
	if err != nil {
		return nil, err
	}
	return Description{p.first.Title(): a, p.second.Title(): b}, nil
}

func (p *ParallelFit) pair(r Result) (Pair, error) {
	pair, ok := r.(Pair)
	if !ok {
		return Pair{}, fmt.Errorf("%w: %s got %T", ErrResultType, p.Title(), r)
	}
	return pair, nil
}
