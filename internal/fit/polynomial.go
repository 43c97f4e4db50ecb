package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/beamscan/internal/monitoring"
)

// Polynomial is an ordinary least-squares polynomial fit.
type Polynomial struct {
	order int
	title string
}

// Coefficients is the Result of a Polynomial fit, highest power first.
type Coefficients []float64

// Linear is a straight-line fit.
var Linear = NewPolynomial(1, "Linear")

// NewPolynomial returns a fit of the given order. An empty title becomes
// "Polynomial fit of degree <order>".
func NewPolynomial(order int, title string) *Polynomial {
	if order < 0 {
		order = 0
	}
	if title == "" {
		title = fmt.Sprintf("Polynomial fit of degree %d", order)
	}
	return &Polynomial{order: order, title: title}
}

// Order is the highest power in the fitted polynomial.
func (p *Polynomial) Order() int { return p.order }

func (p *Polynomial) Degree() int   { return p.order + 1 }
func (p *Polynomial) Title() string { return p.title }

func (p *Polynomial) Fit(ctx context.Context, xs, ys []float64) (Result, error) {
	if err := checkData(p, xs, ys); err != nil {
		return nil, err
	}
	cols := p.order + 1
	a := mat.NewDense(len(xs), cols, nil)
	for i, x := range xs {
		v := 1.0
		for j := cols - 1; j >= 0; j-- {
			a.Set(i, j, v)
			v *= x
		}
	}
	var c mat.VecDense
	err := c.SolveVec(a, mat.NewVecDense(len(ys), append([]float64(nil), ys...)))
	if err = p.tolerateCondition(err); err != nil {
		return nil, fmt.Errorf("%s: least squares: %w", p.title, err)
	}
	out := make(Coefficients, cols)
	for i := range out {
		out[i] = c.AtVec(i)
	}
	return out, nil
}

// tolerateCondition lets a finite mat.Condition through with a warning; the
// solve still wrote its coefficients. An infinite condition means the solve
// stopped early and is returned as an error.
func (p *Polynomial) tolerateCondition(err error) error {
	var cond mat.Condition
	if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
		return err
	}
	monitoring.Logf("%s: ill-conditioned least squares (condition %.3g), keeping coefficients", p.title, float64(cond))
	return nil
}

func (p *Polynomial) Evaluate(xs []float64, r Result) ([]Curve, error) {
	c, err := p.coefficients(r)
	if err != nil {
		return nil, err
	}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = c.At(x)
	}
	return []Curve{{Label: fitLabel(p), Ys: ys}}, nil
}

// Describe reports slope and intercept for a linear fit, otherwise one
// "^k" entry per power k.
func (p *Polynomial) Describe(r Result) (Description, error) {
	c, err := p.coefficients(r)
	if err != nil {
		return nil, err
	}
	if p.order == 1 {
		return Description{"slope": c[0], "intercept": c[1]}, nil
	}
	d := make(Description, len(c))
	for i, v := range c {
		d[fmt.Sprintf("^%d", p.order-i)] = v
	}
	return d, nil
}

func (p *Polynomial) coefficients(r Result) (Coefficients, error) {
	c, ok := r.(Coefficients)
	if !ok || len(c) != p.order+1 {
		return nil, fmt.Errorf("%w: %s got %T", ErrResultType, p.title, r)
	}
	return c, nil
}

// At evaluates the polynomial at x by Horner's rule.
func (c Coefficients) At(x float64) float64 {
	var y float64
	for _, v := range c {
		y = y*x + v
	}
	return y
}
