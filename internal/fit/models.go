package fit

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GaussianModel is a peak of the given amplitude over a flat background:
//
//	background + amplitude * exp(-((x-center)/sigma)^2 / 2)
type GaussianModel struct{}

func (GaussianModel) Names() []string {
	return []string{"center", "sigma", "amplitude", "background"}
}

func (GaussianModel) Eval(x float64, p []float64) float64 {
	z := (x - p[0]) / p[1]
	return p[3] + p[2]*math.Exp(-z*z/2)
}

// Guess takes the mean position as the center, the scanned range as the
// width, the data range as the amplitude and the minimum as background.
func (GaussianModel) Guess(xs, ys []float64) []float64 {
	return []float64{
		stat.Mean(xs, nil),
		spread(xs),
		spread(ys),
		floats.Min(ys),
	}
}

func (GaussianModel) Normalize(p []float64) []float64 {
	p[1] = math.Abs(p[1])
	return p
}

// DampedOscillatorModel is a cosine under a Gaussian envelope, the shape of
// a spin-echo signal scanned through its center:
//
//	background + amplitude * cos(frequency*(x-center)) * exp(-((x-center)/width)^2 / 2)
type DampedOscillatorModel struct{}

func (DampedOscillatorModel) Names() []string {
	return []string{"center", "amplitude", "frequency", "width", "background"}
}

func (DampedOscillatorModel) Eval(x float64, p []float64) float64 {
	d := x - p[0]
	z := d / p[3]
	return p[4] + p[1]*math.Cos(p[2]*d)*math.Exp(-z*z/2)
}

// Guess centres on the largest value and estimates the frequency from the
// number of crossings of the mean.
func (DampedOscillatorModel) Guess(xs, ys []float64) []float64 {
	mean := stat.Mean(ys, nil)
	peak := floats.MaxIdx(ys)
	span := spread(xs)

	crossings := 0
	for i := 1; i < len(ys); i++ {
		if (ys[i-1]-mean)*(ys[i]-mean) < 0 {
			crossings++
		}
	}
	freq := 2 * math.Pi / span
	if crossings > 0 {
		freq = math.Pi * float64(crossings) / span
	}
	return []float64{xs[peak], ys[peak] - mean, freq, span / 4, mean}
}

func (DampedOscillatorModel) Normalize(p []float64) []float64 {
	p[3] = math.Abs(p[3])
	return p
}

// Gaussian fits a single peak.
var Gaussian = NewCurveFit("Gaussian", GaussianModel{}, nil)

// DampedOscillator fits an echo signal.
var DampedOscillator = NewCurveFit("Damped Oscillator", DampedOscillatorModel{}, nil)

func spread(v []float64) float64 {
	s := floats.Max(v) - floats.Min(v)
	if s == 0 {
		return 1
	}
	return s
}
