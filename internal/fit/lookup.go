package fit

import (
	"fmt"
	"strconv"
	"strings"
)

// Lookup resolves a fit by name: "linear", "gaussian", "oscillator",
// "poly<N>" (or "poly:N"), and combinations joined with "&", which
// associate to the left.
func Lookup(name string) (Fit, error) {
	parts := strings.Split(name, "&")
	var out Fit
	for _, part := range parts {
		f, err := lookupOne(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = f
		} else {
			out = Combine(out, f)
		}
	}
	return out, nil
}

func lookupOne(name string) (Fit, error) {
	switch strings.ToLower(name) {
	case "linear", "line":
		return Linear, nil
	case "gaussian", "gauss", "peak":
		return Gaussian, nil
	case "oscillator", "damped", "echo":
		return DampedOscillator, nil
	}
	lower := strings.ToLower(name)
	if rest, ok := strings.CutPrefix(lower, "poly"); ok {
		rest = strings.TrimPrefix(rest, ":")
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid polynomial order in %q", name)
		}
		return NewPolynomial(n, ""), nil
	}
	return nil, fmt.Errorf("unknown fit %q", name)
}
