// Package grid turns the sparse bounds an operator types for a scan axis
// (begin/end/stride/count/gaps/step) into the concrete ordered list of
// set-points the axis will visit.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrConfiguration is returned when a Config does not carry enough
// information to fix an end bound, or carries contradictory values.
var ErrConfiguration = errors.New("grid configuration error")

// maxPoints bounds the size of a resolved grid so a typo in a stride cannot
// allocate an unbounded slice.
const maxPoints = 100000

// Config holds the optional fields recognised by Resolve. A nil field is
// absent. Begin is required.
type Config struct {
	Begin  *float64 `json:"begin,omitempty" toml:"begin,omitempty"`
	End    *float64 `json:"end,omitempty" toml:"end,omitempty"`
	Stride *float64 `json:"stride,omitempty" toml:"stride,omitempty"`
	Count  *int     `json:"count,omitempty" toml:"count,omitempty"`
	Gaps   *int     `json:"gaps,omitempty" toml:"gaps,omitempty"`
	Step   *float64 `json:"step,omitempty" toml:"step,omitempty"`
}

// Float returns a pointer to v, for building a Config literal.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building a Config literal.
func Int(v int) *int { return &v }

// Resolve computes the set-points described by cfg. Rules are applied in a
// fixed priority order:
//
//  1. end with stride, count, gaps (all inclusive of end) or step (end
//     excluded), checked in that order;
//  2. count with stride or step;
//  3. gaps with stride or step.
//
// Anything else is an ErrConfiguration.
func Resolve(cfg Config) ([]float64, error) {
	if cfg.Begin == nil {
		return nil, fmt.Errorf("%w: begin is required", ErrConfiguration)
	}
	begin := *cfg.Begin

	if cfg.End != nil {
		end := *cfg.End
		switch {
		case cfg.Stride != nil:
			stride := *cfg.Stride
			if stride == 0 {
				return nil, fmt.Errorf("%w: stride must be non-zero", ErrConfiguration)
			}
			steps := math.Ceil((end - begin) / stride)
			if steps < 0 {
				return nil, fmt.Errorf("%w: stride %g moves away from end %g", ErrConfiguration, stride, end)
			}
			if steps+1 > maxPoints {
				return nil, tooMany(steps + 1)
			}
			return linspace(begin, end, int(steps)+1), nil
		case cfg.Count != nil:
			if err := checkCount(*cfg.Count); err != nil {
				return nil, err
			}
			return linspace(begin, end, *cfg.Count), nil
		case cfg.Gaps != nil:
			if err := checkGaps(*cfg.Gaps); err != nil {
				return nil, err
			}
			return linspace(begin, end, *cfg.Gaps+1), nil
		case cfg.Step != nil:
			return arange(begin, end, *cfg.Step)
		}
		return nil, fmt.Errorf("%w: end needs one of stride, count, gaps or step", ErrConfiguration)
	}

	inc, ok := cfg.increment()
	switch {
	case cfg.Count != nil && ok:
		n := *cfg.Count
		if err := checkCount(n); err != nil {
			return nil, err
		}
		return linspace(begin, begin+float64(n-1)*inc, n), nil
	case cfg.Gaps != nil && ok:
		g := *cfg.Gaps
		if err := checkGaps(g); err != nil {
			return nil, err
		}
		return linspace(begin, begin+float64(g)*inc, g+1), nil
	}
	return nil, fmt.Errorf("%w: cannot determine an end bound from %s", ErrConfiguration, cfg)
}

// increment prefers stride over step when both are given.
func (c Config) increment() (float64, bool) {
	if c.Stride != nil {
		return *c.Stride, true
	}
	if c.Step != nil {
		return *c.Step, true
	}
	return 0, false
}

func checkCount(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: count must be at least 1, got %d", ErrConfiguration, n)
	}
	if n > maxPoints {
		return tooMany(float64(n))
	}
	return nil
}

func checkGaps(g int) error {
	if g < 0 {
		return fmt.Errorf("%w: gaps must not be negative, got %d", ErrConfiguration, g)
	}
	if g+1 > maxPoints {
		return tooMany(float64(g + 1))
	}
	return nil
}

func tooMany(n float64) error {
	return fmt.Errorf("%w: %g points exceeds limit of %d", ErrConfiguration, n, maxPoints)
}

// linspace returns n evenly spaced points from begin to end inclusive. The
// last point is pinned to end so accumulated rounding never overshoots.
func linspace(begin, end float64, n int) []float64 {
	if n == 1 {
		return []float64{begin}
	}
	out := floats.Span(make([]float64, n), begin, end)
	out[n-1] = end
	return out
}

// arange returns begin, begin+step, ... strictly short of end.
func arange(begin, end, step float64) ([]float64, error) {
	if step == 0 {
		return nil, fmt.Errorf("%w: step must be non-zero", ErrConfiguration)
	}
	n := math.Ceil((end - begin) / step)
	if n < 0 {
		return nil, fmt.Errorf("%w: step %g moves away from end %g", ErrConfiguration, step, end)
	}
	if n > maxPoints {
		return nil, tooMany(n)
	}
	out := make([]float64, int(n))
	for i := range out {
		out[i] = begin + float64(i)*step
	}
	return out, nil
}

// String renders the present fields as key=value pairs in ParseConfig syntax.
func (c Config) String() string {
	var parts []string
	add := func(k string, v string) { parts = append(parts, k+"="+v) }
	fl := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	if c.Begin != nil {
		add("begin", fl(*c.Begin))
	}
	if c.End != nil {
		add("end", fl(*c.End))
	}
	if c.Stride != nil {
		add("stride", fl(*c.Stride))
	}
	if c.Count != nil {
		add("count", strconv.Itoa(*c.Count))
	}
	if c.Gaps != nil {
		add("gaps", strconv.Itoa(*c.Gaps))
	}
	if c.Step != nil {
		add("step", fl(*c.Step))
	}
	return strings.Join(parts, ",")
}

// ParseConfig parses either comma-separated key=value pairs
// ("begin=0,end=10,stride=2") or the short "begin:end:stride" form.
func ParseConfig(s string) (Config, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Config{}, fmt.Errorf("%w: empty grid specification", ErrConfiguration)
	}
	if !strings.Contains(s, "=") {
		return parseShort(s)
	}

	var cfg Config
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, fmt.Errorf("%w: invalid field %q: expected key=value", ErrConfiguration, part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "begin", "start":
			v, err := parseFloat(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.Begin = &v
		case "end", "stop":
			v, err := parseFloat(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.End = &v
		case "stride":
			v, err := parseFloat(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.Stride = &v
		case "step":
			v, err := parseFloat(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.Step = &v
		case "count":
			v, err := parseInt(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.Count = &v
		case "gaps":
			v, err := parseInt(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.Gaps = &v
		default:
			return Config{}, fmt.Errorf("%w: unknown field %q", ErrConfiguration, key)
		}
	}
	return cfg, nil
}

func parseShort(s string) (Config, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Config{}, fmt.Errorf("%w: invalid range format %q: expected begin:end:stride", ErrConfiguration, s)
	}
	vals := make([]float64, 3)
	for i, name := range []string{"begin", "end", "stride"} {
		v, err := parseFloat(name, strings.TrimSpace(parts[i]))
		if err != nil {
			return Config{}, err
		}
		vals[i] = v
	}
	return Config{Begin: &vals[0], End: &vals[1], Stride: &vals[2]}, nil
}

func parseFloat(key, val string) (float64, error) {
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s value %q: %v", ErrConfiguration, key, val, err)
	}
	return v, nil
}

func parseInt(key, val string) (int, error) {
	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s value %q: %v", ErrConfiguration, key, val, err)
	}
	return v, nil
}
