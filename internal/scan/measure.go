package scan

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/beamscan/internal/monitoring"
)

// Sampler acquires one measurement at the current instrument position.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (float64, error)

func (f SamplerFunc) Sample(ctx context.Context) (float64, error) { return f(ctx) }

// Recorder stores one measurement step under a run title.
type Recorder interface {
	Record(ctx context.Context, title string, pos Position, value float64) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, title string, pos Position, value float64) error

func (f RecorderFunc) Record(ctx context.Context, title string, pos Position, value float64) error {
	return f(ctx, title, pos, value)
}

// Sample pairs a position with the value measured there.
type Sample struct {
	Position Position
	Value    float64
}

// Samples is the history of a scan in acquisition order.
type Samples []Sample

// Series returns the data as a 2-D series when every position drives
// exactly the same single axis. Multi-axis scans return ok == false and
// are left to the caller to interpret.
func (s Samples) Series() (axis string, xs, ys []float64, ok bool) {
	if len(s) == 0 {
		return "", nil, nil, false
	}
	for _, smp := range s {
		if len(smp.Position) != 1 {
			return "", nil, nil, false
		}
		for k := range smp.Position {
			if axis == "" {
				axis = k
			} else if k != axis {
				return "", nil, nil, false
			}
		}
	}
	xs = make([]float64, len(s))
	ys = make([]float64, len(s))
	for i, smp := range s {
		xs[i] = smp.Position[axis]
		ys[i] = smp.Value
	}
	return axis, xs, ys, true
}

// MeasureAll moves through n and, at every position, takes a sample and
// records it under title with the position's values substituted in (see
// FormatTitle). The first motion, acquisition or record error stops the
// scan and is returned.
func MeasureAll(ctx context.Context, n Node, s Sampler, r Recorder, title string) error {
	step := 0
	for pos, err := range n.Iterate(ctx) {
		if err != nil {
			return err
		}
		value, err := s.Sample(ctx)
		if err != nil {
			return fmt.Errorf("sample at %s: %w", pos, err)
		}
		if err := r.Record(ctx, FormatTitle(title, pos), pos, value); err != nil {
			return fmt.Errorf("record step %d: %w", step, err)
		}
		monitoring.Debugf("measure step %d/%d %s -> %g", step+1, n.Len(), pos, value)
		step++
	}
	return nil
}

// Plot drives n and s together and returns the collected samples. On error
// the samples gathered before the failure are returned with it.
func Plot(ctx context.Context, n Node, s Sampler) (Samples, error) {
	out := make(Samples, 0, n.Len())
	for pos, err := range n.Iterate(ctx) {
		if err != nil {
			return out, err
		}
		value, err := s.Sample(ctx)
		if err != nil {
			return out, fmt.Errorf("sample at %s: %w", pos, err)
		}
		out = append(out, Sample{Position: pos, Value: value})
	}
	return out, nil
}

// FormatTitle substitutes "{axis}" placeholders in template with the value
// of that axis in pos. A printf-style precision may follow a colon, as in
// "{theta:.3f}". Unknown axes are left untouched.
func FormatTitle(template string, pos Position) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			return b.String()
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template)
			return b.String()
		}
		end += open
		b.WriteString(template[:open])
		name, spec, _ := strings.Cut(template[open+1:end], ":")
		if v, ok := pos[name]; ok {
			if spec == "" {
				b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				b.WriteString(fmt.Sprintf("%"+spec, v))
			}
		} else {
			b.WriteString(template[open : end+1])
		}
		template = template[end+1:]
	}
}
