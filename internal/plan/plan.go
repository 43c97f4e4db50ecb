// Package plan decodes scan descriptions from JSON files and command-line
// flags and builds the matching scan tree.
//
// A plan node is either a leaf driving one axis, or a combination of two or
// more child nodes:
//
//	{"axis": "theta", "begin": 0, "end": 2, "stride": 0.5}
//	{"product": [{"axis": "height", "values": [0, 10]}, {"axis": "theta", "count": 5, "begin": -1, "end": 1}]}
//
// Any node may also set "scale"/"offset" (applied to every set-point),
// "reverse", "and_back" and "repeat", applied in that order.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/beamscan/internal/grid"
	"github.com/banshee-data/beamscan/internal/scan"
)

// ActionFor returns the motion action for an axis. Returning nil makes the
// axis a pure label that never moves anything.
type ActionFor func(axis string) scan.Action

// Plan is a complete scan description.
type Plan struct {
	Title  string `json:"title,omitempty"`
	Fit    string `json:"fit,omitempty"`
	Frames *int   `json:"frames,omitempty"`
	Scan   Node   `json:"scan"`
}

// Node is one element of a scan tree.
type Node struct {
	Axis   string    `json:"axis,omitempty"`
	Values []float64 `json:"values,omitempty"`
	grid.Config

	Sum      []Node `json:"sum,omitempty"`
	Product  []Node `json:"product,omitempty"`
	Parallel []Node `json:"parallel,omitempty"`

	Scale   *float64 `json:"scale,omitempty"`
	Offset  *float64 `json:"offset,omitempty"`
	Reverse bool     `json:"reverse,omitempty"`
	AndBack bool     `json:"and_back,omitempty"`
	Repeat  int      `json:"repeat,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", grid.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Load reads a JSON plan file.
func Load(path string) (*Plan, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("plan file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON plan and checks that its tree builds.
func Parse(data []byte) (*Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	p := &Plan{}
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	if p.Frames != nil && *p.Frames < 1 {
		return nil, invalid("frames must be at least 1, got %d", *p.Frames)
	}
	if _, err := p.Scan.Build(nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Build turns the tree into a scan.Node, binding every leaf to actions(axis).
// A nil actions binds no motion at all.
func (n Node) Build(actions ActionFor) (scan.Node, error) {
	kinds := 0
	for _, set := range []bool{n.Axis != "", len(n.Sum) > 0, len(n.Product) > 0, len(n.Parallel) > 0} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, invalid("a plan node needs exactly one of axis, sum, product or parallel")
	}

	var (
		out scan.Node
		err error
	)
	switch {
	case n.Axis != "":
		out, err = n.leaf(actions)
	case len(n.Sum) > 0:
		out, err = fold("sum", n.Sum, actions, scan.Sum)
	case len(n.Product) > 0:
		out, err = fold("product", n.Product, actions, scan.Product)
	default:
		out, err = fold("parallel", n.Parallel, actions, scan.Parallel)
	}
	if err != nil {
		return nil, err
	}

	if n.Scale != nil || n.Offset != nil {
		scale, offset := 1.0, 0.0
		if n.Scale != nil {
			scale = *n.Scale
		}
		if n.Offset != nil {
			offset = *n.Offset
		}
		out = out.Map(func(v float64) float64 { return v*scale + offset })
	}
	if n.Reverse {
		out = out.Reverse()
	}
	if n.AndBack {
		out = scan.AndBack(out)
	}
	switch {
	case n.Repeat < 0:
		return nil, invalid("repeat must be non-negative, got %d", n.Repeat)
	case n.Repeat > 1:
		out = scan.Repeat(out, n.Repeat)
	}
	return out, nil
}

func (n Node) leaf(actions ActionFor) (scan.Node, error) {
	hasGrid := n.Config != (grid.Config{})
	if len(n.Values) > 0 && hasGrid {
		return nil, invalid("axis %q: give either values or a grid, not both", n.Axis)
	}
	values := n.Values
	if !hasGrid && len(values) == 0 {
		return nil, invalid("axis %q: no set-points", n.Axis)
	}
	if hasGrid {
		var err error
		if values, err = grid.Resolve(n.Config); err != nil {
			return nil, fmt.Errorf("axis %q: %w", n.Axis, err)
		}
	}
	var action scan.Action
	if actions != nil {
		action = actions(n.Axis)
	}
	return scan.NewSimple(n.Axis, values, action), nil
}

func fold(kind string, children []Node, actions ActionFor, combine func(a, b scan.Node) scan.Node) (scan.Node, error) {
	if len(children) < 2 {
		return nil, invalid("%s needs at least two children, got %d", kind, len(children))
	}
	var acc scan.Node
	for i, c := range children {
		built, err := c.Build(actions)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
		if acc == nil {
			acc = built
		} else {
			acc = combine(acc, built)
		}
	}
	return acc, nil
}

// ParseAxis parses the command-line form "name:grid", where grid is
// anything grid.ParseConfig accepts, e.g. "theta:begin=0,end=2,stride=0.6"
// or "theta:0:2:0.6".
func ParseAxis(s string) (Node, error) {
	name, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Node{}, invalid("scan %q: want axis:grid", s)
	}
	cfg, err := grid.ParseConfig(rest)
	if err != nil {
		return Node{}, fmt.Errorf("scan %q: %w", s, err)
	}
	return Node{Axis: name, Config: cfg}, nil
}

// FromFlags combines repeated -scan flags into one tree: a single flag is a
// leaf, several form a product with the first flag outermost.
func FromFlags(specs []string) (Node, error) {
	if len(specs) == 0 {
		return Node{}, errors.New("no scan given")
	}
	nodes := make([]Node, 0, len(specs))
	for _, s := range specs {
		n, err := ParseAxis(s)
		if err != nil {
			return Node{}, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return Node{Product: nodes}, nil
}
