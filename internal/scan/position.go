package scan

import (
	"sort"
	"strconv"
	"strings"
)

// Position maps axis names to the set-point reached at one scan step.
type Position map[string]float64

// Merge returns a new Position holding p's entries overlaid by other's.
// Neither input is modified; on conflict other wins.
func (p Position) Merge(other Position) Position {
	out := make(Position, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Axes returns the axis names in p, sorted.
func (p Position) Axes() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether p and other hold the same axes and values.
func (p Position) Equal(other Position) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		w, ok := other[k]
		if !ok || w != v {
			return false
		}
	}
	return true
}

// String renders p as "a=1 b=2" in axis order.
func (p Position) String() string {
	var b strings.Builder
	for i, k := range p.Axes() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(p[k], 'g', -1, 64))
	}
	return b.String()
}
