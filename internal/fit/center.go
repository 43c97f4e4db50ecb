package fit

import "sort"

// Center extracts a peak or turning-point position from a description:
// the "center" parameter of a curve model, or the vertex of a quadratic.
// Combined descriptions are searched child by child in title order.
func (d Description) Center() (float64, bool) {
	if c, ok := d["center"].(float64); ok {
		return c, true
	}
	if len(d) == 3 {
		a, okA := d["^2"].(float64)
		b, okB := d["^1"].(float64)
		if okA && okB && a != 0 {
			return -b / (2 * a), true
		}
	}

	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if child, ok := d[k].(Description); ok {
			if c, ok := child.Center(); ok {
				return c, true
			}
		}
	}
	return 0, false
}
