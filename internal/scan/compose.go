package scan

import "context"

// AndBack runs n forwards and then backwards, e.g. to check for hysteresis.
func AndBack(n Node) Node { return Sum(n, n.Reverse()) }

// Repeat runs n the given number of times in sequence. times below 1 is
// treated as 1.
func Repeat(n Node, times int) Node {
	out := n
	for i := 1; i < times; i++ {
		out = Sum(out, n)
	}
	return out
}

// Axes lists the axis names driven by n in the order their leaves appear,
// without duplicates.
func Axes(n Node) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Simple:
			if !seen[v.name] {
				seen[v.name] = true
				names = append(names, v.name)
			}
		case *SumNode:
			walk(v.First)
			walk(v.Second)
		case *ProductNode:
			walk(v.Outer)
			walk(v.Inner)
		case *ParallelNode:
			walk(v.First)
			walk(v.Second)
		}
	}
	walk(n)
	return names
}

// Collect drains n and returns every position it yields. On error the
// positions reached so far are returned with it.
func Collect(ctx context.Context, n Node) ([]Position, error) {
	out := make([]Position, 0, n.Len())
	for p, err := range n.Iterate(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}
