// Package scan implements the scan composition algebra: leaf scans that
// drive one axis over a list of set-points, and the Sum, Product and
// Parallel combinators that compose them into measurement trajectories.
//
// Trees are immutable. Iterating a tree is lazy and side-effecting: each
// step moves hardware through the leaf's Action before the position is
// yielded, so a consumer that stops early never moves to later positions,
// and iterating twice moves everything twice.
package scan

import (
	"context"
	"iter"
)

// Action moves one axis to value, blocking until it has settled.
type Action func(ctx context.Context, value float64) error

// Node is a composable scan. The set of implementations is closed:
// *Simple, *SumNode, *ProductNode and *ParallelNode.
type Node interface {
	// Iterate returns a single-pass sequence of positions. A failed motion
	// is yielded once as (nil, err) and ends the sequence.
	Iterate(ctx context.Context) iter.Seq2[Position, error]
	// Len is the number of positions Iterate yields, computed without
	// moving anything.
	Len() int
	// Map returns a copy of the tree with f applied to every leaf's
	// set-points.
	Map(f func(float64) float64) Node
	// Reverse returns a copy of the tree traversed in the opposite order.
	Reverse() Node

	isNode()
}

// Simple scans a single named axis over a fixed list of set-points.
type Simple struct {
	name   string
	values []float64
	action Action
}

// NewSimple builds a leaf scan. values is copied. A nil action yields
// positions without moving anything.
func NewSimple(name string, values []float64, action Action) *Simple {
	return &Simple{name: name, values: append([]float64(nil), values...), action: action}
}

// Name returns the axis driven by s.
func (s *Simple) Name() string { return s.name }

// Values returns a copy of the set-points.
func (s *Simple) Values() []float64 { return append([]float64(nil), s.values...) }

func (s *Simple) Iterate(ctx context.Context) iter.Seq2[Position, error] {
	return func(yield func(Position, error) bool) {
		for _, v := range s.values {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if s.action != nil {
				if err := s.action(ctx, v); err != nil {
					yield(nil, err)
					return
				}
			}
			if !yield(Position{s.name: v}, nil) {
				return
			}
		}
	}
}

func (s *Simple) Len() int { return len(s.values) }

func (s *Simple) Map(f func(float64) float64) Node {
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		out[i] = f(v)
	}
	return &Simple{name: s.name, values: out, action: s.action}
}

func (s *Simple) Reverse() Node {
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		out[len(out)-1-i] = v
	}
	return &Simple{name: s.name, values: out, action: s.action}
}

func (*Simple) isNode() {}

// SumNode runs First to completion, then Second.
type SumNode struct {
	First, Second Node
}

// Sum composes a and b sequentially.
func Sum(a, b Node) Node { return &SumNode{First: a, Second: b} }

func (n *SumNode) Iterate(ctx context.Context) iter.Seq2[Position, error] {
	return func(yield func(Position, error) bool) {
		for _, child := range []Node{n.First, n.Second} {
			for p, err := range child.Iterate(ctx) {
				if !yield(p, err) || err != nil {
					return
				}
			}
		}
	}
}

func (n *SumNode) Len() int { return n.First.Len() + n.Second.Len() }

func (n *SumNode) Map(f func(float64) float64) Node {
	return &SumNode{First: n.First.Map(f), Second: n.Second.Map(f)}
}

// Reverse swaps the arms as well as reversing them, so the whole sequence
// runs backwards.
func (n *SumNode) Reverse() Node {
	return &SumNode{First: n.Second.Reverse(), Second: n.First.Reverse()}
}

func (*SumNode) isNode() {}

// ProductNode visits every combination of Outer and Inner, with Outer
// varying slowest.
type ProductNode struct {
	Outer, Inner Node
}

// Product composes outer and inner as a nested loop.
func Product(outer, inner Node) Node { return &ProductNode{Outer: outer, Inner: inner} }

func (n *ProductNode) Iterate(ctx context.Context) iter.Seq2[Position, error] {
	return func(yield func(Position, error) bool) {
		for op, err := range n.Outer.Iterate(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for ip, err := range n.Inner.Iterate(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(op.Merge(ip), nil) {
					return
				}
			}
		}
	}
}

func (n *ProductNode) Len() int { return n.Outer.Len() * n.Inner.Len() }

// Map applies f to both children, whatever axes they drive.
func (n *ProductNode) Map(f func(float64) float64) Node {
	return &ProductNode{Outer: n.Outer.Map(f), Inner: n.Inner.Map(f)}
}

// Reverse reverses each child in place; outer stays outer.
func (n *ProductNode) Reverse() Node {
	return &ProductNode{Outer: n.Outer.Reverse(), Inner: n.Inner.Reverse()}
}

func (*ProductNode) isNode() {}

// ParallelNode steps First and Second together, stopping when either runs
// out.
type ParallelNode struct {
	First, Second Node
}

// Parallel composes a and b in lock-step. This is logical simultaneity:
// a's motion for a step happens before b's.
func Parallel(a, b Node) Node { return &ParallelNode{First: a, Second: b} }

func (n *ParallelNode) Iterate(ctx context.Context) iter.Seq2[Position, error] {
	return func(yield func(Position, error) bool) {
		nextA, stopA := iter.Pull2(n.First.Iterate(ctx))
		defer stopA()
		nextB, stopB := iter.Pull2(n.Second.Iterate(ctx))
		defer stopB()

		for {
			pa, err, ok := nextA()
			if !ok {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			pb, err, ok := nextB()
			if !ok {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(pa.Merge(pb), nil) {
				return
			}
		}
	}
}

func (n *ParallelNode) Len() int { return min(n.First.Len(), n.Second.Len()) }

// Map applies f to both children, whatever axes they drive.
func (n *ParallelNode) Map(f func(float64) float64) Node {
	return &ParallelNode{First: n.First.Map(f), Second: n.Second.Map(f)}
}

// Reverse reverses each child in place without swapping them.
func (n *ParallelNode) Reverse() Node {
	return &ParallelNode{First: n.First.Reverse(), Second: n.Second.Reverse()}
}

func (*ParallelNode) isNode() {}
