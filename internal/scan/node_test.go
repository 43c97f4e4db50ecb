package scan

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// moveLog records every motion performed by the leaves built with leaf.
type moveLog struct {
	moves []string
	fail  map[string]float64
}

var errStuck = errors.New("axis stuck")

func (m *moveLog) leaf(name string, values ...float64) *Simple {
	return NewSimple(name, values, func(ctx context.Context, v float64) error {
		if bad, ok := m.fail[name]; ok && bad == v {
			return errStuck
		}
		m.moves = append(m.moves, Position{name: v}.String())
		return nil
	})
}

func collect(t *testing.T, n Node) []Position {
	t.Helper()
	out, err := Collect(context.Background(), n)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return out
}

func positions(name string, values ...float64) []Position {
	out := make([]Position, len(values))
	for i, v := range values {
		out[i] = Position{name: v}
	}
	return out
}

func TestSimple_IterateMovesBeforeYield(t *testing.T) {
	var m moveLog
	s := m.leaf("theta", 1, 2, 3)

	var seenMoves []int
	for _, err := range s.Iterate(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		seenMoves = append(seenMoves, len(m.moves))
	}
	if diff := cmp.Diff([]int{1, 2, 3}, seenMoves); diff != "" {
		t.Errorf("motion should precede each yield (-want +got):\n%s", diff)
	}
}

func TestSimple_EarlyStopDoesNotMoveAhead(t *testing.T) {
	var m moveLog
	s := m.leaf("theta", 1, 2, 3, 4)
	for p := range s.Iterate(context.Background()) {
		if p["theta"] == 2 {
			break
		}
	}
	if len(m.moves) != 2 {
		t.Errorf("moves = %v, want only the first two", m.moves)
	}
}

func TestSimple_ValuesAreCopied(t *testing.T) {
	values := []float64{1, 2}
	s := NewSimple("x", values, nil)
	values[0] = 99
	if got := s.Values(); got[0] != 1 {
		t.Errorf("NewSimple kept a reference to the caller's slice: %v", got)
	}
}

func TestLen(t *testing.T) {
	a := NewSimple("a", []float64{1, 2, 3}, nil)
	b := NewSimple("b", []float64{4, 5}, nil)
	c := NewSimple("c", []float64{6, 7, 8, 9}, nil)

	testCases := []struct {
		name string
		node Node
		want int
	}{
		{"simple", a, 3},
		{"sum", Sum(a, b), 5},
		{"product", Product(a, b), 6},
		{"parallel", Parallel(a, b), 2},
		{"parallel_longer_second", Parallel(b, c), 2},
		{"nested", Product(Sum(a, b), Parallel(a, c)), 15},
		{"and_back", AndBack(a), 6},
		{"repeat", Repeat(b, 3), 6},
		{"repeat_zero", Repeat(b, 0), 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.node.Len(); got != tc.want {
				t.Errorf("Len() = %d, want %d", got, tc.want)
			}
			if got := len(collect(t, tc.node)); got != tc.want {
				t.Errorf("iterated %d positions, Len() says %d", got, tc.want)
			}
		})
	}
}

func TestSum_DrainsFirstThenSecond(t *testing.T) {
	var m moveLog
	got := collect(t, Sum(m.leaf("a", 1, 2), m.leaf("b", 3)))
	want := []Position{{"a": 1}, {"a": 2}, {"b": 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sum order mismatch (-want +got):\n%s", diff)
	}
}

func TestSum_ReverseInvertsTraversal(t *testing.T) {
	a := NewSimple("a", []float64{1, 2, 3}, nil)
	b := NewSimple("b", []float64{4, 5}, nil)

	forward := collect(t, Sum(a, b))
	backward := collect(t, Sum(a, b).Reverse())
	slices.Reverse(forward)
	if diff := cmp.Diff(forward, backward); diff != "" {
		t.Errorf("reversed Sum is not the reverse traversal (-want +got):\n%s", diff)
	}
}

func TestProduct_NestsInnerAndInnerWins(t *testing.T) {
	outer := NewSimple("x", []float64{1, 2}, nil)
	inner := Parallel(NewSimple("y", []float64{10, 20}, nil), NewSimple("x", []float64{-1, -2}, nil))

	got := collect(t, Product(outer, inner))
	// inner redefines x, so the outer value never survives the merge
	want := []Position{
		{"x": -1, "y": 10}, {"x": -2, "y": 20},
		{"x": -1, "y": 10}, {"x": -2, "y": 20},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Product mismatch (-want +got):\n%s", diff)
	}
}

func TestProduct_OuterVariesSlowest(t *testing.T) {
	var m moveLog
	got := collect(t, Product(m.leaf("x", 1, 2), m.leaf("y", 3, 4)))
	want := []Position{{"x": 1, "y": 3}, {"x": 1, "y": 4}, {"x": 2, "y": 3}, {"x": 2, "y": 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Product mismatch (-want +got):\n%s", diff)
	}
	// the inner axis is re-driven for every outer step
	wantMoves := []string{"x=1", "y=3", "y=4", "x=2", "y=3", "y=4"}
	if diff := cmp.Diff(wantMoves, m.moves); diff != "" {
		t.Errorf("motion order mismatch (-want +got):\n%s", diff)
	}
}

func TestProduct_ReverseKeepsRoles(t *testing.T) {
	p := Product(NewSimple("x", []float64{1, 2}, nil), NewSimple("y", []float64{3, 4}, nil)).Reverse()
	got := collect(t, p)
	want := []Position{{"x": 2, "y": 4}, {"x": 2, "y": 3}, {"x": 1, "y": 4}, {"x": 1, "y": 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reversed Product mismatch (-want +got):\n%s", diff)
	}
}

func TestParallel_LockStepShortestWins(t *testing.T) {
	var m moveLog
	got := collect(t, Parallel(m.leaf("a", 1, 2, 3), m.leaf("b", 10, 20)))
	want := []Position{{"a": 1, "b": 10}, {"a": 2, "b": 20}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parallel mismatch (-want +got):\n%s", diff)
	}
	// a takes its third step before b is found to be exhausted
	wantMoves := []string{"a=1", "b=10", "a=2", "b=20", "a=3"}
	if diff := cmp.Diff(wantMoves, m.moves); diff != "" {
		t.Errorf("motion order mismatch (-want +got):\n%s", diff)
	}
}

func TestParallel_SecondWinsOnConflict(t *testing.T) {
	got := collect(t, Parallel(NewSimple("a", []float64{1}, nil), NewSimple("a", []float64{2}, nil)))
	if diff := cmp.Diff([]Position{{"a": 2}}, got); diff != "" {
		t.Errorf("Parallel conflict mismatch (-want +got):\n%s", diff)
	}
}

func TestParallel_ReverseDoesNotSwap(t *testing.T) {
	p := Parallel(NewSimple("a", []float64{1, 2}, nil), NewSimple("b", []float64{3, 4}, nil)).Reverse()
	got := collect(t, p)
	want := []Position{{"a": 2, "b": 4}, {"a": 1, "b": 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reversed Parallel mismatch (-want +got):\n%s", diff)
	}
}

func TestMap_AppliesToEveryLeaf(t *testing.T) {
	double := func(v float64) float64 { return v * 2 }
	a := NewSimple("a", []float64{1, 2}, nil)
	b := NewSimple("b", []float64{3}, nil)

	testCases := []struct {
		name string
		node Node
		want []Position
	}{
		{"simple", a.Map(double), positions("a", 2, 4)},
		{"sum", Sum(a, b).Map(double), []Position{{"a": 2}, {"a": 4}, {"b": 6}}},
		{"product", Product(a, b).Map(double), []Position{{"a": 2, "b": 6}, {"a": 4, "b": 6}}},
		// both axes are transformed, whatever they mean physically
		{"parallel", Parallel(a, b).Map(double), []Position{{"a": 2, "b": 6}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, collect(t, tc.node)); diff != "" {
				t.Errorf("Map mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMap_PreservesActionAndOriginal(t *testing.T) {
	var m moveLog
	a := m.leaf("a", 1, 2)
	mapped := a.Map(func(v float64) float64 { return v + 10 })

	collect(t, mapped)
	if diff := cmp.Diff([]string{"a=11", "a=12"}, m.moves); diff != "" {
		t.Errorf("mapped scan should move through the original action (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 2}, a.Values()); diff != "" {
		t.Errorf("Map mutated the original leaf (-want +got):\n%s", diff)
	}
}

func TestIterate_MotionErrorStopsScan(t *testing.T) {
	m := moveLog{fail: map[string]float64{"y": 4}}
	n := Product(m.leaf("x", 1, 2), m.leaf("y", 3, 4))

	got, err := Collect(context.Background(), n)
	if !errors.Is(err, errStuck) {
		t.Fatalf("err = %v, want errStuck", err)
	}
	if diff := cmp.Diff([]Position{{"x": 1, "y": 3}}, got); diff != "" {
		t.Errorf("partial results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x=1", "y=3"}, m.moves); diff != "" {
		t.Errorf("no motion expected after the failure (-want +got):\n%s", diff)
	}
}

func TestIterate_ErrorPropagatesThroughCombinators(t *testing.T) {
	testCases := []struct {
		name string
		node func(m *moveLog) Node
	}{
		{"sum_second_arm", func(m *moveLog) Node { return Sum(m.leaf("a", 1), m.leaf("bad", 0)) }},
		{"parallel_first", func(m *moveLog) Node { return Parallel(m.leaf("bad", 0), m.leaf("b", 1)) }},
		{"parallel_second", func(m *moveLog) Node { return Parallel(m.leaf("a", 1), m.leaf("bad", 0)) }},
		{"product_outer", func(m *moveLog) Node { return Product(m.leaf("bad", 0), m.leaf("b", 1)) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := &moveLog{fail: map[string]float64{"bad": 0}}
			_, err := Collect(context.Background(), tc.node(m))
			if !errors.Is(err, errStuck) {
				t.Errorf("err = %v, want errStuck", err)
			}
		})
	}
}

func TestIterate_CancelledContext(t *testing.T) {
	var m moveLog
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, m.leaf("a", 1, 2))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(m.moves) != 0 {
		t.Errorf("moved after cancellation: %v", m.moves)
	}
}

func TestIterate_ReiterationRepeatsMotion(t *testing.T) {
	var m moveLog
	s := m.leaf("a", 1, 2)
	collect(t, s)
	collect(t, s)
	if len(m.moves) != 4 {
		t.Errorf("moves = %v, want each position driven twice", m.moves)
	}
}

func TestCombinators_DoNotMutateChildren(t *testing.T) {
	a := NewSimple("a", []float64{1, 2}, nil)
	b := NewSimple("b", []float64{3}, nil)
	_ = Sum(a, b).Reverse().Map(func(v float64) float64 { return -v })
	_ = AndBack(Product(a, b))

	if diff := cmp.Diff(positions("a", 1, 2), collect(t, a)); diff != "" {
		t.Errorf("child a changed (-want +got):\n%s", diff)
	}
}

func TestAndBack(t *testing.T) {
	got := collect(t, AndBack(NewSimple("a", []float64{1, 2, 3}, nil)))
	if diff := cmp.Diff(positions("a", 1, 2, 3, 3, 2, 1), got); diff != "" {
		t.Errorf("AndBack mismatch (-want +got):\n%s", diff)
	}
}

func TestAxes(t *testing.T) {
	a := NewSimple("theta", nil, nil)
	b := NewSimple("phi", nil, nil)
	got := Axes(Product(Sum(a, b), Parallel(b, NewSimple("field", nil, nil))))
	if diff := cmp.Diff([]string{"theta", "phi", "field"}, got); diff != "" {
		t.Errorf("Axes mismatch (-want +got):\n%s", diff)
	}
}
