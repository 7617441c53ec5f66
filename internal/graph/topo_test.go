package graph

import (
	"errors"
	"testing"
)

func TestPruneDanglingChain(t *testing.T) {
	// Five chained nodes feeding nothing reduce to zero regardless of order.
	g := New("test")
	mustAdd(t, g,
		NewNode(OpAdd, "n1", []string{"in"}, []string{"e1"}),
		NewNode(OpAdd, "n2", []string{"e1"}, []string{"e2"}),
		NewNode(OpAdd, "n3", []string{"e2"}, []string{"e3"}),
		NewNode(OpAdd, "n4", []string{"e3"}, []string{"e4"}),
		NewNode(OpAdd, "n5", []string{"e4"}, []string{"e5"}),
	)

	if removed := g.Prune(); removed != 5 {
		t.Fatalf("expected 5 removed, got %d", removed)
	}
	if len(g.Nodes) != 0 {
		t.Fatalf("expected empty graph, got %d nodes", len(g.Nodes))
	}
}

func TestPruneKeepsReachable(t *testing.T) {
	g := New("test")
	g.Outputs = []string{"out"}
	mustAdd(t, g,
		NewNode(OpMatMul, "live1", []string{"x", "w"}, []string{"mid"}),
		NewNode(OpAdd, "live2", []string{"mid", "bias"}, []string{"out"}),
		NewNode(OpGelu, "dead", []string{"mid"}, []string{"unused"}),
	)

	if removed := g.Prune(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(g.Nodes))
	}
	for _, n := range g.Nodes {
		if n.Name == "dead" {
			t.Fatal("dead node survived pruning")
		}
	}
}

func TestSortOrdersProducersFirst(t *testing.T) {
	g := New("test")
	g.Outputs = []string{"out"}
	// Deliberately out of order.
	mustAdd(t, g,
		NewNode(OpAdd, "last", []string{"mid2", "bias"}, []string{"out"}),
		NewNode(OpGelu, "middle", []string{"mid1"}, []string{"mid2"}),
		NewNode(OpMatMul, "first", []string{"x", "w"}, []string{"mid1"}),
	)

	if err := g.Sort(); err != nil {
		t.Fatalf("sort: %v", err)
	}

	pos := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		pos[n.Name] = i
	}
	if !(pos["first"] < pos["middle"] && pos["middle"] < pos["last"]) {
		t.Fatalf("not topological: %v", pos)
	}
}

func TestSortDetectsCycle(t *testing.T) {
	// A consumes B's output and B consumes A's output.
	g := New("test")
	mustAdd(t, g,
		NewNode(OpAdd, "a", []string{"b_out"}, []string{"a_out"}),
		NewNode(OpAdd, "b", []string{"a_out"}, []string{"b_out"}),
	)

	err := g.Sort()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CycleError, got %T: %v", err, err)
	}
	if len(cyc.Remaining) != 2 {
		t.Fatalf("expected both nodes reported, got %v", cyc.Remaining)
	}
}

func TestSortStableWhenAlreadyOrdered(t *testing.T) {
	g := New("test")
	g.Outputs = []string{"out"}
	mustAdd(t, g,
		NewNode(OpMatMul, "a", []string{"x", "w"}, []string{"m"}),
		NewNode(OpGelu, "b", []string{"m"}, []string{"out"}),
		NewNode(OpConstant, "c", nil, []string{"k"}),
	)
	if err := g.Sort(); err != nil {
		t.Fatalf("sort: %v", err)
	}
	if g.Nodes[0].Name != "a" || g.Nodes[1].Name != "b" {
		t.Fatalf("order disturbed: %v, %v", g.Nodes[0].Name, g.Nodes[1].Name)
	}
}

func TestValidate(t *testing.T) {
	g := New("test")
	g.Inputs = []string{"x"}
	g.Outputs = []string{"y"}
	g.AddInitializer(FloatTensor("w", []int64{4, 4}, nil))
	mustAdd(t, g, NewNode(OpMatMul, "mm", []string{"x", "w"}, []string{"y"}))

	if err := g.Validate(); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}

	mustAdd(t, g, NewNode(OpAdd, "bad", []string{"nowhere"}, []string{"z"}))
	if err := g.Validate(); err == nil {
		t.Fatal("expected dangling input error")
	}
}
