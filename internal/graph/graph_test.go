package graph

import (
	"errors"
	"testing"
)

func TestAddNodeDuplicateOutput(t *testing.T) {
	g := New("test")
	if err := g.AddNode(NewNode(OpMatMul, "a", []string{"x", "w"}, []string{"y"})); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := g.AddNode(NewNode(OpAdd, "b", []string{"x"}, []string{"y"}))
	if err == nil {
		t.Fatal("expected duplicate output error")
	}
	var dup *DuplicateOutputError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateOutputError, got %T: %v", err, err)
	}
	if dup.Edge != "y" || dup.Existing != "a" || dup.Node != "b" {
		t.Fatalf("unexpected error fields: %+v", dup)
	}
}

func TestAddNodeAssignsGeneratedName(t *testing.T) {
	g := New("test")
	n := NewNode(OpAdd, "", []string{"a", "b"}, []string{"c"})
	if err := g.AddNode(n); err != nil {
		t.Fatalf("add: %v", err)
	}
	if n.Name != GeneratedNamePrefix+"_0" {
		t.Fatalf("expected generated name, got %q", n.Name)
	}
}

func TestGenerateNodeNameSkipsExistingSuffixes(t *testing.T) {
	g := New("test")
	mustAdd(t, g, NewNode(OpAdd, "Attention_0", []string{"a"}, []string{"b"}))
	mustAdd(t, g, NewNode(OpAdd, "Attention_7", []string{"b"}, []string{"c"}))
	mustAdd(t, g, NewNode(OpAdd, "Attention_x", []string{"c"}, []string{"d"}))

	if got := g.GenerateNodeName("Attention"); got != "Attention_8" {
		t.Fatalf("expected Attention_8, got %q", got)
	}
}

func TestProducerConsumersIndex(t *testing.T) {
	g := New("test")
	a := NewNode(OpMatMul, "a", []string{"x", "w"}, []string{"y"})
	b := NewNode(OpAdd, "b", []string{"y", "bias"}, []string{"z"})
	c := NewNode(OpGelu, "c", []string{"y"}, []string{"g"})
	mustAdd(t, g, a, b, c)

	if got := g.Producer("y"); got != a {
		t.Fatalf("Producer(y) = %v", got)
	}
	if got := g.Producer("x"); got != nil {
		t.Fatalf("expected nil producer for graph-level edge, got %v", got)
	}
	consumers := g.Consumers("y")
	if len(consumers) != 2 || consumers[0] != b || consumers[1] != c {
		t.Fatalf("unexpected consumers of y: %v", consumers)
	}

	g.RemoveNode(b)
	if got := g.Consumers("y"); len(got) != 1 || got[0] != c {
		t.Fatalf("index not rebuilt after removal: %v", got)
	}
}

func TestNodesByOp(t *testing.T) {
	g := New("test")
	mustAdd(t, g,
		NewNode(OpMatMul, "m1", []string{"a", "w"}, []string{"b"}),
		NewNode(OpAdd, "a1", []string{"b", "c"}, []string{"d"}),
		NewNode(OpMatMul, "m2", []string{"d", "w2"}, []string{"e"}),
	)
	got := g.NodesByOp(OpMatMul)
	if len(got) != 2 || got[0].Name != "m1" || got[1].Name != "m2" {
		t.Fatalf("unexpected MatMul nodes: %v", got)
	}
}

func TestConstantValue(t *testing.T) {
	g := New("test")
	g.AddInitializer(ScalarInt("heads", 8))

	constNode := NewNode(OpConstant, "const", nil, []string{"scale"})
	constNode.SetAttr("value", TensorAttr(FloatTensor("", []int64{1}, []float64{0.125})))
	mustAdd(t, g, constNode)
	mustAdd(t, g, NewNode(OpMatMul, "mm", []string{"x", "w"}, []string{"y"}))

	if v := g.ConstantValue("heads"); v == nil || v.Int(0) != 8 {
		t.Fatalf("initializer not resolved: %v", v)
	}
	if v := g.ConstantValue("scale"); v == nil || v.Float(0) != 0.125 {
		t.Fatalf("constant node not resolved: %v", v)
	}
	if v := g.ConstantValue("y"); v != nil {
		t.Fatalf("non-constant producer resolved to %v", v)
	}
	if v := g.ConstantValue("unknown"); v != nil {
		t.Fatalf("unknown edge resolved to %v", v)
	}
	if v := g.ConstantValue(""); v != nil {
		t.Fatalf("empty edge resolved to %v", v)
	}
}

func TestConstantValueRejectsConstantWithInputs(t *testing.T) {
	g := New("test")
	n := NewNode(OpConstant, "c", []string{"x"}, []string{"y"})
	n.SetAttr("value", TensorAttr(ScalarInt("", 1)))
	mustAdd(t, g, n)
	if v := g.ConstantValue("y"); v != nil {
		t.Fatalf("constant with data input must not resolve, got %v", v)
	}
}

func mustAdd(t *testing.T, g *Graph, nodes ...*Node) {
	t.Helper()
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("add %s: %v", n.Name, err)
		}
	}
}
