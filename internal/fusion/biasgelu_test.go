package fusion

import (
	"testing"

	"github.com/calebsw/reforge/internal/graph"
	"github.com/calebsw/reforge/internal/logger"
)

func buildBiasGeluGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("mlp")
	g.Inputs = []string{"x"}
	g.Outputs = []string{"y"}
	g.AddInitializer(graph.FloatTensor("w", []int64{4, 4}, nil))
	g.AddInitializer(graph.FloatTensor("bias", []int64{4}, nil))
	mustAdd(t, g,
		graph.NewNode(graph.OpMatMul, "mm", []string{"x", "w"}, []string{"mm_out"}),
		// Bias on the first operand: the pass classifies operands, it does
		// not assume a slot.
		graph.NewNode(graph.OpAdd, "add", []string{"bias", "mm_out"}, []string{"add_out"}),
		graph.NewNode(graph.OpGelu, "gelu", []string{"add_out"}, []string{"y"}),
	)
	return g
}

func TestBiasGeluFusion(t *testing.T) {
	g := buildBiasGeluGraph(t)

	changed, err := Apply(g, NewBiasGeluFusion(), logger.Discard())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatal("expected fusion to fire")
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(g.Nodes))
	}
	fused := g.Producer("y")
	if fused == nil || fused.Op != graph.OpBiasGelu {
		t.Fatalf("expected BiasGelu producing y, got %v", fused)
	}
	if len(fused.Inputs) != 2 || fused.Inputs[0] != "mm_out" || fused.Inputs[1] != "bias" {
		t.Fatalf("operands not classified: %v", fused.Inputs)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("fused graph invalid: %v", err)
	}
}

func TestBiasGeluFusionSkipsMatrixBias(t *testing.T) {
	g := buildBiasGeluGraph(t)
	// A rank-2 constant is not a bias vector.
	g.AddInitializer(graph.FloatTensor("bias", []int64{4, 4}, nil))

	changed, err := Apply(g, NewBiasGeluFusion(), logger.Discard())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("fusion must not fire on a rank-2 operand")
	}
}

func TestBiasGeluFusionSkipsSharedAddOutput(t *testing.T) {
	g := buildBiasGeluGraph(t)
	mustAdd(t, g, graph.NewNode(graph.OpSoftmax, "tap", []string{"add_out"}, []string{"tapped"}))
	g.Outputs = append(g.Outputs, "tapped")

	changed, err := Apply(g, NewBiasGeluFusion(), logger.Discard())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("fusion must not orphan the second Add consumer")
	}
}
