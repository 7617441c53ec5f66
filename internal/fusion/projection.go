package fusion

import "github.com/calebsw/reforge/internal/graph"

// ProjectionFusion collapses a pair of stacked linear projections feeding a
// normalization node into a single FusedGemm. Primary chain, walking upstream
// from the anchor: MatMul <- Add <- MatMul (the Add carries the first
// projection's bias). Fallback for bias-free exports: MatMul <- MatMul.
type ProjectionFusion struct{}

func NewProjectionFusion() *ProjectionFusion { return &ProjectionFusion{} }

func (p *ProjectionFusion) Name() string { return "projection" }

func (p *ProjectionFusion) Anchors() []graph.OpType {
	return []graph.OpType{graph.OpLayerNormalization}
}

var projectionPatterns = []Pattern{
	{
		Ops:   []graph.OpType{graph.OpMatMul, graph.OpAdd, graph.OpMatMul},
		Slots: []int{graph.AnySlot, graph.AnySlot, graph.AnySlot},
	},
	{
		Ops:   []graph.OpType{graph.OpMatMul, graph.OpMatMul},
		Slots: []int{graph.AnySlot, graph.AnySlot},
	},
}

func (p *ProjectionFusion) Fuse(g *graph.Graph, anchor *graph.Node, edits *EditSet) error {
	chain, _ := matchFirst(g, anchor, projectionPatterns)
	if chain == nil {
		return nil
	}
	head := chain[0]                // MatMul feeding the anchor
	deepest := chain[len(chain)-1] // first projection in execution order

	// Each interior edge must feed the chain alone, otherwise removing the
	// chain would orphan another consumer.
	for _, n := range chain[1:] {
		if len(g.Consumers(n.Outputs[0])) != 1 {
			return nil
		}
	}
	for _, n := range chain {
		if edits.Removes(n) {
			return nil
		}
	}

	inputs := []string{deepest.Inputs[0], deepest.Inputs[1]}
	if len(chain) == 3 {
		add := chain[1]
		bias := add.OtherInput(deepest.Outputs[0])
		if g.ConstantValue(bias) == nil {
			// The bias operand must be a constant for the fused kernel.
			return nil
		}
		inputs = append(inputs, bias)
	}
	// The second projection's weight operand.
	inputs = append(inputs, head.OtherInput(chain[1].Outputs[0]))

	fused := graph.NewNode(graph.OpFusedGemm,
		edits.NewName(g, string(graph.OpFusedGemm)),
		inputs,
		[]string{head.Outputs[0]},
	)

	edits.Add(g.Name, fused)
	edits.Remove(chain...)
	return nil
}
