package fusion

import "github.com/calebsw/reforge/internal/graph"

// BiasGeluFusion is the elementwise preprocessing pass: an Add whose second
// operand is a rank-1 constant bias, feeding only a Gelu, becomes a single
// BiasGelu node.
type BiasGeluFusion struct{}

func NewBiasGeluFusion() *BiasGeluFusion { return &BiasGeluFusion{} }

func (p *BiasGeluFusion) Name() string { return "bias-gelu" }

func (p *BiasGeluFusion) Anchors() []graph.OpType {
	return []graph.OpType{graph.OpGelu}
}

func (p *BiasGeluFusion) Fuse(g *graph.Graph, anchor *graph.Node, edits *EditSet) error {
	add := g.MatchParent(anchor, graph.OpAdd, 0)
	if add == nil || edits.Removes(add) {
		return nil
	}
	if len(g.Consumers(add.Outputs[0])) != 1 {
		return nil
	}

	data, bias := "", ""
	for _, in := range add.Inputs {
		t := g.ConstantValue(in)
		if t != nil && t.Rank() == 1 {
			bias = in
		} else {
			data = in
		}
	}
	if data == "" || bias == "" {
		return nil
	}

	fused := graph.NewNode(graph.OpBiasGelu,
		edits.NewName(g, string(graph.OpBiasGelu)),
		[]string{data, bias},
		[]string{anchor.Outputs[0]},
	)
	edits.Add(g.Name, fused)
	edits.Remove(add, anchor)
	return nil
}
