package fusion

import (
	"fmt"

	"github.com/calebsw/reforge/internal/graph"
)

// Block input layout, fixed by the exporter of the composite operator.
const (
	blockInHidden = iota
	blockInMask
	blockInLNWeight
	blockInLNBias
	blockInQKVWeight
	blockInQKVBias
	blockInOutWeight
	blockInOutBias
	blockInFC1Weight
	blockInFC1Bias
	blockInFC2Weight
	blockInFC2Bias
	blockInputCount
)

const defaultLayerNormEps = 1e-5

// BlockFission splits each composite TransformerBlock node of a causal-LM
// export into the primitive subgraph it stands for: layer normalization, a
// fused Attention, the output projection, the two-layer Gelu MLP, and the
// residual additions. Node and edge names derive from the block's layer
// index so repeated blocks never collide.
type BlockFission struct {
	nextLayer int
}

func NewBlockFission() *BlockFission { return &BlockFission{} }

func (p *BlockFission) Name() string { return "block-fission" }

func (p *BlockFission) Anchors() []graph.OpType {
	return []graph.OpType{graph.OpTransformerBlock}
}

func (p *BlockFission) Fuse(g *graph.Graph, block *graph.Node, edits *EditSet) error {
	if len(block.Inputs) < blockInputCount || len(block.Outputs) < 1 {
		// Malformed composite; leave it alone rather than guess the layout.
		return nil
	}

	layer := block.IntAttrOr("layer_index", int64(p.nextLayer))
	p.nextLayer++
	uname := func(base string) string {
		return fmt.Sprintf("%s_%d", base, layer)
	}

	hidden := block.Inputs[blockInHidden]
	mask := block.Inputs[blockInMask]
	outHidden := block.Outputs[0]

	ln := graph.NewNode(graph.OpLayerNormalization, uname("LayerNormalization"),
		[]string{hidden, block.Inputs[blockInLNWeight], block.Inputs[blockInLNBias]},
		[]string{uname("ln_out")},
	)
	ln.SetAttr("epsilon", graph.FloatAttr(block.FloatAttrOr("epsilon", defaultLayerNormEps)))

	attn := graph.NewNode(graph.OpAttention, uname("Attention"),
		[]string{uname("ln_out"), block.Inputs[blockInQKVWeight], block.Inputs[blockInQKVBias], mask},
		[]string{uname("attn_out")},
	)
	attn.SetAttr("num_heads", graph.IntAttr(block.IntAttrOr("num_heads", 0)))
	attn.SetAttr("unidirectional", graph.IntAttr(1))
	attn.SetAttr("do_rotary", graph.IntAttr(1))

	nodes := []*graph.Node{
		ln,
		attn,
		graph.NewNode(graph.OpMatMul, uname("OutProj_MatMul"),
			[]string{uname("attn_out"), block.Inputs[blockInOutWeight]},
			[]string{uname("proj_matmul_out")}),
		graph.NewNode(graph.OpAdd, uname("OutProj_Add"),
			[]string{uname("proj_matmul_out"), block.Inputs[blockInOutBias]},
			[]string{uname("proj_out")}),
		graph.NewNode(graph.OpMatMul, uname("FC1_MatMul"),
			[]string{uname("ln_out"), block.Inputs[blockInFC1Weight]},
			[]string{uname("fc1_matmul_out")}),
		graph.NewNode(graph.OpAdd, uname("FC1_Bias"),
			[]string{uname("fc1_matmul_out"), block.Inputs[blockInFC1Bias]},
			[]string{uname("fc1_out")}),
		graph.NewNode(graph.OpGelu, uname("Gelu"),
			[]string{uname("fc1_out")},
			[]string{uname("gelu_out")}),
		graph.NewNode(graph.OpMatMul, uname("FC2_MatMul"),
			[]string{uname("gelu_out"), block.Inputs[blockInFC2Weight]},
			[]string{uname("fc2_matmul_out")}),
		graph.NewNode(graph.OpAdd, uname("FC2_Bias"),
			[]string{uname("fc2_matmul_out"), block.Inputs[blockInFC2Bias]},
			[]string{uname("fc2_out")}),
		// Parallel block: attention output and MLP output join, then the
		// block input is added back as the residual.
		graph.NewNode(graph.OpAdd, uname("Residual_Add_1"),
			[]string{uname("proj_out"), uname("fc2_out")},
			[]string{uname("residual_1_out")}),
		graph.NewNode(graph.OpAdd, uname("Residual_Add_2"),
			[]string{hidden, uname("residual_1_out")},
			[]string{outHidden}),
	}

	edits.Add(g.Name, nodes...)
	edits.Remove(block)
	edits.RequestPrune()
	return nil
}
