package fusion

import (
	"github.com/calebsw/reforge/internal/graph"
	"github.com/calebsw/reforge/internal/logger"
)

// attentionMinOpset is the lowest opset that carries the fused Attention
// operator with causal masking.
const attentionMinOpset = 13

// AttentionFusion rewrites the unfused attention subgraph of a
// vision-language encoder into a single Attention node. It anchors on the
// skip-normalization closing a block and walks the QKV, V, QK, Q and K
// projection chains upstream, requiring all three projections to share one
// root input. Head count and hidden size are read from the Q-reshape shape
// constants when resolvable, falling back to the configured hints.
type AttentionFusion struct {
	numHeads   int
	hiddenSize int
	log        logger.Logger

	numHeadsWarned   bool
	hiddenSizeWarned bool
	opsetWarned      bool
}

func NewAttentionFusion(numHeads, hiddenSize int, log logger.Logger) *AttentionFusion {
	return &AttentionFusion{numHeads: numHeads, hiddenSize: hiddenSize, log: log}
}

func (f *AttentionFusion) Name() string { return "attention" }

func (f *AttentionFusion) Anchors() []graph.OpType {
	return []graph.OpType{graph.OpSkipLayerNormalization}
}

func (f *AttentionFusion) Fuse(g *graph.Graph, anchor *graph.Node, edits *EditSet) error {
	if g.OpsetVersion < attentionMinOpset {
		if !f.opsetWarned {
			f.log.Warn("attention fusion skipped: opset too low",
				"opset", g.OpsetVersion, "required", attentionMinOpset)
			f.opsetWarned = true
		}
		return nil
	}

	// The skip connection enters the anchor at slot 0 or 1; the attention
	// output occupies the other slot. Prefer the previous block's
	// skip-normalization; for the first block after the embedding, fall back
	// to an Add whose normalized child carries the root.
	skipSlot := -1
	var beforeNorm *graph.Node
	for _, i := range []int{1, 0} {
		if p := g.MatchParent(anchor, graph.OpSkipLayerNormalization, i); p != nil {
			skipSlot = i
			beforeNorm = p
		}
	}
	rootInput := ""
	if beforeNorm != nil {
		rootInput = beforeNorm.Outputs[0]
	} else {
		for _, i := range []int{0, 1} {
			add := g.MatchParent(anchor, graph.OpAdd, i)
			if add == nil {
				continue
			}
			child := g.FirstChildByType(add, graph.OpLayerNormalization)
			if child == nil {
				continue
			}
			rootInput = child.Outputs[0]
			skipSlot = i
			break
		}
		if skipSlot < 0 {
			return nil
		}
	}

	qkv := g.MatchParentPath(anchor,
		[]graph.OpType{graph.OpAdd, graph.OpMatMul, graph.OpReshape, graph.OpTranspose, graph.OpReshape, graph.OpMatMul},
		[]int{1 - skipSlot, graph.AnySlot, graph.AnySlot, 0, 0, 0},
	)
	if qkv == nil {
		return nil
	}
	reshapeQKV := qkv[2]
	transposeQKV := qkv[3]
	matmulQKV := qkv[5]

	v := g.MatchParentPath(matmulQKV,
		[]graph.OpType{graph.OpReshape, graph.OpTranspose, graph.OpReshape, graph.OpAdd, graph.OpMatMul},
		[]int{1, 0, 0, 0, graph.AnySlot},
	)
	if v == nil {
		f.log.Debug("attention fusion: failed to match v path", "anchor", anchor.Name)
		return nil
	}
	addV, matmulV := v[3], v[4]

	var qkSlots []int
	qk := g.MatchParentPathIndices(matmulQKV,
		[]graph.OpType{graph.OpSoftmax, graph.OpReshape, graph.OpAdd, graph.OpReshape, graph.OpMatMul},
		[]int{0, 0, 0, graph.AnySlot, 0},
		&qkSlots,
	)
	if qk == nil {
		f.log.Debug("attention fusion: failed to match qk path", "anchor", anchor.Name)
		return nil
	}
	addMask, matmulQK := qk[2], qk[4]
	// The wildcard step records which Add input held the scores; the causal
	// mask sits on the other side.
	causalMaskSlot := 1 - qkSlots[3]

	q := g.MatchParentPath(matmulQK,
		[]graph.OpType{graph.OpReshape, graph.OpTranspose, graph.OpReshape, graph.OpMul, graph.OpAdd, graph.OpMatMul},
		[]int{0, 0, 0, 0, graph.AnySlot, graph.AnySlot},
	)
	if q == nil {
		f.log.Debug("attention fusion: failed to match q path", "anchor", anchor.Name)
		return nil
	}
	reshapeQ, addQ, matmulQ := q[2], q[4], q[5]

	k := g.MatchParentPath(matmulQK,
		[]graph.OpType{graph.OpTranspose, graph.OpReshape, graph.OpTranspose, graph.OpReshape, graph.OpAdd, graph.OpMatMul},
		[]int{1, 0, 0, 0, 0, graph.AnySlot},
	)
	if k == nil {
		f.log.Debug("attention fusion: failed to match k path", "anchor", anchor.Name)
		return nil
	}
	addK, matmulK := k[4], k[5]

	if matmulQ.Inputs[0] != rootInput || matmulK.Inputs[0] != rootInput || matmulV.Inputs[0] != rootInput {
		f.log.Debug("attention fusion: q, k and v projections disagree on root input", "anchor", anchor.Name)
		return nil
	}

	numHeads, hiddenSize := f.headsAndSize(g, reshapeQ)
	if numHeads <= 0 || hiddenSize <= 0 {
		f.log.Debug("attention fusion: failed to detect num heads or hidden size", "anchor", anchor.Name)
		return nil
	}

	// The mask subgraph is large; checking its key path is enough to know the
	// Add applies a causal mask. Models exported with batch size 1 have no
	// Concat at the top, hence the fallback.
	maskPatterns := []Pattern{
		{
			Ops:   []graph.OpType{graph.OpConcat, graph.OpExpand, graph.OpUnsqueeze, graph.OpUnsqueeze, graph.OpWhere, graph.OpLess},
			Slots: []int{causalMaskSlot, 0, 0, 0, 0, 0},
		},
		{
			Ops:   []graph.OpType{graph.OpExpand, graph.OpUnsqueeze, graph.OpUnsqueeze, graph.OpWhere, graph.OpLess},
			Slots: []int{causalMaskSlot, 0, 0, 0, 0},
		},
	}
	if chain, _ := matchFirst(g, addMask, maskPatterns); chain == nil {
		f.log.Debug("attention fusion: failed to match causal mask subgraph", "anchor", anchor.Name)
		return nil
	}

	attn := graph.NewNode(graph.OpAttention,
		edits.NewName(g, string(graph.OpAttention)),
		[]string{
			rootInput,
			matmulQ.Inputs[1], matmulK.Inputs[1], matmulV.Inputs[1],
			addQ.OtherInput(matmulQ.Outputs[0]),
			addK.OtherInput(matmulK.Outputs[0]),
			addV.OtherInput(matmulV.Outputs[0]),
		},
		[]string{reshapeQKV.Outputs[0]},
	)
	attn.SetAttr("num_heads", graph.IntAttr(int64(numHeads)))
	attn.SetAttr("unidirectional", graph.IntAttr(1))

	edits.Add(g.Name, attn)
	// Only the two nodes unique to this match are removed directly; the rest
	// of the consumed subgraph is shared between attention heads and falls to
	// pruning.
	edits.Remove(reshapeQKV, transposeQKV)
	edits.RequestPrune()
	return nil
}

// headsAndSize reads the head count and head size from the shape Concat
// feeding the Q reshape, whose value is [?, ?, num_heads, head_size]. When
// either constant is unresolved the configured hints are used; when a
// detected value conflicts with a hint the detected value wins and a warning
// is logged once per pass instance.
func (f *AttentionFusion) headsAndSize(g *graph.Graph, reshapeQ *graph.Node) (int, int) {
	concat := g.MatchParent(reshapeQ, graph.OpConcat, 1)
	if concat == nil || len(concat.Inputs) != 4 {
		return f.numHeads, f.hiddenSize
	}

	headsVal := g.ConstantValue(concat.Inputs[2])
	if headsVal == nil || headsVal.Len() != 1 || headsVal.Int(0) <= 0 {
		return f.numHeads, f.hiddenSize
	}
	numHeads := int(headsVal.Int(0))

	sizeVal := g.ConstantValue(concat.Inputs[3])
	if sizeVal == nil || sizeVal.Len() != 1 || sizeVal.Int(0) <= 0 {
		return f.numHeads, f.hiddenSize
	}
	hiddenSize := numHeads * int(sizeVal.Int(0))

	if f.numHeads > 0 && numHeads != f.numHeads && !f.numHeadsWarned {
		f.log.Warn("num heads hint overridden by detected value",
			"hint", f.numHeads, "detected", numHeads)
		f.numHeadsWarned = true
	}
	if f.hiddenSize > 0 && hiddenSize != f.hiddenSize && !f.hiddenSizeWarned {
		f.log.Warn("hidden size hint overridden by detected value",
			"hint", f.hiddenSize, "detected", hiddenSize)
		f.hiddenSizeWarned = true
	}
	return numHeads, hiddenSize
}
