package graph

// AnySlot is the wildcard input position in a chain pattern. A wildcard step
// tries every input slot in order and accepts the first producer whose kind
// matches; the lowest-indexed qualifying slot always wins.
const AnySlot = -1

// MatchParent returns the node producing n's input at the given slot when
// that producer's operator kind equals op, else nil. Not found is a normal
// outcome, never an error. Pass AnySlot to search all input slots.
func (g *Graph) MatchParent(n *Node, op OpType, slot int) *Node {
	p, _ := g.matchParentSlot(n, op, slot)
	return p
}

// matchParentSlot additionally reports which concrete slot matched.
func (g *Graph) matchParentSlot(n *Node, op OpType, slot int) (*Node, int) {
	if slot == AnySlot {
		for i := range n.Inputs {
			if p := g.producerOfKind(n.Inputs[i], op); p != nil {
				return p, i
			}
		}
		return nil, -1
	}
	if slot < 0 || slot >= len(n.Inputs) {
		return nil, -1
	}
	if p := g.producerOfKind(n.Inputs[slot], op); p != nil {
		return p, slot
	}
	return nil, -1
}

func (g *Graph) producerOfKind(edge string, op OpType) *Node {
	if edge == "" {
		return nil
	}
	if p := g.Producer(edge); p != nil && p.Op == op {
		return p
	}
	return nil
}

// MatchParentPath walks backward from n through the given input slots,
// requiring the operator kind at each step. The returned chain is ordered
// nearest-first: element 0 produces an input of n, element len-1 is the far
// end. The walk fails atomically: any failed step returns nil and exposes no
// partial chain.
func (g *Graph) MatchParentPath(n *Node, ops []OpType, slots []int) []*Node {
	return g.MatchParentPathIndices(n, ops, slots, nil)
}

// MatchParentPathIndices is MatchParentPath recording, per step, which
// concrete input slot was matched. Callers use the record to tell which side
// of a commutative operator held a particular role, for example which input
// of an Add carried the attention mask. matched is reset before the walk.
func (g *Graph) MatchParentPathIndices(n *Node, ops []OpType, slots []int, matched *[]int) []*Node {
	if len(ops) == 0 || len(ops) != len(slots) {
		return nil
	}
	if matched != nil {
		*matched = (*matched)[:0]
	}
	chain := make([]*Node, 0, len(ops))
	indices := make([]int, 0, len(ops))
	cur := n
	for i := range ops {
		p, slot := g.matchParentSlot(cur, ops[i], slots[i])
		if p == nil {
			return nil
		}
		chain = append(chain, p)
		indices = append(indices, slot)
		cur = p
	}
	if matched != nil {
		*matched = append(*matched, indices...)
	}
	return chain
}

// FirstChildByType returns the first node (in node order) directly consuming
// one of n's outputs whose kind equals op, or nil.
func (g *Graph) FirstChildByType(n *Node, op OpType) *Node {
	for _, out := range n.Outputs {
		for _, c := range g.Consumers(out) {
			if c.Op == op {
				return c
			}
		}
	}
	return nil
}
