package graph

// Prune removes dead nodes: nodes none of whose outputs are consumed by a
// surviving node or declared as a graph output. Removal runs to a fixed point,
// so a dangling chain disappears entirely regardless of its length. Returns
// the number of nodes removed.
func (g *Graph) Prune() int {
	// Reverse reachability from the declared graph outputs is equivalent to
	// iterating single-node removal to a fixed point, and removal-order
	// independent.
	keep := make(map[*Node]bool, len(g.Nodes))
	var stack []string
	stack = append(stack, g.Outputs...)
	seen := make(map[string]bool, len(stack))
	for len(stack) > 0 {
		edge := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[edge] {
			continue
		}
		seen[edge] = true
		p := g.Producer(edge)
		if p == nil || keep[p] {
			continue
		}
		keep[p] = true
		stack = append(stack, p.Inputs...)
	}

	if len(keep) == len(g.Nodes) {
		return 0
	}
	kept := make([]*Node, 0, len(keep))
	for _, n := range g.Nodes {
		if keep[n] {
			kept = append(kept, n)
		}
	}
	removed := len(g.Nodes) - len(kept)
	g.Nodes = kept
	g.dirty = true
	return removed
}

// Sort reorders Nodes so every node appears after the producers of all its
// input edges. Initializers and graph inputs impose no ordering. A cycle is
// fatal and reported as CycleError, never silently dropped or arbitrarily
// ordered. The sort is stable with respect to the existing node order.
func (g *Graph) Sort() error {
	g.ensureIndex()

	indegree := make(map[*Node]int, len(g.Nodes))
	dependents := make(map[*Node][]*Node, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n] = 0
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			p := g.producers[in]
			if p == nil || p == n {
				continue
			}
			indegree[n]++
			dependents[p] = append(dependents[p], n)
		}
	}

	var ready []*Node
	for _, n := range g.Nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	ordered := make([]*Node, 0, len(g.Nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(ordered) != len(g.Nodes) {
		var remaining []string
		for _, n := range g.Nodes {
			if indegree[n] > 0 {
				remaining = append(remaining, n.Name)
			}
		}
		return &CycleError{Remaining: remaining}
	}
	g.Nodes = ordered
	g.dirty = true
	return nil
}

// Validate checks the structural invariants that must hold before
// externalization: unique output names and every input edge resolving to an
// initializer, a graph input, or some node's output.
func (g *Graph) Validate() error {
	producers := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			if existing, ok := producers[out]; ok {
				return &DuplicateOutputError{Edge: out, Node: n.Name, Existing: existing}
			}
			producers[out] = n.Name
		}
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in == "" {
				continue
			}
			if _, ok := producers[in]; ok {
				continue
			}
			if g.Initializers[in] != nil || g.IsGraphInput(in) {
				continue
			}
			return &danglingInputError{Node: n.Name, Edge: in}
		}
	}
	return nil
}

type danglingInputError struct {
	Node string
	Edge string
}

func (e *danglingInputError) Error() string {
	return "node " + e.Node + " consumes edge " + e.Edge + " which has no producer, initializer, or graph input"
}
