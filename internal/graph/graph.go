package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// GeneratedNamePrefix is the prefix used when a node is added without a name.
const GeneratedNamePrefix = "reforge_node"

// DuplicateOutputError reports two nodes registered as producers of the same
// edge name. This corrupts the graph invariant that every edge has exactly one
// producer and is never repaired silently.
type DuplicateOutputError struct {
	Edge     string
	Node     string
	Existing string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("duplicate output %q: node %q conflicts with existing producer %q", e.Edge, e.Node, e.Existing)
}

// CycleError reports that no topological ordering exists. Remaining lists the
// node names that could not be ordered.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph contains a cycle involving %d nodes: %s", len(e.Remaining), strings.Join(e.Remaining, ", "))
}

// Graph owns the ordered node sequence, the initializer set and the
// graph-level input/output declarations. Node order is not required to stay
// topological while passes edit the graph; Sort restores it before
// externalization.
type Graph struct {
	Name         string
	OpsetVersion int
	Nodes        []*Node
	Inputs       []string
	Outputs      []string
	Initializers map[string]*Tensor

	producers map[string]*Node
	consumers map[string][]*Node
	dirty     bool
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{
		Name:         name,
		Initializers: make(map[string]*Tensor),
		dirty:        true,
	}
}

// Invalidate marks the name lookup indices stale. Callers that mutate Nodes
// directly (rather than through AddNode/RemoveNode) must call it.
func (g *Graph) Invalidate() { g.dirty = true }

func (g *Graph) ensureIndex() {
	if !g.dirty {
		return
	}
	g.producers = make(map[string]*Node, len(g.Nodes))
	g.consumers = make(map[string][]*Node)
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			g.producers[out] = n
		}
		for _, in := range n.Inputs {
			if in == "" {
				continue
			}
			g.consumers[in] = append(g.consumers[in], n)
		}
	}
	g.dirty = false
}

// Producer returns the node producing the named edge, or nil when the edge is
// a graph input, an initializer, or unknown.
func (g *Graph) Producer(edge string) *Node {
	if edge == "" {
		return nil
	}
	g.ensureIndex()
	return g.producers[edge]
}

// Consumers returns the nodes consuming the named edge, in node order.
func (g *Graph) Consumers(edge string) []*Node {
	if edge == "" {
		return nil
	}
	g.ensureIndex()
	return g.consumers[edge]
}

// NodesByOp returns all nodes of the given operator kind, in node order.
func (g *Graph) NodesByOp(op OpType) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Op == op {
			out = append(out, n)
		}
	}
	return out
}

// Contains reports whether the node (by identity) is part of the graph.
func (g *Graph) Contains(n *Node) bool {
	for _, m := range g.Nodes {
		if m == n {
			return true
		}
	}
	return false
}

// AddNode appends a node, assigning a generated name when the node has none.
// It fails with DuplicateOutputError when one of the node's outputs already
// has a producer.
func (g *Graph) AddNode(n *Node) error {
	g.ensureIndex()
	for _, out := range n.Outputs {
		if out == "" {
			continue
		}
		if existing, ok := g.producers[out]; ok {
			return &DuplicateOutputError{Edge: out, Node: n.Name, Existing: existing.Name}
		}
	}
	if n.Name == "" {
		n.Name = g.GenerateNodeName(GeneratedNamePrefix)
	}
	g.Nodes = append(g.Nodes, n)
	g.dirty = true
	return nil
}

// RemoveNode removes the node by identity. Edges referenced elsewhere are not
// retargeted; dangling consumers are expected to be cleaned up by pruning.
func (g *Graph) RemoveNode(n *Node) {
	for i, m := range g.Nodes {
		if m == n {
			g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
			g.dirty = true
			return
		}
	}
}

// AddInitializer registers a graph-wide constant tensor.
func (g *Graph) AddInitializer(t *Tensor) {
	if g.Initializers == nil {
		g.Initializers = make(map[string]*Tensor)
	}
	g.Initializers[t.Name] = t
}

// Initializer returns the named initializer tensor, or nil.
func (g *Graph) Initializer(name string) *Tensor {
	return g.Initializers[name]
}

// IsGraphInput reports whether the name is a declared graph input.
func (g *Graph) IsGraphInput(name string) bool {
	for _, in := range g.Inputs {
		if in == name {
			return true
		}
	}
	return false
}

// IsGraphOutput reports whether the name is a declared graph output.
func (g *Graph) IsGraphOutput(name string) bool {
	for _, out := range g.Outputs {
		if out == name {
			return true
		}
	}
	return false
}

// GenerateNodeName returns prefix_N where N is one past the largest numeric
// suffix any existing node already uses with that prefix. Names stay unique
// across repeated runs over the same graph.
func (g *Graph) GenerateNodeName(prefix string) string {
	max := int64(-1)
	for _, n := range g.Nodes {
		rest, ok := strings.CutPrefix(n.Name, prefix+"_")
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return fmt.Sprintf("%s_%d", prefix, max+1)
}

// ConstantValue resolves an edge name to a concrete tensor when it originates
// from an initializer or from a single constant node (no data inputs, embedded
// value attribute). Any other origin returns nil: callers treat "unresolved"
// as a fusion precondition failure, not a graph error. No expression
// evaluation happens here, only this single-hop lookup.
func (g *Graph) ConstantValue(edge string) *Tensor {
	if edge == "" {
		return nil
	}
	if t := g.Initializers[edge]; t != nil {
		return t
	}
	n := g.Producer(edge)
	if n == nil || n.Op != OpConstant {
		return nil
	}
	for _, in := range n.Inputs {
		if in != "" {
			return nil
		}
	}
	if a, ok := n.Attr("value"); ok && a.Kind == AttrTensor {
		return a.T
	}
	return nil
}

// OpCounts returns a histogram of operator kinds, used by the inspect command
// and the HTTP API to summarize optimization results.
func (g *Graph) OpCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[string(n.Op)]++
	}
	return counts
}
