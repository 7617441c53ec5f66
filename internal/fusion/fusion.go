// Package fusion implements pattern-directed subgraph rewriting over a
// computation graph. A pass scans anchor nodes, matches parent chains against
// the unmodified graph, queues structural edits on an EditSet, and the commit
// step applies them, prunes dead nodes, and restores topological order.
package fusion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/calebsw/reforge/internal/graph"
	"github.com/calebsw/reforge/internal/logger"
)

// Pass is a single rewrite rule. Fuse is called once per anchor node against
// the unmodified graph; matching must be side-effect-free on the graph
// structure and touch only the edit set, so a late precondition failure is
// cheaply abortable. A Fuse call that matches nothing queues nothing and
// returns nil.
type Pass interface {
	Name() string
	Anchors() []graph.OpType
	Fuse(g *graph.Graph, anchor *graph.Node, edits *EditSet) error
}

// Pattern is one alternative parent chain, a pure data value tried in
// priority order against an anchor.
type Pattern struct {
	Ops   []graph.OpType
	Slots []int
}

// matchFirst tries the patterns in order and returns the first chain that
// matches, along with the pattern's index, or (nil, -1).
func matchFirst(g *graph.Graph, from *graph.Node, patterns []Pattern) ([]*graph.Node, int) {
	for i, p := range patterns {
		if chain := g.MatchParentPath(from, p.Ops, p.Slots); chain != nil {
			return chain, i
		}
	}
	return nil, -1
}

// EditSet is the pass-scoped pending edit set: nodes to add, nodes to remove,
// and a node-name to subgraph-partition map for multi-subgraph scenarios. It
// is created empty at pass start and consumed by commit at pass end.
type EditSet struct {
	add       []*graph.Node
	remove    []*graph.Node
	removed   map[*graph.Node]bool
	partition map[string]string
	prune     bool
}

func NewEditSet() *EditSet {
	return &EditSet{
		removed:   make(map[*graph.Node]bool),
		partition: make(map[string]string),
	}
}

// Add queues nodes for insertion into the named subgraph partition.
func (e *EditSet) Add(partition string, nodes ...*graph.Node) {
	for _, n := range nodes {
		e.add = append(e.add, n)
		if n.Name != "" {
			e.partition[n.Name] = partition
		}
	}
}

// Remove queues nodes for removal. Queueing a node twice is harmless.
func (e *EditSet) Remove(nodes ...*graph.Node) {
	for _, n := range nodes {
		if e.removed[n] {
			continue
		}
		e.removed[n] = true
		e.remove = append(e.remove, n)
	}
}

// Removes reports whether the node is already queued for removal. Passes use
// it to avoid matching an anchor that an earlier anchor's match consumed.
func (e *EditSet) Removes(n *graph.Node) bool { return e.removed[n] }

// RequestPrune asks the commit step to run dead-node pruning after applying
// the edits. Passes that leave shared subgraph remainders behind rely on it
// instead of enumerating every consumed node.
func (e *EditSet) RequestPrune() { e.prune = true }

// NewName derives a fresh node name from the prefix, unique against both the
// graph and the nodes already queued for addition in this set.
func (e *EditSet) NewName(g *graph.Graph, prefix string) string {
	name := g.GenerateNodeName(prefix)
	for e.queuedName(name) {
		name = bumpSuffix(name)
	}
	return name
}

func (e *EditSet) queuedName(name string) bool {
	for _, n := range e.add {
		if n.Name == name {
			return true
		}
	}
	return false
}

func bumpSuffix(name string) string {
	i := strings.LastIndexByte(name, '_')
	v, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return name + "_0"
	}
	return name[:i+1] + strconv.FormatInt(v+1, 10)
}

// Empty reports whether the set queues no work at all.
func (e *EditSet) Empty() bool {
	return len(e.add) == 0 && len(e.remove) == 0 && !e.prune
}

// Apply runs one pass over the graph and commits its edits. It returns whether
// anything changed. A pass that matches zero subgraphs is a successful no-op.
func Apply(g *graph.Graph, p Pass, log logger.Logger) (bool, error) {
	edits := NewEditSet()
	for _, op := range p.Anchors() {
		for _, anchor := range g.NodesByOp(op) {
			if edits.Removes(anchor) {
				continue
			}
			if err := p.Fuse(g, anchor, edits); err != nil {
				return false, fmt.Errorf("pass %s: anchor %s: %w", p.Name(), anchor.Name, err)
			}
		}
	}
	return commit(g, edits, p.Name(), log)
}

// commit applies the queued edits: insert new nodes, delete removed nodes,
// prune to a fixed point when requested, and restore topological order. It is
// the sole mutation point of a pass application.
func commit(g *graph.Graph, edits *EditSet, passName string, log logger.Logger) (bool, error) {
	if edits.Empty() {
		return false, nil
	}

	for _, n := range edits.remove {
		if !g.Contains(n) {
			return false, fmt.Errorf("pass %s: queued removal references node %q not present in graph", passName, n.Name)
		}
	}

	// Removals go first: replacement nodes reuse the replaced subgraph's
	// output edge names, which would otherwise collide with the producers
	// still in place.
	for _, n := range edits.remove {
		g.RemoveNode(n)
	}
	for _, n := range edits.add {
		if n.Name == "" {
			n.Name = g.GenerateNodeName(graph.GeneratedNamePrefix)
			log.Warn("node assigned a generated name", "pass", passName, "name", n.Name)
		}
		if err := g.AddNode(n); err != nil {
			return false, fmt.Errorf("pass %s: %w", passName, err)
		}
	}

	if edits.prune {
		if removed := g.Prune(); removed > 0 {
			log.Debug("pruned dead nodes", "pass", passName, "removed", removed)
		}
	}
	if err := g.Sort(); err != nil {
		return false, fmt.Errorf("pass %s: %w", passName, err)
	}

	log.Info("pass applied",
		"pass", passName,
		"added", len(edits.add),
		"removed", len(edits.remove),
	)
	return true, nil
}
