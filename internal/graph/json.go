package graph

import (
	"fmt"
	"io"
	"sort"

	json "github.com/goccy/go-json"
)

// The JSON interchange format used by the CLI and the HTTP API. It is not the
// persisted model format; an external loader converts to and from that.

type graphJSON struct {
	Name         string       `json:"name,omitempty"`
	OpsetVersion int          `json:"opset_version,omitempty"`
	Inputs       []string     `json:"inputs,omitempty"`
	Outputs      []string     `json:"outputs,omitempty"`
	Nodes        []nodeJSON   `json:"nodes"`
	Initializers []tensorJSON `json:"initializers,omitempty"`
}

type nodeJSON struct {
	Name    string              `json:"name,omitempty"`
	Op      string              `json:"op"`
	Inputs  []string            `json:"inputs,omitempty"`
	Outputs []string            `json:"outputs,omitempty"`
	Attrs   map[string]attrJSON `json:"attrs,omitempty"`
}

type attrJSON struct {
	Type   string      `json:"type"`
	Int    *int64      `json:"int,omitempty"`
	Ints   []int64     `json:"ints,omitempty"`
	Float  *float64    `json:"float,omitempty"`
	Floats []float64   `json:"floats,omitempty"`
	String string      `json:"string,omitempty"`
	Tensor *tensorJSON `json:"tensor,omitempty"`
}

type tensorJSON struct {
	Name   string    `json:"name"`
	DType  string    `json:"dtype"`
	Dims   []int64   `json:"dims,omitempty"`
	Floats []float64 `json:"floats,omitempty"`
	Ints   []int64   `json:"ints,omitempty"`
}

// Encode writes the graph as JSON.
func Encode(w io.Writer, g *Graph) error {
	out := graphJSON{
		Name:         g.Name,
		OpsetVersion: g.OpsetVersion,
		Inputs:       g.Inputs,
		Outputs:      g.Outputs,
		Nodes:        make([]nodeJSON, 0, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, encodeNode(n))
	}
	for _, name := range sortedInitializerNames(g) {
		out.Initializers = append(out.Initializers, encodeTensor(g.Initializers[name]))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Decode reads a JSON graph, rejecting structural violations such as duplicate
// output names.
func Decode(r io.Reader) (*Graph, error) {
	var in graphJSON
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	g := New(in.Name)
	g.OpsetVersion = in.OpsetVersion
	g.Inputs = in.Inputs
	g.Outputs = in.Outputs
	for _, tj := range in.Initializers {
		t, err := decodeTensor(tj)
		if err != nil {
			return nil, err
		}
		g.AddInitializer(t)
	}
	for i, nj := range in.Nodes {
		n, err := decodeNode(nj)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func encodeNode(n *Node) nodeJSON {
	nj := nodeJSON{
		Name:    n.Name,
		Op:      string(n.Op),
		Inputs:  n.Inputs,
		Outputs: n.Outputs,
	}
	if len(n.Attrs) > 0 {
		nj.Attrs = make(map[string]attrJSON, len(n.Attrs))
		for name, a := range n.Attrs {
			nj.Attrs[name] = encodeAttr(a)
		}
	}
	return nj
}

func decodeNode(nj nodeJSON) (*Node, error) {
	if nj.Op == "" {
		return nil, fmt.Errorf("missing op kind")
	}
	n := NewNode(OpType(nj.Op), nj.Name, nj.Inputs, nj.Outputs)
	for name, aj := range nj.Attrs {
		a, err := decodeAttr(aj)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", name, err)
		}
		n.SetAttr(name, a)
	}
	return n, nil
}

func encodeAttr(a Attr) attrJSON {
	switch a.Kind {
	case AttrInt:
		v := a.I
		return attrJSON{Type: "int", Int: &v}
	case AttrInts:
		return attrJSON{Type: "ints", Ints: a.Ints}
	case AttrFloat:
		v := a.F
		return attrJSON{Type: "float", Float: &v}
	case AttrFloats:
		return attrJSON{Type: "floats", Floats: a.Floats}
	case AttrString:
		return attrJSON{Type: "string", String: a.S}
	case AttrTensor:
		tj := encodeTensor(a.T)
		return attrJSON{Type: "tensor", Tensor: &tj}
	default:
		return attrJSON{Type: "unknown"}
	}
}

func decodeAttr(aj attrJSON) (Attr, error) {
	switch aj.Type {
	case "int":
		if aj.Int == nil {
			return Attr{}, fmt.Errorf("int attr without value")
		}
		return IntAttr(*aj.Int), nil
	case "ints":
		return IntsAttr(aj.Ints), nil
	case "float":
		if aj.Float == nil {
			return Attr{}, fmt.Errorf("float attr without value")
		}
		return FloatAttr(*aj.Float), nil
	case "floats":
		return FloatsAttr(aj.Floats), nil
	case "string":
		return StringAttr(aj.String), nil
	case "tensor":
		if aj.Tensor == nil {
			return Attr{}, fmt.Errorf("tensor attr without value")
		}
		t, err := decodeTensor(*aj.Tensor)
		if err != nil {
			return Attr{}, err
		}
		return TensorAttr(t), nil
	default:
		return Attr{}, fmt.Errorf("unknown attr type %q", aj.Type)
	}
}

func encodeTensor(t *Tensor) tensorJSON {
	return tensorJSON{
		Name:   t.Name,
		DType:  t.DType.String(),
		Dims:   t.Dims,
		Floats: t.Floats,
		Ints:   t.Ints,
	}
}

func decodeTensor(tj tensorJSON) (*Tensor, error) {
	t := &Tensor{Name: tj.Name, Dims: tj.Dims, Floats: tj.Floats, Ints: tj.Ints}
	switch tj.DType {
	case "float32":
		t.DType = Float32
	case "int64":
		t.DType = Int64
	default:
		return nil, fmt.Errorf("tensor %q: unknown dtype %q", tj.Name, tj.DType)
	}
	return t, nil
}

func sortedInitializerNames(g *Graph) []string {
	names := make([]string, 0, len(g.Initializers))
	for name := range g.Initializers {
		names = append(names, name)
	}
	// Deterministic output keeps optimize runs byte-comparable.
	sort.Strings(names)
	return names
}
