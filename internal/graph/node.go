package graph

// OpType identifies an operator kind. Constants are declared for the kinds the
// fusion passes understand; any other string value is carried through opaquely
// so custom operators do not break matching.
type OpType string

const (
	OpAdd       OpType = "Add"
	OpMul       OpType = "Mul"
	OpMatMul    OpType = "MatMul"
	OpReshape   OpType = "Reshape"
	OpTranspose OpType = "Transpose"
	OpConcat    OpType = "Concat"
	OpSoftmax   OpType = "Softmax"
	OpExpand    OpType = "Expand"
	OpUnsqueeze OpType = "Unsqueeze"
	OpWhere     OpType = "Where"
	OpLess      OpType = "Less"
	OpConstant  OpType = "Constant"
	OpGelu      OpType = "Gelu"

	OpLayerNormalization     OpType = "LayerNormalization"
	OpSkipLayerNormalization OpType = "SkipLayerNormalization"

	// Fused operators produced by the optimization passes.
	OpAttention OpType = "Attention"
	OpBiasGelu  OpType = "BiasGelu"
	OpFusedGemm OpType = "FusedGemm"

	// Composite operator consumed by the block fission pass.
	OpTransformerBlock OpType = "TransformerBlock"
)

// AttrKind tags which field of an Attr holds the value.
type AttrKind uint8

const (
	AttrInt AttrKind = iota + 1
	AttrInts
	AttrFloat
	AttrFloats
	AttrString
	AttrTensor
)

// Attr is a named node attribute: a scalar or array constant configuring the
// operator (axis, epsilon, head count) or an embedded tensor for Constant
// nodes.
type Attr struct {
	Kind   AttrKind
	I      int64
	Ints   []int64
	F      float64
	Floats []float64
	S      string
	T      *Tensor
}

func IntAttr(v int64) Attr       { return Attr{Kind: AttrInt, I: v} }
func IntsAttr(v []int64) Attr    { return Attr{Kind: AttrInts, Ints: v} }
func FloatAttr(v float64) Attr   { return Attr{Kind: AttrFloat, F: v} }
func FloatsAttr(v []float64) Attr { return Attr{Kind: AttrFloats, Floats: v} }
func StringAttr(v string) Attr   { return Attr{Kind: AttrString, S: v} }
func TensorAttr(t *Tensor) Attr  { return Attr{Kind: AttrTensor, T: t} }

// Node is a single operator in the graph. Inputs and Outputs hold edge names;
// an empty input name means no connection at that position. Connectivity is
// derived purely from name equality, there are no link objects.
type Node struct {
	Name    string
	Op      OpType
	Inputs  []string
	Outputs []string
	Attrs   map[string]Attr
}

// NewNode builds a node. An empty name is allowed; the graph assigns a
// generated name when such a node is added.
func NewNode(op OpType, name string, inputs, outputs []string) *Node {
	return &Node{
		Name:    name,
		Op:      op,
		Inputs:  inputs,
		Outputs: outputs,
	}
}

// SetAttr stores a named attribute, allocating the map on first use.
func (n *Node) SetAttr(name string, a Attr) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]Attr)
	}
	n.Attrs[name] = a
}

// Attr returns the named attribute if present.
func (n *Node) Attr(name string) (Attr, bool) {
	a, ok := n.Attrs[name]
	return a, ok
}

// IntAttrOr returns the named integer attribute, or def when it is absent or
// not an integer.
func (n *Node) IntAttrOr(name string, def int64) int64 {
	if a, ok := n.Attrs[name]; ok && a.Kind == AttrInt {
		return a.I
	}
	return def
}

// FloatAttrOr returns the named float attribute, or def when it is absent or
// not a float.
func (n *Node) FloatAttrOr(name string, def float64) float64 {
	if a, ok := n.Attrs[name]; ok && a.Kind == AttrFloat {
		return a.F
	}
	return def
}

// HasInput reports whether the node consumes the named edge.
func (n *Node) HasInput(edge string) bool {
	for _, in := range n.Inputs {
		if in != "" && in == edge {
			return true
		}
	}
	return false
}

// OtherInput returns the first non-empty input that is not the given edge.
// Useful to find the second operand of a commutative binary operator once one
// side is known.
func (n *Node) OtherInput(edge string) string {
	for _, in := range n.Inputs {
		if in != "" && in != edge {
			return in
		}
	}
	return ""
}
