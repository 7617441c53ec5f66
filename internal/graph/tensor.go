package graph

// DType is the element type of a tensor.
type DType uint8

const (
	Float32 DType = iota + 1
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// Tensor is a named constant tensor: either a graph-wide initializer or the
// embedded value of a Constant node. Initializers act as zero-cost producers
// during constant resolution; no node emits them.
type Tensor struct {
	Name   string
	DType  DType
	Dims   []int64
	Floats []float64
	Ints   []int64
}

// FloatTensor builds a float32 tensor with the given shape and values.
func FloatTensor(name string, dims []int64, values []float64) *Tensor {
	return &Tensor{Name: name, DType: Float32, Dims: dims, Floats: values}
}

// IntTensor builds an int64 tensor with the given shape and values.
func IntTensor(name string, dims []int64, values []int64) *Tensor {
	return &Tensor{Name: name, DType: Int64, Dims: dims, Ints: values}
}

// ScalarInt builds a one-element int64 tensor.
func ScalarInt(name string, v int64) *Tensor {
	return IntTensor(name, []int64{1}, []int64{v})
}

// Len returns the number of stored elements.
func (t *Tensor) Len() int {
	if t.DType == Int64 {
		return len(t.Ints)
	}
	return len(t.Floats)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Dims) }

// Int returns element i as an int64 regardless of element type.
func (t *Tensor) Int(i int) int64 {
	if t.DType == Int64 {
		return t.Ints[i]
	}
	return int64(t.Floats[i])
}

// Float returns element i as a float64 regardless of element type.
func (t *Tensor) Float(i int) float64 {
	if t.DType == Int64 {
		return float64(t.Ints[i])
	}
	return t.Floats[i]
}
