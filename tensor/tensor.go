package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64 in row-major order.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a zero Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float64, Numel(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// FromData wraps a copy of data with the given shape.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if n := Numel(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: append([]int(nil), shape...),
	}, nil
}

// Full returns a tensor of the given shape with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Numel is the element count of a shape.
func Numel(shape []int) int {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return total
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// Reshape returns a view with a new shape over the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// MatMulT returns a×bᵀ for 2-D a [r, k] and b [c, k].
func MatMulT(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMulT requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	r, k := a.Shape[0], a.Shape[1]
	c, k2 := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, k2)
	}
	out := New(r, c)
	dst := mat.NewDense(r, c, out.Data)
	dst.Mul(mat.NewDense(r, k, a.Data), mat.NewDense(c, k2, b.Data).T())
	return out, nil
}

// offset computes the flat index of indices, panicking when out of range.
func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}
