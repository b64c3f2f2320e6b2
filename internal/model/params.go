// Package model defines the parameterized sequence models progen trains, a
// registry to construct them by name, and the tensor tree their parameters
// live in.
package model

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Tensor is a dense float64 array. Data is laid out row major.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// NumEl returns the number of elements.
func (t *Tensor) NumEl() int {
	return len(t.Data)
}

// NDim returns the number of axes.
func (t *Tensor) NDim() int {
	return len(t.Shape)
}

// At indexes a rank-2 tensor.
func (t *Tensor) At(i, j int) float64 {
	return t.Data[i*t.Shape[1]+j]
}

// Row returns row i of a rank-2 tensor as a slice into Data.
func (t *Tensor) Row(i int) []float64 {
	w := t.Shape[1]
	return t.Data[i*w : (i+1)*w]
}

// Clone deep copies the tensor.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]float64, len(t.Data)),
	}
	copy(out.Data, t.Data)
	return out
}

// ZerosLike returns a zero tensor of the same shape.
func (t *Tensor) ZerosLike() *Tensor {
	return NewTensor(t.Shape...)
}

// Params is a named tree of tensors. Operations that walk a Params always do
// so in sorted key order, keeping every run deterministic.
type Params map[string]*Tensor

// SortedKeys returns the parameter names in sorted order.
func (p Params) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep copies the tree.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, t := range p {
		out[k] = t.Clone()
	}
	return out
}

// ZerosLike returns a tree of zero tensors with the same shapes.
func (p Params) ZerosLike() Params {
	out := make(Params, len(p))
	for k, t := range p {
		out[k] = t.ZerosLike()
	}
	return out
}

// NumParams counts the elements across the tree.
func (p Params) NumParams() int {
	n := 0
	for _, t := range p {
		n += t.NumEl()
	}
	return n
}

// GlobalNorm returns the l2 norm over every element of the tree.
func (p Params) GlobalNorm() float64 {
	sum := 0.0
	for _, t := range p {
		for _, x := range t.Data {
			sum += x * x
		}
	}
	return math.Sqrt(sum)
}

// Add accumulates other into p elementwise.
func (p Params) Add(other Params) error {
	for _, k := range p.SortedKeys() {
		o, ok := other[k]
		if !ok {
			return errors.Errorf("params trees differ: missing %q", k)
		}
		t := p[k]
		if len(t.Data) != len(o.Data) {
			return errors.Errorf("params trees differ: %q has %d elements vs %d", k, len(t.Data), len(o.Data))
		}
		for i := range t.Data {
			t.Data[i] += o.Data[i]
		}
	}
	return nil
}

// Scale multiplies every element of the tree by a.
func (p Params) Scale(a float64) {
	for _, t := range p {
		for i := range t.Data {
			t.Data[i] *= a
		}
	}
}
