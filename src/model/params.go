package model

import (
	"errors"
	"fmt"
	"slices"

	"beamfl/src/utils"

	"gonum.org/v1/gonum/mat"
)

var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Tensor is one named weight array stored in row-major order.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewTensor allocates a zero tensor.
func NewTensor(name string, shape ...int) Tensor {
	return Tensor{
		Name:  name,
		Shape: slices.Clone(shape),
		Data:  make([]float64, shapeSize(shape)),
	}
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Size is the number of elements.
func (t Tensor) Size() int {
	return len(t.Data)
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Name:  t.Name,
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// SameShape reports whether o has the same name and dimensions.
func (t Tensor) SameShape(o Tensor) bool {
	return t.Name == o.Name && slices.Equal(t.Shape, o.Shape) && len(t.Data) == len(o.Data)
}

// Matrix returns a view of a rank-2 tensor. Vectors are viewed as a single row.
// The view shares memory with the tensor.
func (t Tensor) Matrix() *mat.Dense {
	switch len(t.Shape) {
	case 1:
		return mat.NewDense(1, t.Shape[0], t.Data)
	case 2:
		return mat.NewDense(t.Shape[0], t.Shape[1], t.Data)
	}
	panic(fmt.Sprintf("tensor %s: rank %d has no matrix view", t.Name, len(t.Shape)))
}

// Validate returns ErrShapeMismatch when the data length disagrees with the
// shape.
func (t Tensor) Validate() error {
	if len(t.Data) != shapeSize(t.Shape) {
		return fmt.Errorf("%w: tensor %s has %d elements for shape %v", ErrShapeMismatch, t.Name, len(t.Data), t.Shape)
	}
	return nil
}

// Params is the ordered set of tensors describing a model, in the layout
// returned by Architecture.Layout.
type Params []Tensor

func (p Params) Clone() Params {
	c := make(Params, len(p))
	for i, t := range p {
		c[i] = t.Clone()
	}
	return c
}

// Shapes lists the dimensions of every tensor in order.
func (p Params) Shapes() [][]int {
	shapes := make([][]int, len(p))
	for i, t := range p {
		shapes[i] = slices.Clone(t.Shape)
	}
	return shapes
}

// NumElements is the total number of scalars in p.
func (p Params) NumElements() int {
	n := 0
	for _, t := range p {
		n += t.Size()
	}
	return n
}

// CheckLayout returns ErrShapeMismatch unless o has the same tensors in the
// same order as p.
func (p Params) CheckLayout(o Params) error {
	if len(p) != len(o) {
		return fmt.Errorf("%w: %d tensors, want %d", ErrShapeMismatch, len(o), len(p))
	}
	for i := range p {
		if !p[i].SameShape(o[i]) {
			return fmt.Errorf("%w: tensor %d is %s%v, want %s%v",
				ErrShapeMismatch, i, o[i].Name, o[i].Shape, p[i].Name, p[i].Shape)
		}
	}
	return nil
}

// IsFinite reports whether no tensor holds NaN or Inf.
func (p Params) IsFinite() bool {
	for _, t := range p {
		if !utils.AllFinite(t.Data) {
			return false
		}
	}
	return true
}

// Index returns the position of the named tensor or -1.
func (p Params) Index(name string) int {
	return slices.IndexFunc(p, func(t Tensor) bool { return t.Name == name })
}
