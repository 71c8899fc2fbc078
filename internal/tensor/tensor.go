package tensor

import (
	"fmt"
	"math/rand"
	"slices"
)

// Tensor is a dense row-major N-dimensional array of float32 values.
//
// A rank-0 tensor (empty shape) holds exactly one element and is used for
// per-tensor quantization scales. Tensors are not safe for concurrent
// mutation.
type Tensor struct {
	shape []int
	data  []float32
}

// New creates a tensor over data with the given shape. The data slice is
// used directly, not copied.
func New(shape []int, data []float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrDataLength, shape, n, len(data))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}, nil
}

// MustNew is like New but panics on error. Intended for literals in tests
// and fixtures.
func MustNew(shape []int, data []float32) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	n, err := numElements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{shape: slices.Clone(shape), data: make([]float32, n)}
}

// Full allocates a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Ones allocates a tensor of ones.
func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// Scalar returns a rank-0 tensor holding v.
func Scalar(v float32) *Tensor {
	return &Tensor{data: []float32{v}}
}

// Vector returns a rank-1 tensor copied from values.
func Vector(values ...float32) *Tensor {
	return &Tensor{shape: []int{len(values)}, data: slices.Clone(values)}
}

// Shape returns a copy of the tensor dimensions.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Writes are visible in the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Item returns the single element of a one-element tensor.
func (t *Tensor) Item() (float32, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("%w: item of tensor with %d elements", ErrShapeMismatch, len(t.data))
	}
	return t.data[0], nil
}

// AllEqual reports whether every element equals v. An empty tensor reports
// true.
func (t *Tensor) AllEqual(v float32) bool {
	for _, x := range t.data {
		if x != v {
			return false
		}
	}
	return true
}

// Equal reports whether o has the same shape and elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return slices.Equal(t.shape, o.shape) && slices.Equal(t.data, o.data)
}

// Reshape returns a view of t with a new shape holding the same number of
// elements.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return New(shape, t.data)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v%v", t.shape, t.data)
}

// FillRand fills the tensor with reproducible pseudo-random values in a small
// range around zero. The same seed always produces the same values.
func FillRand(t *Tensor, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.data {
		t.data[i] = (rng.Float32() - 0.5) * 0.2
	}
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errNegativeDim
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, errTooLarge
		}
		n *= d
	}
	return n, nil
}
