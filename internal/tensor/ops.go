package tensor

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShapeMismatch is returned when operand shapes cannot be combined.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	// ErrDataLength is returned when a data slice does not fit its shape.
	ErrDataLength = errors.New("tensor: data length mismatch")
	// ErrEmpty is returned by reductions over tensors without elements.
	ErrEmpty = errors.New("tensor: empty tensor")
)

var (
	errNegativeDim = fmtError("tensor: negative dimension")
	errTooLarge    = fmtError("tensor: too many elements")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }

// BroadcastShape returns the shape produced by broadcasting a against b.
// Dimensions are aligned from the right; each pair must be equal or contain
// a 1.
func BroadcastShape(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := range n {
		da := dimFromRight(a, i)
		db := dimFromRight(b, i)
		switch {
		case da == db:
			out[n-1-i] = da
		case da == 1:
			out[n-1-i] = db
		case db == 1:
			out[n-1-i] = da
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v with %v", ErrShapeMismatch, a, b)
		}
	}
	return out, nil
}

func dimFromRight(shape []int, i int) int {
	if i >= len(shape) {
		return 1
	}
	return shape[len(shape)-1-i]
}

// broadcastStrides returns element strides of src laid over dst. Broadcast
// dimensions get stride 0.
func broadcastStrides(src, dst []int) []int {
	strides := make([]int, len(dst))
	off := len(dst) - len(src)
	stride := 1
	for d := len(src) - 1; d >= 0; d-- {
		if src[d] != 1 {
			strides[d+off] = stride
		}
		stride *= src[d]
	}
	return strides
}

func binary(a, b *Tensor, op func(x, y float32) float32) (*Tensor, error) {
	shape, err := BroadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	out := Zeros(shape...)
	if len(a.data) == len(out.data) && len(b.data) == len(out.data) {
		for i := range out.data {
			out.data[i] = op(a.data[i], b.data[i])
		}
		return out, nil
	}
	as := broadcastStrides(a.shape, shape)
	bs := broadcastStrides(b.shape, shape)
	idx := make([]int, len(shape))
	for i := range out.data {
		ao, bo := 0, 0
		for d := range shape {
			ao += idx[d] * as[d]
			bo += idx[d] * bs[d]
		}
		out.data[i] = op(a.data[ao], b.data[bo])
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return binary(a, b, func(x, y float32) float32 { return x + y })
}

// Mul returns a * b element-wise with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return binary(a, b, func(x, y float32) float32 { return x * y })
}

// Div returns a / b element-wise with broadcasting. Division by zero yields
// zero rather than Inf or NaN.
func Div(a, b *Tensor) (*Tensor, error) {
	return binary(a, b, func(x, y float32) float32 {
		if y == 0 {
			return 0
		}
		return x / y
	})
}

// Lerp returns w*a + (1-w)*b with broadcasting. Each product is rounded to
// float32 before the sum so results do not depend on FMA fusion.
func Lerp(a, b *Tensor, w float32) (*Tensor, error) {
	return binary(a, b, func(x, y float32) float32 { return float32(w*x) + float32((1-w)*y) })
}

// Scale returns t multiplied by s.
func Scale(t *Tensor, s float32) *Tensor {
	return Map(t, func(x float32) float32 { return x * s })
}

// Map applies f to every element and returns a new tensor.
func Map(t *Tensor, f func(float32) float32) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// Abs returns the element-wise absolute value.
func Abs(t *Tensor) *Tensor {
	return Map(t, func(x float32) float32 { return float32(math.Abs(float64(x))) })
}

// Relu returns max(x, 0) element-wise.
func Relu(t *Tensor) *Tensor {
	return Map(t, func(x float32) float32 { return max(x, 0) })
}

// Max returns the largest element.
func Max(t *Tensor) (float32, error) {
	if len(t.data) == 0 {
		return 0, ErrEmpty
	}
	m := t.data[0]
	for _, v := range t.data[1:] {
		m = max(m, v)
	}
	return m, nil
}

// AbsMax returns the largest absolute value.
func AbsMax(t *Tensor) (float32, error) {
	if len(t.data) == 0 {
		return 0, ErrEmpty
	}
	var m float32
	for _, v := range t.data {
		m = max(m, float32(math.Abs(float64(v))))
	}
	return m, nil
}

// NormalizeAxis maps a possibly negative axis into [0, rank).
func NormalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("%w: axis out of range for rank %d", ErrShapeMismatch, rank)
	}
	return axis, nil
}

// AbsMaxAlong reduces |t| over every dimension except axis. The result keeps
// the input rank with size 1 in reduced dimensions.
func AbsMaxAlong(t *Tensor, axis int) (*Tensor, error) {
	ax, err := NormalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, err
	}
	if len(t.data) == 0 {
		return nil, ErrEmpty
	}
	outShape := make([]int, len(t.shape))
	for i := range outShape {
		outShape[i] = 1
	}
	n := t.shape[ax]
	outShape[ax] = n
	inner := 1
	for _, d := range t.shape[ax+1:] {
		inner *= d
	}
	out := Zeros(outShape...)
	for i, v := range t.data {
		j := (i / inner) % n
		out.data[j] = max(out.data[j], float32(math.Abs(float64(v))))
	}
	return out, nil
}

// Linear computes x @ w^T + b. x has shape [..., in], w has shape [out, in]
// and b, when non-nil, has shape [out]. The result has shape [..., out].
func Linear(x, w, b *Tensor) (*Tensor, error) {
	if len(x.shape) == 0 || len(w.shape) != 2 {
		return nil, fmt.Errorf("%w: linear of %v by %v", ErrShapeMismatch, x.shape, w.shape)
	}
	in := x.shape[len(x.shape)-1]
	outF, wIn := w.shape[0], w.shape[1]
	if in != wIn {
		return nil, fmt.Errorf("%w: linear input %d, weight expects %d", ErrShapeMismatch, in, wIn)
	}
	if b != nil && (len(b.shape) != 1 || b.shape[0] != outF) {
		return nil, fmt.Errorf("%w: bias %v for %d outputs", ErrShapeMismatch, b.shape, outF)
	}
	rows := 1
	if in > 0 {
		rows = len(x.data) / in
	} else {
		for _, d := range x.shape[:len(x.shape)-1] {
			rows *= d
		}
	}
	outShape := append(x.Shape()[:len(x.shape)-1], outF)
	out := Zeros(outShape...)
	for r := range rows {
		xr := x.data[r*in : (r+1)*in]
		or := out.data[r*outF : (r+1)*outF]
		for o := range outF {
			or[o] = Dot(xr, w.data[o*in:(o+1)*in])
			if b != nil {
				or[o] += b.data[o]
			}
		}
	}
	return out, nil
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
