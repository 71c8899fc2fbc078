package quant

import (
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/qcal/internal/tensor"
)

// Quantized is implemented by values that carry a quantization scale and can
// be expanded back to a plain tensor.
type Quantized interface {
	Scale() *tensor.Tensor
	Dequantize() *tensor.Tensor
}

// QTensor holds quantized values and the scale that maps them back to real
// values. The scale is per-tensor (rank 0) or broadcastable per-axis.
type QTensor struct {
	qtype  QType
	values *tensor.Tensor
	scale  *tensor.Tensor
}

// NewQTensor wraps already-quantized values. The scale must broadcast to the
// shape of values without growing it.
func NewQTensor(qt QType, values, scale *tensor.Tensor) (*QTensor, error) {
	shape, err := tensor.BroadcastShape(values.Shape(), scale.Shape())
	if err != nil {
		return nil, err
	}
	if !slices.Equal(shape, values.Shape()) {
		return nil, fmt.Errorf("%w: scale %v does not fit values %v", tensor.ErrShapeMismatch, scale.Shape(), values.Shape())
	}
	return &QTensor{qtype: qt, values: values, scale: scale}, nil
}

// Quantize maps x onto qt using scale. Integer types round to nearest and
// clamp to the qtype range; float8 types only clamp. Zero scales map to zero.
func Quantize(x *tensor.Tensor, qt QType, scale *tensor.Tensor) (*QTensor, error) {
	scaled, err := tensor.Div(x, scale)
	if err != nil {
		return nil, err
	}
	lo, hi := qt.Min(), qt.Max
	values := tensor.Map(scaled, func(v float32) float32 {
		if !qt.Float {
			v = float32(math.RoundToEven(float64(v)))
		}
		return min(max(v, lo), hi)
	})
	return NewQTensor(qt, values, scale)
}

func (q *QTensor) Shape() []int { return q.values.Shape() }

func (q *QTensor) QType() QType { return q.qtype }

// Values returns the quantized values before scaling.
func (q *QTensor) Values() *tensor.Tensor { return q.values }

func (q *QTensor) Scale() *tensor.Tensor { return q.scale }

// Dequantize returns values * scale.
func (q *QTensor) Dequantize() *tensor.Tensor {
	out, err := tensor.Mul(q.values, q.scale)
	if err != nil {
		// NewQTensor guarantees the shapes broadcast.
		panic(err)
	}
	return out
}

func (q *QTensor) String() string {
	return fmt.Sprintf("QTensor(%s)%v scale=%v", q.qtype, q.values.Shape(), q.scale)
}
