package nn

import (
	"fmt"

	"github.com/samcharles93/qcal/internal/tensor"
	"github.com/samcharles93/qcal/pkg/quant"
)

// QuantizedModule is the capability set calibration works against.
//
// Activations returns nil when activation quantization is disabled. Scales
// start at the all-ones sentinel meaning "never calibrated".
type QuantizedModule interface {
	Module
	Activations() *quant.ActivationConfig
	InputScale() *tensor.Tensor
	SetInputScale(*tensor.Tensor)
	OutputScale() *tensor.Tensor
	SetOutputScale(*tensor.Tensor)
	// QForward computes the raw output from x without quantizing it with
	// the output scale.
	QForward(x Value) (Value, error)
}

// QLinear is a linear layer with int8 per-output-channel weights and
// optional activation quantization.
type QLinear struct {
	name        string
	qweight     *quant.QTensor
	bias        *tensor.Tensor
	activations *quant.ActivationConfig
	inputScale  *tensor.Tensor
	outputScale *tensor.Tensor
}

// NewQLinear quantizes weight ([out, in]) to qint8 with one scale per output
// row. A nil activations config disables activation quantization.
func NewQLinear(name string, weight, bias *tensor.Tensor, activations *quant.ActivationConfig) (*QLinear, error) {
	l, err := NewLinear(name, weight, bias)
	if err != nil {
		return nil, err
	}
	return QuantizeLinear(l, activations)
}

// QuantizeLinear builds a QLinear from a dense layer.
func QuantizeLinear(l *Linear, activations *quant.ActivationConfig) (*QLinear, error) {
	if err := activations.Validate(); err != nil {
		return nil, fmt.Errorf("qlinear %s: %w", l.name, err)
	}
	axis := 0
	wscale, err := quant.AbsmaxScale(l.Weight, quant.QInt8, &axis)
	if err != nil {
		return nil, fmt.Errorf("qlinear %s: weight scale: %w", l.name, err)
	}
	qw, err := quant.Quantize(l.Weight, quant.QInt8, wscale)
	if err != nil {
		return nil, fmt.Errorf("qlinear %s: quantize weight: %w", l.name, err)
	}
	return &QLinear{
		name:        l.name,
		qweight:     qw,
		bias:        l.Bias,
		activations: activations,
		inputScale:  tensor.Scalar(1),
		outputScale: tensor.Scalar(1),
	}, nil
}

func (q *QLinear) Name() string { return q.name }

func (q *QLinear) Activations() *quant.ActivationConfig { return q.activations }

func (q *QLinear) InputScale() *tensor.Tensor { return q.inputScale }

func (q *QLinear) SetInputScale(s *tensor.Tensor) { q.inputScale = s }

func (q *QLinear) OutputScale() *tensor.Tensor { return q.outputScale }

func (q *QLinear) SetOutputScale(s *tensor.Tensor) { q.outputScale = s }

// QWeight returns the quantized weight.
func (q *QLinear) QWeight() *quant.QTensor { return q.qweight }

func (q *QLinear) QForward(x Value) (Value, error) {
	in, err := q.dense(x)
	if err != nil {
		return nil, err
	}
	w, err := DequantizeF(q.qweight)
	if err != nil {
		return nil, err
	}
	return LinearF(in, w, q.bias)
}

// Forward quantizes a plain input with the input scale, computes the raw
// output and quantizes it with the output scale. Without activation
// quantization it returns the raw output.
func (q *QLinear) Forward(inputs ...Value) (Value, error) {
	x, err := firstInput(inputs)
	if err != nil {
		return nil, err
	}
	if q.activations == nil {
		return q.QForward(x)
	}
	if t, ok := x.(*tensor.Tensor); ok {
		x, err = QuantizeF(t, q.activations.QType, q.inputScale)
		if err != nil {
			return nil, fmt.Errorf("quantize input: %w", err)
		}
	}
	out, err := q.QForward(x)
	if err != nil {
		return nil, err
	}
	raw, err := q.dense(out)
	if err != nil {
		return nil, err
	}
	qout, err := QuantizeF(raw, q.activations.QType, q.outputScale)
	if err != nil {
		return nil, fmt.Errorf("quantize output: %w", err)
	}
	return qout, nil
}

func (q *QLinear) dense(v Value) (*tensor.Tensor, error) {
	switch x := v.(type) {
	case *tensor.Tensor:
		return x, nil
	case quant.Quantized:
		return DequantizeF(x)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
