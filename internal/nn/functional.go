package nn

import (
	"fmt"

	"github.com/samcharles93/qcal/internal/tensor"
	"github.com/samcharles93/qcal/pkg/quant"
)

// Framework functions. Each goes through Dispatch so an active FunctionMode
// sees it.

// LinearF computes x @ w^T + b. b may be nil.
func LinearF(x, w, b *tensor.Tensor) (*tensor.Tensor, error) {
	return dispatchTensor("linear", linearFn, x, w, b)
}

// ReluF computes max(x, 0).
func ReluF(x *tensor.Tensor) (*tensor.Tensor, error) {
	return dispatchTensor("relu", reluFn, x)
}

// DequantizeF expands a quantized value to a plain tensor.
func DequantizeF(q quant.Quantized) (*tensor.Tensor, error) {
	v, ok := q.(Value)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, q)
	}
	return dispatchTensor("dequantize", dequantizeFn, v)
}

// QuantizeF quantizes x to qt with scale.
func QuantizeF(x *tensor.Tensor, qt quant.QType, scale *tensor.Tensor) (*quant.QTensor, error) {
	out, err := Dispatch("quantize", func(args ...Value) (Value, error) {
		x, err := tensorArg(args, 0)
		if err != nil {
			return nil, err
		}
		scale, err := tensorArg(args, 1)
		if err != nil {
			return nil, err
		}
		return quant.Quantize(x, qt, scale)
	}, x, scale)
	if err != nil {
		return nil, err
	}
	q, ok := out.(*quant.QTensor)
	if !ok {
		return nil, fmt.Errorf("%w: quantize returned %T", ErrUnsupportedValue, out)
	}
	return q, nil
}

func linearFn(args ...Value) (Value, error) {
	x, err := tensorArg(args, 0)
	if err != nil {
		return nil, err
	}
	w, err := tensorArg(args, 1)
	if err != nil {
		return nil, err
	}
	var b *tensor.Tensor
	if len(args) > 2 && args[2] != nil {
		b, _ = args[2].(*tensor.Tensor)
	}
	return tensor.Linear(x, w, b)
}

func reluFn(args ...Value) (Value, error) {
	x, err := tensorArg(args, 0)
	if err != nil {
		return nil, err
	}
	return tensor.Relu(x), nil
}

func dequantizeFn(args ...Value) (Value, error) {
	if len(args) == 0 {
		return nil, ErrNoInput
	}
	q, ok := args[0].(quant.Quantized)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, args[0])
	}
	return q.Dequantize(), nil
}

func tensorArg(args []Value, i int) (*tensor.Tensor, error) {
	if i >= len(args) || args[i] == nil {
		return nil, ErrNoInput
	}
	t, ok := args[i].(*tensor.Tensor)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: argument %d is %T", ErrUnsupportedValue, i, args[i])
	}
	return t, nil
}
