package nn

import (
	"fmt"

	"github.com/samcharles93/qcal/internal/tensor"
)

// Linear is a dense layer y = x @ Weight^T + Bias.
type Linear struct {
	name   string
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // [out], may be nil
}

// NewLinear validates weight and bias shapes.
func NewLinear(name string, weight, bias *tensor.Tensor) (*Linear, error) {
	if weight.Rank() != 2 {
		return nil, fmt.Errorf("%w: linear %s weight must be rank 2, got %v", tensor.ErrShapeMismatch, name, weight.Shape())
	}
	if bias != nil && (bias.Rank() != 1 || bias.Shape()[0] != weight.Shape()[0]) {
		return nil, fmt.Errorf("%w: linear %s bias %v for weight %v", tensor.ErrShapeMismatch, name, bias.Shape(), weight.Shape())
	}
	return &Linear{name: name, Weight: weight, Bias: bias}, nil
}

func (l *Linear) Name() string { return l.name }

// InFeatures returns the expected size of the last input dimension.
func (l *Linear) InFeatures() int { return l.Weight.Shape()[1] }

// OutFeatures returns the size of the last output dimension.
func (l *Linear) OutFeatures() int { return l.Weight.Shape()[0] }

func (l *Linear) Forward(inputs ...Value) (Value, error) {
	in, err := firstInput(inputs)
	if err != nil {
		return nil, err
	}
	x, err := Dense(in)
	if err != nil {
		return nil, err
	}
	return LinearF(x, l.Weight, l.Bias)
}

// ReLU applies max(x, 0).
type ReLU struct {
	name string
}

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (r *ReLU) Name() string { return r.name }

func (r *ReLU) Forward(inputs ...Value) (Value, error) {
	in, err := firstInput(inputs)
	if err != nil {
		return nil, err
	}
	x, err := Dense(in)
	if err != nil {
		return nil, err
	}
	return ReluF(x)
}

// Sequential chains modules, feeding each output to the next module.
type Sequential struct {
	name   string
	layers []Module
}

func NewSequential(name string, layers ...Module) *Sequential {
	return &Sequential{name: name, layers: layers}
}

func (s *Sequential) Name() string { return s.name }

func (s *Sequential) Children() []Module { return s.layers }

func (s *Sequential) Forward(inputs ...Value) (Value, error) {
	x, err := firstInput(inputs)
	if err != nil {
		return nil, err
	}
	for _, l := range s.layers {
		x, err = Call(l, x)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}
