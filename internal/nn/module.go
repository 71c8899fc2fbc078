// Package nn provides the module invocation protocol used by calibration:
// modules, forward hooks applied to every module call, and function-dispatch
// modes that see every framework function a module invokes.
package nn

import (
	"errors"
	"fmt"

	"github.com/samcharles93/qcal/internal/tensor"
	"github.com/samcharles93/qcal/pkg/quant"
)

var (
	ErrNoInput          = errors.New("nn: module called without input")
	ErrUnsupportedValue = errors.New("nn: unsupported value type")
)

// Value is anything that flows between modules: *tensor.Tensor or
// *quant.QTensor.
type Value interface {
	Shape() []int
}

// Module is a node in a model graph.
type Module interface {
	Name() string
	Forward(inputs ...Value) (Value, error)
}

// Container is implemented by modules that invoke child modules.
type Container interface {
	Children() []Module
}

// Call invokes m through the global hook table: every registered pre-hook,
// then m.Forward, then every registered post-hook, in registration order.
// Containers must call their children through Call so nested modules see
// the same ordering.
func Call(m Module, inputs ...Value) (Value, error) {
	pre, post := snapshotHooks()
	for _, h := range pre {
		repl, err := h(m, inputs)
		if err != nil {
			return nil, fmt.Errorf("%s: pre-forward hook: %w", m.Name(), err)
		}
		if repl != nil {
			inputs = repl
		}
	}
	out, err := m.Forward(inputs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name(), err)
	}
	for _, h := range post {
		repl, err := h(m, inputs, out)
		if err != nil {
			return nil, fmt.Errorf("%s: forward hook: %w", m.Name(), err)
		}
		if repl != nil {
			out = repl
		}
	}
	return out, nil
}

// Walk visits m and its descendants depth-first. path is the dot-joined
// chain of module names from the root.
func Walk(m Module, fn func(path string, m Module) error) error {
	return walk("", m, fn)
}

func walk(prefix string, m Module, fn func(string, Module) error) error {
	path := m.Name()
	if prefix != "" {
		path = prefix + "." + path
	}
	if err := fn(path, m); err != nil {
		return err
	}
	c, ok := m.(Container)
	if !ok {
		return nil
	}
	for _, child := range c.Children() {
		if err := walk(path, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Dense returns v as a plain tensor, dequantizing quantized values.
func Dense(v Value) (*tensor.Tensor, error) {
	switch x := v.(type) {
	case *tensor.Tensor:
		return x, nil
	case quant.Quantized:
		return x.Dequantize(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func firstInput(inputs []Value) (Value, error) {
	if len(inputs) == 0 || inputs[0] == nil {
		return nil, ErrNoInput
	}
	return inputs[0], nil
}
