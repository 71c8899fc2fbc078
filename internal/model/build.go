// Package model builds module graphs from YAML descriptions, with weights
// from safetensors files or a deterministic seed.
package model

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/qcal/internal/nn"
	"github.com/samcharles93/qcal/internal/safetensors"
	"github.com/samcharles93/qcal/internal/tensor"
	"github.com/samcharles93/qcal/pkg/quant"
)

type weightSource interface {
	// Tensor returns the named tensor, or nil when the source has none.
	Tensor(name string, shape ...int) (*tensor.Tensor, error)
	// Random reports whether missing tensors are generated.
	Random() bool
}

type fileSource struct {
	f *safetensors.File
}

func (s fileSource) Tensor(name string, shape ...int) (*tensor.Tensor, error) {
	if _, ok := s.f.Tensors[name]; !ok {
		return nil, nil
	}
	t, err := s.f.Tensor(name)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(t.Shape(), shape) {
		return nil, fmt.Errorf("%w: %s has shape %v, want %v", ErrInvalidSpec, name, t.Shape(), shape)
	}
	return t, nil
}

func (fileSource) Random() bool { return false }

type seededSource struct {
	seed int64
	n    int64
}

func (s *seededSource) Tensor(name string, shape ...int) (*tensor.Tensor, error) {
	t := tensor.Zeros(shape...)
	s.n++
	tensor.FillRand(t, s.seed+s.n*7919)
	return t, nil
}

func (*seededSource) Random() bool { return true }

// Model is a built module graph plus the description it came from.
type Model struct {
	Spec *Spec
	Root *nn.Sequential
}

// QuantizedModules returns every quantized module keyed by path, in graph
// order.
func (m *Model) QuantizedModules() []Named {
	return QuantizedModules(m.Root)
}

// Named pairs a module with its dot-joined path.
type Named struct {
	Path   string
	Module nn.QuantizedModule
}

func QuantizedModules(root nn.Module) []Named {
	var out []Named
	_ = nn.Walk(root, func(path string, m nn.Module) error {
		if qm, ok := m.(nn.QuantizedModule); ok {
			out = append(out, Named{Path: path, Module: qm})
		}
		return nil
	})
	return out
}

// Load reads the model description at path and builds it. Relative weight
// paths resolve against its directory.
func Load(path string) (*Model, error) {
	spec, err := LoadSpec(path)
	if err != nil {
		return nil, err
	}
	return Build(spec, filepath.Dir(path))
}

// Build constructs the module graph described by spec.
func Build(spec *Spec, baseDir string) (*Model, error) {
	var src weightSource = &seededSource{seed: spec.Seed}
	if spec.Weights != "" {
		path := spec.Weights
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		f, err := safetensors.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open weights: %w", err)
		}
		// Tensors are decoded into fresh memory, so the mapping can go once
		// the graph is built.
		defer func() { _ = f.Close() }()
		src = fileSource{f: f}
	}

	defaultAct, err := spec.Activations.Config()
	if err != nil {
		return nil, fmt.Errorf("model activations: %w", err)
	}

	layers := make([]nn.Module, 0, len(spec.Layers))
	features := 0
	for i, ls := range spec.Layers {
		name := ls.Name
		if name == "" {
			name = fmt.Sprintf("%s%d", strings.ToLower(ls.Type), i)
		}
		switch strings.ToLower(ls.Type) {
		case "linear":
			if ls.In <= 0 || ls.Out <= 0 {
				return nil, fmt.Errorf("%w: layer %s: in and out must be positive", ErrInvalidSpec, name)
			}
			if features != 0 && ls.In != features {
				return nil, fmt.Errorf("%w: layer %s expects %d features, previous layer produces %d", ErrInvalidSpec, name, ls.In, features)
			}
			m, err := buildLinear(name, ls, src, defaultAct)
			if err != nil {
				return nil, err
			}
			layers = append(layers, m)
			features = ls.Out
		case "relu":
			layers = append(layers, nn.NewReLU(name))
		default:
			return nil, fmt.Errorf("%w: layer %s: unknown type %q", ErrInvalidSpec, name, ls.Type)
		}
	}
	return &Model{Spec: spec, Root: nn.NewSequential(spec.Name, layers...)}, nil
}

func buildLinear(name string, ls LayerSpec, src weightSource, defaultAct *quant.ActivationConfig) (nn.Module, error) {
	w, err := src.Tensor(name+".weight", ls.Out, ls.In)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: layer %s: missing tensor %s.weight", ErrInvalidSpec, name, name)
	}
	var b *tensor.Tensor
	switch {
	case ls.Bias != nil && !*ls.Bias:
		// no bias
	case src.Random():
		b = tensor.Zeros(ls.Out)
	default:
		if b, err = src.Tensor(name+".bias", ls.Out); err != nil {
			return nil, err
		}
	}
	l, err := nn.NewLinear(name, w, b)
	if err != nil {
		return nil, err
	}
	if !ls.Quantize {
		return l, nil
	}
	act := defaultAct
	if ls.Activations != nil {
		if ls.Activations.Disabled {
			act = nil
		} else if act, err = ls.Activations.Spec.Config(); err != nil {
			return nil, fmt.Errorf("layer %s activations: %w", name, err)
		}
	}
	q, err := nn.QuantizeLinear(l, act)
	if err != nil {
		return nil, err
	}
	return q, nil
}
