package model

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/qcal/pkg/quant"
)

var ErrInvalidSpec = errors.New("model: invalid spec")

// Spec is the YAML description of a calibration model.
type Spec struct {
	Name string `yaml:"name"`
	// Seed drives deterministic weight initialisation when Weights is empty.
	Seed int64 `yaml:"seed"`
	// Weights is a safetensors file, relative to the spec file.
	Weights     string          `yaml:"weights"`
	Activations *ActivationSpec `yaml:"activations"`
	Layers      []LayerSpec     `yaml:"layers"`
}

// ActivationSpec selects the activation qtype and optional per-axis input
// scales.
type ActivationSpec struct {
	QType string `yaml:"qtype"`
	Axis  *int   `yaml:"axis"`
}

type LayerSpec struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	In       int    `yaml:"in"`
	Out      int    `yaml:"out"`
	Bias     *bool  `yaml:"bias"`
	Quantize bool   `yaml:"quantize"`
	// Activations overrides the model default for this layer; "none"
	// disables activation quantization.
	Activations *ActivationOverride `yaml:"activations"`
}

type ActivationOverride struct {
	Disabled bool
	Spec     *ActivationSpec
}

func (a *ActivationOverride) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		switch strings.ToLower(n.Value) {
		case "none", "off", "false", "disabled":
			a.Disabled = true
			return nil
		}
		return fmt.Errorf("%w: activations %q (want a mapping or none)", ErrInvalidSpec, n.Value)
	}
	var s ActivationSpec
	if err := n.Decode(&s); err != nil {
		return err
	}
	a.Spec = &s
	return nil
}

// Config resolves the spec into a quant config. A nil spec disables
// activation quantization.
func (s *ActivationSpec) Config() (*quant.ActivationConfig, error) {
	if s == nil {
		return nil, nil
	}
	qt, err := quant.ParseQType(s.QType)
	if err != nil {
		return nil, err
	}
	cfg := &quant.ActivationConfig{QType: qt, Axis: s.Axis}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSpec reads a YAML model description.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSpec(data)
}

func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if len(s.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidSpec)
	}
	if s.Name == "" {
		s.Name = "model"
	}
	return &s, nil
}
