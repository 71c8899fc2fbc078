// Package quant defines quantization types, quantized tensors and the absmax
// scale estimator used by quantized modules and calibration.
package quant

import (
	"fmt"
	"strings"
)

// QType describes a quantized element encoding.
type QType struct {
	Name string
	// Float marks float8 encodings, which clamp instead of rounding.
	Float bool
	// Max is the largest representable magnitude after scaling.
	Max float32
}

var (
	QInt8       = QType{Name: "qint8", Max: 127}
	QInt4       = QType{Name: "qint4", Max: 7}
	QFloat8E4M3 = QType{Name: "qfloat8_e4m3fn", Float: true, Max: 448}
	QFloat8E5M2 = QType{Name: "qfloat8_e5m2", Float: true, Max: 57344}
)

var qtypes = []QType{QInt8, QInt4, QFloat8E4M3, QFloat8E5M2}

// ParseQType resolves a qtype by name. "qfloat8" is accepted as an alias for
// the e4m3 encoding.
func ParseQType(name string) (QType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "qfloat8" || n == "qfloat8_e4m3" {
		return QFloat8E4M3, nil
	}
	for _, qt := range qtypes {
		if qt.Name == n {
			return qt, nil
		}
	}
	return QType{}, fmt.Errorf("%w: %q", ErrUnknownQType, name)
}

// Min is the smallest representable value after scaling.
func (q QType) Min() float32 {
	if q.Float {
		return -q.Max
	}
	return -q.Max - 1
}

func (q QType) String() string { return q.Name }

// ActivationConfig enables activation quantization on a module. A nil
// *ActivationConfig means activations are not quantized.
type ActivationConfig struct {
	QType QType
	// Axis selects per-axis input scales (0 or -1). Nil means per-tensor.
	Axis *int
}

// PerTensor returns a config with a single scalar scale.
func PerTensor(qt QType) *ActivationConfig {
	return &ActivationConfig{QType: qt}
}

// PerAxis returns a config that keeps one input scale per index of axis.
func PerAxis(qt QType, axis int) *ActivationConfig {
	return &ActivationConfig{QType: qt, Axis: &axis}
}

// Validate checks the config is usable by the absmax estimator.
func (c *ActivationConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.QType.Max <= 0 {
		return fmt.Errorf("%w: %q", ErrUnknownQType, c.QType.Name)
	}
	if c.Axis != nil && *c.Axis != 0 && *c.Axis != -1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedAxis, *c.Axis)
	}
	return nil
}
