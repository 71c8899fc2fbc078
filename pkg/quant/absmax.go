package quant

import (
	"github.com/samcharles93/qcal/internal/tensor"
)

// AbsmaxScale estimates a quantization scale as max|x| / qt.Max.
//
// With a nil axis the whole tensor is reduced to a rank-0 scale. Otherwise
// the given axis (0 or -1) is kept and every other dimension is reduced to
// size 1, so the scale broadcasts against x.
func AbsmaxScale(x *tensor.Tensor, qt QType, axis *int) (*tensor.Tensor, error) {
	if axis == nil {
		m, err := tensor.AbsMax(x)
		if err != nil {
			return nil, err
		}
		return tensor.Scalar(m / qt.Max), nil
	}
	if *axis != 0 && *axis != -1 {
		return nil, ErrUnsupportedAxis
	}
	ranges, err := tensor.AbsMaxAlong(x, *axis)
	if err != nil {
		return nil, err
	}
	return tensor.Map(ranges, func(v float32) float32 { return v / qt.Max }), nil
}
