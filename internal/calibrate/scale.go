package calibrate

import (
	"github.com/samcharles93/qcal/internal/tensor"
)

// UpdatedScale folds newScale into scale with an exponential moving average:
// momentum*scale + (1-momentum)*newScale.
//
// A scale whose elements are all 1 has never been calibrated and is replaced
// by newScale outright. Shapes follow broadcasting rules; incompatible
// shapes return an error wrapping tensor.ErrShapeMismatch.
func UpdatedScale(scale, newScale *tensor.Tensor, momentum float32) (*tensor.Tensor, error) {
	if scale == nil || scale.AllEqual(1) {
		return newScale, nil
	}
	return tensor.Lerp(scale, newScale, momentum)
}
