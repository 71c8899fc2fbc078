package calibrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/qcal/internal/nn"
	"github.com/samcharles93/qcal/internal/tensor"
)

var ErrInvalidPasses = errors.New("calibrate: passes must be positive")

// Calibrate runs passes forward sweeps of root over batches inside a single
// scope. The context is checked before every batch.
func (c *Calibration) Calibrate(ctx context.Context, root nn.Module, batches []*tensor.Tensor, passes int) error {
	if passes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPasses, passes)
	}
	return c.Run(ctx, func(ctx context.Context) error {
		for pass := range passes {
			for i, b := range batches {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := nn.Call(root, b); err != nil {
					return fmt.Errorf("pass %d batch %d: %w", pass, i, err)
				}
			}
			c.log.Debug("calibration pass done", "pass", pass, "batches", len(batches))
		}
		return nil
	})
}
