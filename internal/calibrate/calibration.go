// Package calibrate estimates activation quantization scales for quantized
// modules while forward passes run over representative data.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/samcharles93/qcal/internal/logger"
	"github.com/samcharles93/qcal/internal/nn"
	"github.com/samcharles93/qcal/internal/tensor"
	"github.com/samcharles93/qcal/pkg/quant"
)

const (
	// DefaultMomentum is the controller momentum used for output scales.
	DefaultMomentum float32 = 0.9
	// DefaultInputMomentum is the momentum of the input hook. It is fixed and
	// does not follow the controller momentum.
	DefaultInputMomentum float32 = 0.9
)

var (
	ErrScopeActive     = errors.New("calibrate: a calibration scope is already active")
	ErrScopeInactive   = errors.New("calibrate: calibration scope is not active")
	ErrInvalidMomentum = errors.New("calibrate: momentum must be in (0, 1]")
)

// Hooks are global, so only one scope may be active per process.
var scopeActive atomic.Bool

// Calibration is a scoped mode that updates the input and output scales of
// every quantized module called while it is active.
//
// Use Run, or Begin followed by a deferred End. Outside the scope no hooks
// are registered and module scales stay frozen.
type Calibration struct {
	momentum   float32
	log        logger.Logger
	traceLimit int

	active    bool
	pre, post *nn.HookHandle

	trace        []string
	traceDropped int
	observations map[nn.Module]int
}

type Option func(*Calibration)

// WithMomentum sets the momentum applied to output scale updates.
func WithMomentum(m float32) Option {
	return func(c *Calibration) { c.momentum = m }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Calibration) { c.log = l }
}

// WithCallTrace records up to limit dispatched function names per scope.
// Recording never changes call results.
func WithCallTrace(limit int) Option {
	return func(c *Calibration) { c.traceLimit = limit }
}

func New(opts ...Option) (*Calibration, error) {
	c := &Calibration{
		momentum: DefaultMomentum,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !(c.momentum > 0 && c.momentum <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidMomentum, c.momentum)
	}
	return c, nil
}

func (c *Calibration) Momentum() float32 { return c.momentum }

// Active reports whether this controller's scope is open.
func (c *Calibration) Active() bool { return c.active }

// Begin opens the scope: function dispatch is intercepted first, then the
// input and output hooks are registered.
func (c *Calibration) Begin() error {
	if c.active || !scopeActive.CompareAndSwap(false, true) {
		return ErrScopeActive
	}
	nn.EnterMode(c)
	c.pre = nn.RegisterForwardPreHook(func(m nn.Module, inputs []nn.Value) ([]nn.Value, error) {
		return c.calibrateInput(m, inputs, DefaultInputMomentum)
	})
	c.post = nn.RegisterForwardHook(c.calibrateOutput)
	c.active = true
	c.trace = c.trace[:0]
	c.traceDropped = 0
	c.observations = make(map[nn.Module]int)
	c.log.Info("calibration started", "momentum", c.momentum)
	return nil
}

// End closes the scope in reverse order of Begin: hooks are removed before
// function dispatch stops being intercepted.
func (c *Calibration) End() error {
	if !c.active {
		return ErrScopeInactive
	}
	c.pre.Remove()
	c.post.Remove()
	c.pre, c.post = nil, nil
	err := nn.ExitMode(c)
	c.active = false
	scopeActive.Store(false)
	c.log.Info("calibration finished", "modules", len(c.observations), "calls", len(c.trace)+c.traceDropped)
	if err != nil {
		return fmt.Errorf("calibrate: leave dispatch mode: %w", err)
	}
	return nil
}

// Run executes fn inside the scope. The scope is closed on every exit path,
// including panics; fn's error takes precedence over an End error.
func (c *Calibration) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Begin(); err != nil {
		return err
	}
	defer func() {
		if endErr := c.End(); endErr != nil && err == nil {
			err = endErr
		}
	}()
	return fn(ctx)
}

// HandleFunction passes every dispatched function through unchanged,
// recording its name when a call trace is enabled.
func (c *Calibration) HandleFunction(name string, fn nn.Func, args []nn.Value) (nn.Value, error) {
	if c.traceLimit > 0 {
		if len(c.trace) < c.traceLimit {
			c.trace = append(c.trace, name)
		} else {
			c.traceDropped++
		}
	}
	return fn(args...)
}

// Trace returns the function names recorded in the current or last scope.
func (c *Calibration) Trace() []string {
	return append([]string(nil), c.trace...)
}

// Observed returns how many output calibrations m went through in the
// current or last scope.
func (c *Calibration) Observed(m nn.Module) int {
	return c.observations[m]
}

func eligible(m nn.Module) (nn.QuantizedModule, *quant.ActivationConfig, bool) {
	qm, ok := m.(nn.QuantizedModule)
	if !ok {
		return nil, nil, false
	}
	cfg := qm.Activations()
	return qm, cfg, cfg != nil
}

// calibrateInput updates the input scale from the first input. A quantized
// input already carries an upstream scale, whose maximum is adopted as is.
func (c *Calibration) calibrateInput(m nn.Module, inputs []nn.Value, momentum float32) ([]nn.Value, error) {
	qm, cfg, ok := eligible(m)
	if !ok || len(inputs) == 0 {
		return nil, nil
	}
	switch x := inputs[0].(type) {
	case quant.Quantized:
		mx, err := tensor.Max(x.Scale())
		if err != nil {
			return nil, fmt.Errorf("input scale: %w", err)
		}
		qm.SetInputScale(tensor.Scalar(mx))
	case *tensor.Tensor:
		candidate, err := quant.AbsmaxScale(x, cfg.QType, cfg.Axis)
		if err != nil {
			return nil, fmt.Errorf("input scale: %w", err)
		}
		scale, err := UpdatedScale(qm.InputScale(), candidate, momentum)
		if err != nil {
			return nil, fmt.Errorf("input scale: %w", err)
		}
		qm.SetInputScale(scale)
	default:
		return nil, fmt.Errorf("input scale: %w: %T", nn.ErrUnsupportedValue, inputs[0])
	}
	c.log.Debug("input scale updated", "module", m.Name(), "scale", qm.InputScale().Data())
	return inputs, nil
}

// calibrateOutput re-evaluates the raw output, updates the output scale and
// returns a fresh forward pass that uses it. The output produced during the
// original pass used the stale scale. This runs the module twice per call.
func (c *Calibration) calibrateOutput(m nn.Module, inputs []nn.Value, _ nn.Value) (nn.Value, error) {
	qm, cfg, ok := eligible(m)
	if !ok || len(inputs) == 0 {
		return nil, nil
	}
	raw, err := qm.QForward(inputs[0])
	if err != nil {
		return nil, err
	}
	var dense *tensor.Tensor
	switch v := raw.(type) {
	case quant.Quantized:
		if dense, err = nn.DequantizeF(v); err != nil {
			return nil, err
		}
	case *tensor.Tensor:
		dense = v
	default:
		return nil, fmt.Errorf("output scale: %w: %T", nn.ErrUnsupportedValue, raw)
	}
	candidate, err := quant.AbsmaxScale(dense, cfg.QType, nil)
	if err != nil {
		return nil, fmt.Errorf("output scale: %w", err)
	}
	scale, err := UpdatedScale(qm.OutputScale(), candidate, c.momentum)
	if err != nil {
		return nil, fmt.Errorf("output scale: %w", err)
	}
	qm.SetOutputScale(scale)
	c.observations[m]++
	c.log.Debug("output scale updated", "module", m.Name(), "scale", scale.Data())
	return qm.Forward(inputs[0])
}
