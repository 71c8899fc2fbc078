package nn

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/qcal/internal/tensor"
)

var ErrModeNotActive = errors.New("nn: function mode is not the innermost active mode")

// Func is a framework function invoked through Dispatch.
type Func func(args ...Value) (Value, error)

// FunctionMode intercepts framework functions dispatched while it is the
// innermost active mode. HandleFunction must return whatever fn returns to
// keep the call transparent, unless it deliberately changes the result.
type FunctionMode interface {
	HandleFunction(name string, fn Func, args []Value) (Value, error)
}

var modes struct {
	mu    sync.Mutex
	stack []FunctionMode
}

// EnterMode makes m the innermost function mode.
func EnterMode(m FunctionMode) {
	modes.mu.Lock()
	defer modes.mu.Unlock()
	modes.stack = append(modes.stack, m)
}

// ExitMode deactivates m, which must be the innermost mode.
func ExitMode(m FunctionMode) error {
	modes.mu.Lock()
	defer modes.mu.Unlock()
	n := len(modes.stack)
	if n == 0 || modes.stack[n-1] != m {
		return ErrModeNotActive
	}
	modes.stack = modes.stack[:n-1]
	return nil
}

// ModeDepth reports the number of active function modes.
func ModeDepth() int {
	modes.mu.Lock()
	defer modes.mu.Unlock()
	return len(modes.stack)
}

// Dispatch calls fn through the innermost active mode, or directly when no
// mode is active. The handling mode is suspended while its handler runs, so
// functions dispatched from inside the handler go to the next mode out.
func Dispatch(name string, fn Func, args ...Value) (Value, error) {
	modes.mu.Lock()
	n := len(modes.stack)
	if n == 0 {
		modes.mu.Unlock()
		return fn(args...)
	}
	mode := modes.stack[n-1]
	modes.stack = modes.stack[:n-1]
	modes.mu.Unlock()

	defer func() {
		modes.mu.Lock()
		idx := min(n-1, len(modes.stack))
		modes.stack = slices.Insert(modes.stack, idx, mode)
		modes.mu.Unlock()
	}()
	return mode.HandleFunction(name, fn, args)
}

func dispatchTensor(name string, fn Func, args ...Value) (*tensor.Tensor, error) {
	out, err := Dispatch(name, fn, args...)
	if err != nil {
		return nil, err
	}
	t, ok := out.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnsupportedValue, name, out)
	}
	return t, nil
}
