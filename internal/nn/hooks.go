package nn

import (
	"slices"
	"sync"
)

// ForwardPreHook runs before a module's Forward. Returning nil inputs keeps
// the original inputs.
type ForwardPreHook func(m Module, inputs []Value) ([]Value, error)

// ForwardHook runs after a module's Forward. Returning a nil Value keeps the
// original output.
type ForwardHook func(m Module, inputs []Value, output Value) (Value, error)

type preEntry struct {
	id   uint64
	hook ForwardPreHook
}

type postEntry struct {
	id   uint64
	hook ForwardHook
}

// The hook table is process-wide: hooks apply to every module called through
// Call, whatever model it belongs to.
var hooks struct {
	mu     sync.RWMutex
	nextID uint64
	pre    []preEntry
	post   []postEntry
}

// HookHandle removes a registered hook.
type HookHandle struct {
	id   uint64
	once sync.Once
}

// RegisterForwardPreHook adds h to every module call until the handle is
// removed.
func RegisterForwardPreHook(h ForwardPreHook) *HookHandle {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	hooks.nextID++
	hooks.pre = append(hooks.pre, preEntry{id: hooks.nextID, hook: h})
	return &HookHandle{id: hooks.nextID}
}

// RegisterForwardHook adds h to every module call until the handle is
// removed.
func RegisterForwardHook(h ForwardHook) *HookHandle {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	hooks.nextID++
	hooks.post = append(hooks.post, postEntry{id: hooks.nextID, hook: h})
	return &HookHandle{id: hooks.nextID}
}

// Remove deregisters the hook. Calling it more than once is a no-op.
func (h *HookHandle) Remove() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		hooks.pre = slices.DeleteFunc(hooks.pre, func(e preEntry) bool { return e.id == h.id })
		hooks.post = slices.DeleteFunc(hooks.post, func(e postEntry) bool { return e.id == h.id })
	})
}

// HookCount reports how many pre and post hooks are registered.
func HookCount() (pre, post int) {
	hooks.mu.RLock()
	defer hooks.mu.RUnlock()
	return len(hooks.pre), len(hooks.post)
}

func snapshotHooks() ([]ForwardPreHook, []ForwardHook) {
	hooks.mu.RLock()
	defer hooks.mu.RUnlock()
	if len(hooks.pre) == 0 && len(hooks.post) == 0 {
		return nil, nil
	}
	pre := make([]ForwardPreHook, len(hooks.pre))
	for i, e := range hooks.pre {
		pre[i] = e.hook
	}
	post := make([]ForwardHook, len(hooks.post))
	for i, e := range hooks.post {
		post[i] = e.hook
	}
	return pre, post
}
