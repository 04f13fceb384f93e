package hostfunc

import (
	"context"
	"sort"
	"sync"
)

// Func is a host function callable from lesson code. Arguments arrive as a
// JSON-like map and the result must be JSON-like as well.
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of the registered functions.
func (r *Registry) All() map[string]Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Func, len(r.funcs))
	for name, fn := range r.funcs {
		out[name] = fn
	}
	return out
}

// Clone returns an independent registry holding the same functions.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	if r == nil {
		return c
	}
	for name, fn := range r.All() {
		c.funcs[name] = fn
	}
	return c
}

// Call invokes a registered function by name.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := r.Get(name)
	if !ok {
		return nil, &UnknownFuncError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	return fn(ctx, args)
}

type UnknownFuncError struct {
	Name string
}

func (e *UnknownFuncError) Error() string {
	return "unknown function: " + e.Name
}
