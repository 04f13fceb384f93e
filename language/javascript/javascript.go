// Package javascript runs lesson code with the goja JavaScript engine.
package javascript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/session"
)

var errClosed = errors.New("interpreter closed")

// Option configures a JavaScript interpreter.
type Option func(*JavaScript)

// WithRegistry exposes the registry's host functions to lesson code.
func WithRegistry(r *hostfunc.Registry) Option {
	return func(j *JavaScript) { j.registry = r }
}

// JavaScript implements session.Interpreter on one goja runtime. Top-level
// declarations persist across Eval calls.
type JavaScript struct {
	registry *hostfunc.Registry

	vm *goja.Runtime
	// stringify is captured before lesson code runs, which may rebind JSON.
	stringify goja.Callable
	ctx       context.Context
	mu     sync.Mutex
	stdout io.Writer
	closed bool
}

var _ session.Interpreter = (*JavaScript)(nil)

// New returns a runtime with console and host builtins installed.
func New(opts ...Option) (*JavaScript, error) {
	j := &JavaScript{stdout: io.Discard, ctx: context.Background()}
	for _, opt := range opts {
		opt(j)
	}
	if j.registry == nil {
		j.registry = hostfunc.NewRegistry()
	}

	j.vm = goja.New()
	j.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{j}))
	registry.Enable(j.vm)
	console.Enable(j.vm)

	if json := j.vm.Get("JSON"); json != nil {
		j.stringify, _ = goja.AssertFunction(json.ToObject(j.vm).Get("stringify"))
	}

	if err := j.bindHost(); err != nil {
		return nil, fmt.Errorf("bind host functions: %w", err)
	}
	return j, nil
}

// Name returns "javascript".
func (j *JavaScript) Name() string {
	return "javascript"
}

func (j *JavaScript) SetStdout(w io.Writer) io.Writer {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.stdout
	j.stdout = w
	return prev
}

func (j *JavaScript) writer() io.Writer {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stdout
}

// Eval runs code as a script in the shared realm and returns the value of
// its completion.
func (j *JavaScript) Eval(ctx context.Context, code string) (session.Value, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return session.None, errClosed
	}
	j.ctx = ctx
	j.mu.Unlock()

	j.vm.ClearInterrupt()
	stop := context.AfterFunc(ctx, func() {
		j.vm.Interrupt(context.Cause(ctx))
	})
	defer func() {
		stop()
		j.vm.ClearInterrupt()
	}()

	v, err := j.vm.RunString(code)
	if err != nil {
		return session.None, j.translate(ctx, err)
	}
	return j.toValue(v), nil
}

func (j *JavaScript) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

func (j *JavaScript) toValue(v goja.Value) session.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return session.None
	}
	if _, ok := v.(*goja.Object); !ok {
		return session.Text(v.String())
	}
	if _, ok := goja.AssertFunction(v); ok {
		return session.Text(v.String())
	}
	if j.stringify == nil {
		return session.Text(v.String())
	}
	s, err := j.stringify(goja.Undefined(), v)
	if err != nil || s == nil || goja.IsUndefined(s) || goja.IsNull(s) {
		return session.Text(v.String())
	}
	return session.Text(s.String())
}

// translate reduces thrown values to their message.
func (j *JavaScript) translate(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) && ctx.Err() != nil {
		return fmt.Errorf("execution interrupted: %w", context.Cause(ctx))
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return errors.New(msg.String())
			}
		}
		return errors.New(exc.Value().String())
	}
	return err
}

type printer struct {
	j *JavaScript
}

func (p printer) Log(s string)   { fmt.Fprintln(p.j.writer(), s) }
func (p printer) Warn(s string)  { fmt.Fprintln(p.j.writer(), s) }
func (p printer) Error(s string) { fmt.Fprintln(p.j.writer(), s) }
