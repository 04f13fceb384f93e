// Package starlark runs lesson code with the Starlark interpreter, a
// Python dialect embedded in Go.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/session"
)

var errClosed = errors.New("interpreter closed")

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Option configures a Starlark interpreter.
type Option func(*Starlark)

// WithRegistry exposes the registry's host functions to lesson code.
func WithRegistry(r *hostfunc.Registry) Option {
	return func(s *Starlark) { s.registry = r }
}

// WithFilename sets the file name used in error positions.
func WithFilename(name string) Option {
	return func(s *Starlark) { s.filename = name }
}

// Starlark implements session.Interpreter. Globals persist across Eval
// calls and are never frozen.
type Starlark struct {
	registry *hostfunc.Registry
	filename string

	mu      sync.Mutex
	stdout  io.Writer
	globals starlark.StringDict
	predecl starlark.StringDict
	closed  bool
}

var _ session.Interpreter = (*Starlark)(nil)

// New returns a ready interpreter with an empty namespace.
func New(opts ...Option) *Starlark {
	s := &Starlark{
		filename: "lesson.star",
		stdout:   io.Discard,
		globals:  starlark.StringDict{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.predecl = starlark.StringDict{
		"json":   json.Module,
		"math":   math.Module,
		"time":   time.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for name, fn := range hostBuiltins(s.registry) {
		s.predecl[name] = fn
	}
	return s
}

// Name returns "starlark".
func (s *Starlark) Name() string {
	return "starlark"
}

func (s *Starlark) SetStdout(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.stdout
	s.stdout = w
	return prev
}

func (s *Starlark) writer() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout
}

// Globals returns the names currently defined in the namespace.
func (s *Starlark) Globals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globals.Keys()
}

// Eval executes code as one chunk of a running module. When the chunk ends
// with an expression statement, that expression is evaluated separately and
// its value returned.
func (s *Starlark) Eval(ctx context.Context, code string) (session.Value, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return session.None, errClosed
	}

	f, err := fileOptions.Parse(s.filename, code, 0)
	if err != nil {
		return session.None, err
	}

	var last syntax.Expr
	if n := len(f.Stmts); n > 0 {
		if es, ok := f.Stmts[n-1].(*syntax.ExprStmt); ok {
			last = es.X
			f.Stmts = f.Stmts[:n-1]
		}
	}

	thread := &starlark.Thread{
		Name: s.filename,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(s.writer(), msg)
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load not supported: %s", module)
		},
	}
	thread.SetLocal(contextKey, ctx)

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	env := s.env()
	err = starlark.ExecREPLChunk(f, thread, env)
	s.keep(env)
	if err != nil {
		return session.None, translate(ctx, err)
	}
	if last == nil {
		return session.None, nil
	}

	v, err := starlark.EvalExprOptions(fileOptions, thread, last, env)
	if err != nil {
		return session.None, translate(ctx, err)
	}
	return toValue(v), nil
}

// env merges predeclared names under the current globals for one chunk.
func (s *Starlark) env() starlark.StringDict {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := make(starlark.StringDict, len(s.predecl)+len(s.globals))
	for k, v := range s.predecl {
		env[k] = v
	}
	for k, v := range s.globals {
		env[k] = v
	}
	return env
}

// keep records the chunk's globals, dropping predeclared names that lesson
// code did not rebind.
func (s *Starlark) keep(env starlark.StringDict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.globals == nil {
		return
	}
	for k, v := range env {
		if p, ok := s.predecl[k]; ok && p == v {
			continue
		}
		s.globals[k] = v
	}
}

func (s *Starlark) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.globals = nil
	return nil
}

func toValue(v starlark.Value) session.Value {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return session.None
	case starlark.String:
		return session.Text(string(v))
	default:
		return session.Text(v.String())
	}
}

// translate strips the call stack from evaluation errors and the prefix
// fail() adds, leaving the message lesson authors wrote.
func translate(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("execution interrupted: %w", context.Cause(ctx))
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return errors.New(strings.TrimPrefix(evalErr.Msg, "fail: "))
	}
	return err
}
