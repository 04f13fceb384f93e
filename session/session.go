package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for execution diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithTimeout bounds every Execute call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// Session owns one interpreter and serialises executions against it.
type Session struct {
	interp  Interpreter
	log     zerolog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// New wraps an already started interpreter.
func New(interp Interpreter, opts ...Option) *Session {
	s := &Session{interp: interp, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interpreter returns the wrapped interpreter.
func (s *Session) Interpreter() Interpreter {
	return s.interp
}

// Execute runs code against the shared namespace, capturing printed text
// and the value of a trailing expression. It never retries.
func (s *Session) Execute(ctx context.Context, code string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failure(ErrClosed, 0)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	captured, v, err := Capture(s.interp, func() (v Value, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("interpreter panic: %v", r)
			}
		}()
		return s.interp.Eval(ctx, code)
	})
	elapsed := time.Since(start)

	if err != nil {
		s.log.Debug().Err(err).Str("interpreter", s.interp.Name()).Dur("duration", elapsed).Msg("execution failed")
		return failure(err, elapsed)
	}

	s.log.Debug().Str("interpreter", s.interp.Name()).Dur("duration", elapsed).Msg("execution succeeded")
	return Result{
		Succeeded: true,
		Output:    ComposeOutput(captured, v),
		Duration:  elapsed,
	}
}

// Close releases the interpreter. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.interp.Close()
}
