package session

import (
	"context"
	"io"
)

// Value is the value of the final expression of an evaluation. Present is
// false when the code ended in a statement, or its value was the
// interpreter's null (None, null, undefined).
type Value struct {
	Text    string
	Present bool
}

// Text returns a present value with the given display text.
func Text(s string) Value {
	return Value{Text: s, Present: true}
}

// None is the absent value.
var None = Value{}

// Stdout is anything whose print sink can be swapped.
type Stdout interface {
	// SetStdout installs w as the destination of printed text and returns
	// the writer it replaces.
	SetStdout(w io.Writer) io.Writer
}

// Interpreter is one embedded interpreter with a persistent global
// namespace. Successive Eval calls see the definitions of earlier ones.
type Interpreter interface {
	Stdout
	Name() string
	Eval(ctx context.Context, code string) (Value, error)
	Close() error
}
