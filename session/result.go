package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NoOutput is shown when an execution printed nothing and had no value.
const NoOutput = "Code executed successfully (no output)"

var (
	ErrExecution = errors.New("execution failed")
	ErrClosed    = errors.New("session closed")
)

// Result is the outcome of one Execute call.
type Result struct {
	Succeeded bool
	Output    string
	Duration  time.Duration
	// Err wraps ErrExecution and the interpreter's error when Succeeded is
	// false.
	Err error
}

// ComposeOutput joins captured text and the final value. A single trailing
// newline of captured is dropped before the value is appended so the two
// are separated by exactly one newline. Blank values are ignored.
func ComposeOutput(captured string, v Value) string {
	out := captured
	if v.Present && strings.TrimSpace(v.Text) != "" {
		if out == "" {
			out = v.Text
		} else {
			out = strings.TrimSuffix(out, "\n") + "\n" + v.Text
		}
	}
	if out == "" {
		return NoOutput
	}
	return out
}

func failure(err error, d time.Duration) Result {
	return Result{
		Succeeded: false,
		Output:    "Error: " + err.Error(),
		Duration:  d,
		Err:       fmt.Errorf("%w: %w", ErrExecution, err),
	}
}
