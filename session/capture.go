package session

import (
	"bytes"
	"sync"
)

// syncBuffer guards a buffer shared with interpreter goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Capture redirects sink's printed text into a fresh buffer for the
// duration of fn and returns what was printed. The previous writer is
// restored on every exit path, panics included; a panic from fn propagates
// after restoration.
func Capture(sink Stdout, fn func() (Value, error)) (string, Value, error) {
	buf := &syncBuffer{}
	prev := sink.SetStdout(buf)
	defer sink.SetStdout(prev)

	v, err := fn()
	return buf.String(), v, err
}
