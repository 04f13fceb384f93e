package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/lessonbox/lesson"
)

// State is the visual state of an output region. A region holds exactly
// one at a time.
type State string

const (
	StateNone    State = ""
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Messages shown in output regions.
const (
	MsgLoading     = "Loading interpreter..."
	MsgRunningCode = "Running code..."
	MsgReady       = "Ready to run code!"
	MsgRunning     = "Running..."
	MsgNoCode      = "Error: no code to run"
	msgInitFailed  = "Error: initialize interpreter: "
)

// Display is where blocks and their output regions are shown.
type Display interface {
	// RenderCode shows a block's source, read-only unless editable.
	RenderCode(b lesson.Block, editable bool)
	// SetOutput replaces the text and state of an output region.
	SetOutput(region, text string, state State)
}

// Region is the content of one output region.
type Region struct {
	Text  string `json:"text"`
	State State  `json:"state"`
}

// MemoryDisplay records what would be shown. It is safe for concurrent use.
type MemoryDisplay struct {
	mu       sync.Mutex
	regions  map[string]Region
	rendered map[string]bool
	history  map[string][]Region
}

func NewMemoryDisplay() *MemoryDisplay {
	return &MemoryDisplay{
		regions:  make(map[string]Region),
		rendered: make(map[string]bool),
		history:  make(map[string][]Region),
	}
}

func (d *MemoryDisplay) RenderCode(b lesson.Block, editable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rendered[b.ID] = editable
}

func (d *MemoryDisplay) SetOutput(region, text string, state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := Region{Text: text, State: state}
	d.regions[region] = r
	d.history[region] = append(d.history[region], r)
}

// Region returns the current content of a region.
func (d *MemoryDisplay) Region(id string) (Region, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.regions[id]
	return r, ok
}

// History returns every update a region received, oldest first.
func (d *MemoryDisplay) History(id string) []Region {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Region(nil), d.history[id]...)
}

// Rendered reports whether a block was rendered and if it was editable.
func (d *MemoryDisplay) Rendered(id string) (editable, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	editable, ok = d.rendered[id]
	return editable, ok
}

// WriterDisplay prints blocks and final region contents to a terminal.
// Loading states are not printed.
type WriterDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterDisplay(w io.Writer) *WriterDisplay {
	return &WriterDisplay{w: w}
}

func (d *WriterDisplay) RenderCode(b lesson.Block, editable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode := "read-only"
	if editable {
		mode = "editable"
	}
	fmt.Fprintf(d.w, "── %s (%s) ──\n", b.ID, mode)
	for _, line := range strings.Split(strings.TrimRight(b.Source, "\n"), "\n") {
		fmt.Fprintf(d.w, "  │ %s\n", line)
	}
}

func (d *WriterDisplay) SetOutput(region, text string, state State) {
	if state == StateLoading {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if text == "" {
		return
	}
	marker := "›"
	switch state {
	case StateSuccess:
		marker = "✓"
	case StateError:
		marker = "✗"
	}
	fmt.Fprintf(d.w, "%s %s\n%s\n\n", marker, region, text)
}
