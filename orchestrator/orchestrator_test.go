package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/lessonbox/assets"
	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/language/starlark"
	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/orchestrator"
	"github.com/caffeineduck/lessonbox/session"
)

func starlarkStart(opts ...starlark.Option) orchestrator.StartFunc {
	return func(ctx context.Context) (*session.Session, error) {
		return session.New(starlark.New(opts...)), nil
	}
}

func newOrchestrator(t *testing.T, l *lesson.Lesson) (*orchestrator.Orchestrator, *orchestrator.MemoryDisplay) {
	t.Helper()
	display := orchestrator.NewMemoryDisplay()
	o, err := orchestrator.New(orchestrator.Config{Lesson: l, Display: display, Pace: orchestrator.NoPause})
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o, display
}

func sampleLesson() *lesson.Lesson {
	return &lesson.Lesson{
		Title: "Basics",
		Blocks: []lesson.Block{
			{ID: "setup", Category: lesson.Hidden, Source: "base = 10"},
			{ID: "broken", Category: lesson.Hidden, Source: "fail('setup broke')"},
			{ID: "first", Category: lesson.Fixed, Source: "x = base + 1\nprint('x is', x)"},
			{ID: "empty", Category: lesson.Fixed, Source: "   \n"},
			{ID: "second", Category: lesson.Fixed, Source: "x * 2"},
			{ID: "quiet", Category: lesson.Fixed, Source: "y = 1"},
			{ID: "oops", Category: lesson.Fixed, Source: "undefined_name"},
			{ID: "try", Category: lesson.Editable, Source: "x + y"},
		},
	}
}

func TestBootRunsBlocksInOrder(t *testing.T) {
	o, display := newOrchestrator(t, sampleLesson())

	require.NoError(t, o.Boot(context.Background(), starlarkStart()))

	region := func(id string) orchestrator.Region {
		r, ok := display.Region(id + "-output")
		require.True(t, ok, id)
		return r
	}

	assert.Equal(t, orchestrator.Region{Text: "x is 11\n", State: orchestrator.StateSuccess}, region("first"))
	assert.Equal(t, orchestrator.Region{Text: "", State: orchestrator.StateNone}, region("empty"))
	assert.Equal(t, orchestrator.Region{Text: "22", State: orchestrator.StateSuccess}, region("second"))
	assert.Equal(t, orchestrator.Region{Text: session.NoOutput, State: orchestrator.StateSuccess}, region("quiet"))
	assert.Equal(t, orchestrator.StateError, region("oops").State)
	assert.True(t, strings.HasPrefix(region("oops").Text, "Error: "), region("oops").Text)
	assert.Equal(t, orchestrator.Region{Text: orchestrator.MsgReady, State: orchestrator.StateNone}, region("try"))

	_, ok := display.Region("setup-output")
	assert.False(t, ok, "hidden blocks have no region")

	want := []orchestrator.Region{
		{Text: orchestrator.MsgLoading, State: orchestrator.StateLoading},
		{Text: orchestrator.MsgRunningCode, State: orchestrator.StateLoading},
		{Text: "x is 11\n", State: orchestrator.StateSuccess},
	}
	if diff := cmp.Diff(want, display.History("first-output")); diff != "" {
		t.Errorf("first-output history (-want +got):\n%s", diff)
	}

	editable, ok := display.Rendered("try")
	require.True(t, ok)
	assert.True(t, editable)
	editable, ok = display.Rendered("first")
	require.True(t, ok)
	assert.False(t, editable)
}

func TestSnapshot(t *testing.T) {
	o, _ := newOrchestrator(t, sampleLesson())

	snap := o.Snapshot()
	assert.False(t, snap.Ready)
	for _, b := range snap.Blocks {
		assert.Equal(t, orchestrator.StatusPending, b.Status, b.ID)
	}

	require.NoError(t, o.Boot(context.Background(), starlarkStart()))

	statuses := map[string]orchestrator.Status{}
	for _, b := range o.Snapshot().Blocks {
		statuses[b.ID] = b.Status
	}
	want := map[string]orchestrator.Status{
		"setup":  orchestrator.StatusSucceeded,
		"broken": orchestrator.StatusFailed,
		"first":  orchestrator.StatusSucceeded,
		"empty":  orchestrator.StatusSucceeded,
		"second": orchestrator.StatusSucceeded,
		"quiet":  orchestrator.StatusSucceeded,
		"oops":   orchestrator.StatusFailed,
		"try":    orchestrator.StatusReady,
	}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}
	assert.True(t, o.Snapshot().Ready)
}

func TestTriggerSeesCumulativeNamespace(t *testing.T) {
	o, display := newOrchestrator(t, sampleLesson())
	ctx := context.Background()

	_, err := o.Trigger(ctx, "try")
	assert.ErrorIs(t, err, orchestrator.ErrNotReady)

	require.NoError(t, o.Boot(ctx, starlarkStart()))

	res, err := o.Trigger(ctx, "try")
	require.NoError(t, err)
	assert.Equal(t, "12", res.Output)

	require.NoError(t, o.SetSource("try", "z = x * 3\nz"))
	res, err = o.Trigger(ctx, "try")
	require.NoError(t, err)
	assert.Equal(t, "33", res.Output)

	src, err := o.Source("try")
	require.NoError(t, err)
	assert.Equal(t, "z = x * 3\nz", src)

	r, _ := display.Region("try-output")
	assert.Equal(t, orchestrator.Region{Text: "33", State: orchestrator.StateSuccess}, r)

	history := display.History("try-output")
	assert.Contains(t, history, orchestrator.Region{Text: orchestrator.MsgRunning, State: orchestrator.StateLoading})
}

func TestTriggerErrors(t *testing.T) {
	o, display := newOrchestrator(t, sampleLesson())
	ctx := context.Background()
	require.NoError(t, o.Boot(ctx, starlarkStart()))

	_, err := o.Trigger(ctx, "nope")
	assert.ErrorIs(t, err, orchestrator.ErrUnknownBlock)
	_, err = o.Trigger(ctx, "first")
	assert.ErrorIs(t, err, orchestrator.ErrNotEditable)
	assert.ErrorIs(t, o.SetSource("first", "x"), orchestrator.ErrNotEditable)
	assert.ErrorIs(t, o.SetSource("nope", "x"), orchestrator.ErrUnknownBlock)

	require.NoError(t, o.SetSource("try", "  \n\t"))
	_, err = o.Trigger(ctx, "try")
	assert.ErrorIs(t, err, orchestrator.ErrEmptyInput)
	r, _ := display.Region("try-output")
	assert.Equal(t, orchestrator.Region{Text: orchestrator.MsgNoCode, State: orchestrator.StateError}, r)

	require.NoError(t, o.SetSource("try", "fail('nope')"))
	res, err := o.Trigger(ctx, "try")
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	r, _ = display.Region("try-output")
	assert.Equal(t, orchestrator.Region{Text: "Error: nope", State: orchestrator.StateError}, r)

	assert.ErrorIs(t, o.Boot(ctx, starlarkStart()), orchestrator.ErrBooted)
}

func TestBootFailure(t *testing.T) {
	o, display := newOrchestrator(t, sampleLesson())

	err := o.Boot(context.Background(), func(ctx context.Context) (*session.Session, error) {
		return nil, errors.New("no wasm")
	})
	assert.ErrorIs(t, err, orchestrator.ErrInitialization)

	for _, id := range []string{"first", "second", "try"} {
		r, ok := display.Region(id + "-output")
		require.True(t, ok)
		assert.Equal(t, orchestrator.Region{Text: "Error: initialize interpreter: no wasm", State: orchestrator.StateError}, r, id)
	}

	_, err = o.Trigger(context.Background(), "try")
	assert.ErrorIs(t, err, orchestrator.ErrNotReady)

	snap := o.Snapshot()
	assert.False(t, snap.Ready)
	assert.Contains(t, snap.Error, "no wasm")
	for _, b := range snap.Blocks {
		assert.Equal(t, orchestrator.StatusPending, b.Status, b.ID)
	}
}

// gate blocks every Eval until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
	out     io.Writer
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{}), out: io.Discard}
}

func (g *gate) Name() string { return "gate" }
func (g *gate) SetStdout(w io.Writer) io.Writer {
	prev := g.out
	g.out = w
	return prev
}
func (g *gate) Close() error { return nil }
func (g *gate) Eval(ctx context.Context, code string) (session.Value, error) {
	g.entered <- struct{}{}
	<-g.release
	return session.Text(code), nil
}

func TestDoubleTriggerIsBusy(t *testing.T) {
	l := &lesson.Lesson{Blocks: []lesson.Block{{ID: "e", Category: lesson.Editable, Source: "first"}}}
	o, display := newOrchestrator(t, l)
	g := newGate()
	require.NoError(t, o.Boot(context.Background(), func(ctx context.Context) (*session.Session, error) {
		return session.New(g), nil
	}))

	done := make(chan session.Result, 1)
	go func() {
		res, err := o.Trigger(context.Background(), "e")
		assert.NoError(t, err)
		done <- res
	}()
	<-g.entered

	require.NoError(t, o.SetSource("e", "second"))
	_, err := o.Trigger(context.Background(), "e")
	assert.ErrorIs(t, err, orchestrator.ErrBusy)

	r, _ := display.Region("e-output")
	assert.Equal(t, orchestrator.Region{Text: orchestrator.MsgRunning, State: orchestrator.StateLoading}, r)

	close(g.release)
	res := <-done
	assert.Equal(t, "first", res.Output)

	r, _ = display.Region("e-output")
	assert.Equal(t, orchestrator.Region{Text: "first", State: orchestrator.StateSuccess}, r)
}

func TestRunWhileBusyKeepsSource(t *testing.T) {
	l := &lesson.Lesson{Blocks: []lesson.Block{{ID: "e", Category: lesson.Editable, Source: "first"}}}
	o, _ := newOrchestrator(t, l)
	g := newGate()
	require.NoError(t, o.Boot(context.Background(), func(ctx context.Context) (*session.Session, error) {
		return session.New(g), nil
	}))

	done := make(chan session.Result, 1)
	go func() {
		res, err := o.Run(context.Background(), "e", "second")
		assert.NoError(t, err)
		done <- res
	}()
	<-g.entered

	_, err := o.Run(context.Background(), "e", "third")
	assert.ErrorIs(t, err, orchestrator.ErrBusy)
	src, err := o.Source("e")
	require.NoError(t, err)
	assert.Equal(t, "second", src)

	close(g.release)
	res := <-done
	assert.Equal(t, "second", res.Output)

	_, err = o.Run(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, orchestrator.ErrUnknownBlock)
}

func TestBootLoadsAssetsBeforeBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/numbers.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("1 2 3"))
	}))
	defer srv.Close()

	dataDir := filepath.Join(t.TempDir(), "data")
	fs := hostfunc.NewFS([]hostfunc.Mount{{VirtualPath: "/data", HostPath: dataDir, Mode: hostfunc.MountReadWriteCreate}})
	registry := hostfunc.NewRegistry()
	fs.Register(registry)

	l := &lesson.Lesson{
		Files: []lesson.RemoteFile{
			{Filename: "numbers.txt", URL: srv.URL + "/numbers.txt"},
			{Filename: "gone.txt", URL: srv.URL + "/gone.txt"},
		},
		Blocks: []lesson.Block{
			{ID: "read", Category: lesson.Fixed, Source: "read_file('data/numbers.txt')"},
			{ID: "check", Category: lesson.Fixed, Source: "file_exists('data/gone.txt')"},
		},
	}
	display := orchestrator.NewMemoryDisplay()
	o, err := orchestrator.New(orchestrator.Config{
		Lesson:  l,
		Display: display,
		Assets:  assets.New(fs),
		Pace:    orchestrator.NoPause,
	})
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, o.Boot(context.Background(), starlarkStart(starlark.WithRegistry(registry))))

	r, _ := display.Region("read-output")
	assert.Equal(t, orchestrator.Region{Text: "1 2 3", State: orchestrator.StateSuccess}, r)
	r, _ = display.Region("check-output")
	assert.Equal(t, orchestrator.Region{Text: "False", State: orchestrator.StateSuccess}, r)

	data, err := os.ReadFile(filepath.Join(dataDir, "numbers.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1 2 3", string(data))
}

func TestBootHonoursContextBetweenFixedBlocks(t *testing.T) {
	l := &lesson.Lesson{Blocks: []lesson.Block{
		{ID: "a", Category: lesson.Fixed, Source: "1"},
		{ID: "b", Category: lesson.Fixed, Source: "2"},
	}}
	display := orchestrator.NewMemoryDisplay()
	o, err := orchestrator.New(orchestrator.Config{Lesson: l, Display: display, Pace: time.Hour})
	require.NoError(t, err)
	defer o.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = o.Boot(ctx, starlarkStart())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, orchestrator.ErrInterrupted)

	r, _ := display.Region("a-output")
	assert.Equal(t, "1", r.Text)
	r, _ = display.Region("b-output")
	assert.Equal(t, orchestrator.StateError, r.State)
	assert.Contains(t, r.Text, "boot interrupted")

	snap := o.Snapshot()
	assert.False(t, snap.Ready)
	assert.Contains(t, snap.Error, "boot interrupted")
}

func TestInterruptedBootFailsUnreachedBlocks(t *testing.T) {
	l := &lesson.Lesson{Blocks: []lesson.Block{
		{ID: "a", Category: lesson.Fixed, Source: "1"},
		{ID: "b", Category: lesson.Fixed, Source: "2"},
		{ID: "e", Category: lesson.Editable, Source: "3"},
	}}
	display := orchestrator.NewMemoryDisplay()
	o, err := orchestrator.New(orchestrator.Config{Lesson: l, Display: display, Pace: time.Hour})
	require.NoError(t, err)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = o.Boot(ctx, starlarkStart())
	require.ErrorIs(t, err, context.Canceled)

	snap := o.Snapshot()
	assert.NotEmpty(t, snap.Error)
	for _, b := range snap.Blocks {
		require.NotNil(t, b.Output, b.ID)
		assert.NotEqual(t, orchestrator.StateLoading, b.Output.State, b.ID)
	}
	assert.Equal(t, orchestrator.StatusFailed, snap.Blocks[1].Status)
	assert.Equal(t, orchestrator.StatusFailed, snap.Blocks[2].Status)

	_, err = o.Trigger(context.Background(), "e")
	assert.ErrorIs(t, err, orchestrator.ErrNotReady)
}

func TestWriterDisplay(t *testing.T) {
	var sb strings.Builder
	d := orchestrator.NewWriterDisplay(&sb)

	d.RenderCode(lesson.Block{ID: "intro", Source: "print(1)\n"}, false)
	d.SetOutput("intro-output", orchestrator.MsgRunningCode, orchestrator.StateLoading)
	d.SetOutput("intro-output", "1", orchestrator.StateSuccess)
	d.SetOutput("x-output", "Error: boom", orchestrator.StateError)

	assert.Equal(t, "── intro (read-only) ──\n  │ print(1)\n✓ intro-output\n1\n\n✗ x-output\nError: boom\n\n", sb.String())
}
