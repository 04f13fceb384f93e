package starlark

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/session"
)

func newSession(t *testing.T, opts ...Option) *session.Session {
	t.Helper()
	s := session.New(New(opts...))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPrintThenExpression(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), "print('x'); 1+1")
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "x\n2", res.Output)
}

func TestFailMessage(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), "fail('boom')")
	assert.False(t, res.Succeeded)
	assert.Equal(t, "Error: boom", res.Output)
	assert.ErrorIs(t, res.Err, session.ErrExecution)
}

func TestOutputComposition(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"assignment only", "x = 1", session.NoOutput},
		{"none value", "None", session.NoOutput},
		{"print returns none", "print('hi')", "hi\n"},
		{"string unquoted", "'hello'", "hello"},
		{"list", "[1, 2]", "[1, 2]"},
		{"multi line", "for i in range(3):\n    print(i)\n'done'", "0\n1\n2\ndone"},
		{"blank string", "'   '", session.NoOutput},
		{"json module", "json.encode({'a': 1})", `{"a":1}`},
		{"math module", "math.pi > 3", "True"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t)
			res := s.Execute(context.Background(), tt.code)
			require.True(t, res.Succeeded, res.Output)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestNamespacePersists(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	res := s.Execute(ctx, "def square(n):\n    return n * n\ncount = 2")
	require.True(t, res.Succeeded, res.Output)

	res = s.Execute(ctx, "count = count + 1\nsquare(count)")
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "9", res.Output)
}

func TestGlobalsSurviveFailure(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	res := s.Execute(ctx, "a = 1\nfail('stop')\nb = 2")
	require.False(t, res.Succeeded)

	res = s.Execute(ctx, "a")
	assert.Equal(t, "1", res.Output)

	res = s.Execute(ctx, "b")
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Output, "undefined: b")
}

func TestUserNamesDoNotCollideWithCapture(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	res := s.Execute(ctx, "sys = 'mine'\nold_stdout = 1\nmystdout = [2]\nprint('still captured')")
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "still captured\n", res.Output)

	res = s.Execute(ctx, "print(sys, old_stdout, mystdout)")
	assert.Equal(t, "mine 1 [2]\n", res.Output)
}

func TestSyntaxError(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), "def (:")
	assert.False(t, res.Succeeded)
	assert.True(t, strings.HasPrefix(res.Output, "Error: lesson.star:1:"), res.Output)
}

func TestCancellation(t *testing.T) {
	s := session.New(New(), session.WithTimeout(50*time.Millisecond))
	defer s.Close()

	res := s.Execute(context.Background(), "while True:\n    pass")
	assert.False(t, res.Succeeded)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	res = s.Execute(context.Background(), "1")
	assert.Equal(t, "1", res.Output, "a fresh thread is used after cancellation")
}

func TestLoadDisabled(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), `load("x.star", "y")`)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Output, "load not supported")
}

func TestHostBuiltins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scores.csv"), []byte("a,1\nb,2\n"), 0o644))

	registry := hostfunc.NewRegistry()
	hostfunc.NewFS([]hostfunc.Mount{{VirtualPath: "/data", HostPath: dir, Mode: hostfunc.MountReadWriteCreate}}).Register(registry)
	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
		return "Hello, " + args["name"].(string) + "!", nil
	})

	s := newSession(t, WithRegistry(registry))
	ctx := context.Background()

	res := s.Execute(ctx, "len(read_file('data/scores.csv').splitlines())")
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "2", res.Output)

	res = s.Execute(ctx, "write_file('/data/out.txt', 'saved')\nfile_exists('/data/out.txt')")
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "True", res.Output)

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "saved", string(got))

	res = s.Execute(ctx, "sorted([e['name'] for e in list_dir('/data')])")
	assert.Equal(t, `["out.txt", "scores.csv"]`, res.Output)

	res = s.Execute(ctx, "kv_set('k', [1, 2])\nkv_get('k')")
	assert.Equal(t, "[1, 2]", res.Output)

	res = s.Execute(ctx, "kv_get('missing', 'fallback')")
	assert.Equal(t, "fallback", res.Output)

	res = s.Execute(ctx, "call('greet', name='Ada')")
	assert.Equal(t, "Hello, Ada!", res.Output)

	res = s.Execute(ctx, "read_file('/etc/passwd')")
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Output, "permission denied")

	res = s.Execute(ctx, "call('nope')")
	assert.Equal(t, "Error: unknown function: nope", res.Output)
}

func TestHostBuiltinsOnlyWhenRegistered(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), "read_file('x')")
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Output, "undefined: read_file")
}

func TestGlobalsAndClose(t *testing.T) {
	interp := New()
	ctx := context.Background()

	_, err := interp.Eval(ctx, "x = 1\ndef f():\n    pass")
	require.NoError(t, err)
	assert.Equal(t, []string{"f", "x"}, interp.Globals())

	require.NoError(t, interp.Close())
	_, err = interp.Eval(ctx, "1")
	assert.Error(t, err)
}
