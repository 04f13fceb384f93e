package javascript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/session"
)

func newSession(t *testing.T, opts ...Option) *session.Session {
	t.Helper()
	js, err := New(opts...)
	require.NoError(t, err)
	s := session.New(js)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJavaScriptBasicExecution(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), `console.log("hello")`)
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "hello\n", res.Output)
}

func TestJavaScriptLogThenValue(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), `console.log('x'); 1+1`)
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "x\n2", res.Output)
}

func TestJavaScriptComputation(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), `
const sum = [1,2,3,4,5].reduce((a,b) => a + b, 0);
console.log(sum);
`)
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "15\n", res.Output)
}

func TestJavaScriptValues(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"undefined", "let a = 1", session.NoOutput},
		{"null", "null", session.NoOutput},
		{"string", "'hi'", "hi"},
		{"array", "[1, 2]", "[1,2]"},
		{"object", "({a: 1})", `{"a":1}`},
		{"bool", "1 < 2", "true"},
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

func TestJavaScriptValuesSurviveRebindingJSON(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"null", "JSON = null; ({a: 1})"},
		{"deleted", "delete globalThis.JSON; ({a: 1})"},
		{"replaced", "JSON = {stringify: () => 'spoofed'}; ({a: 1})"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t)
			res := s.Execute(context.Background(), tt.code)
			require.True(t, res.Succeeded, res.Output)
			assert.Equal(t, `{"a":1}`, res.Output)
		})
	}
}

func TestJavaScriptThrow(t *testing.T) {
	s := newSession(t)

	res := s.Execute(context.Background(), `throw new Error("boom")`)
	assert.False(t, res.Succeeded)
	assert.Equal(t, "Error: boom", res.Output)

	res = s.Execute(context.Background(), `throw "plain"`)
	assert.Equal(t, "Error: plain", res.Output)
}

func TestJavaScriptNamespacePersists(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	res := s.Execute(ctx, `function square(n) { return n * n }; var count = 2;`)
	require.True(t, res.Succeeded, res.Output)

	res = s.Execute(ctx, `count += 1; square(count)`)
	assert.Equal(t, "9", res.Output)
}

func TestJavaScriptTimeout(t *testing.T) {
	js, err := New()
	require.NoError(t, err)
	s := session.New(js, session.WithTimeout(50*time.Millisecond))
	defer s.Close()

	res := s.Execute(context.Background(), `while(true){}`)
	assert.False(t, res.Succeeded)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	res = s.Execute(context.Background(), `"after"`)
	assert.Equal(t, "after", res.Output)
}

func TestJavaScriptCustomHostFunction(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
		return "Hello, " + args["name"].(string) + "!", nil
	})

	s := newSession(t, WithRegistry(registry))

	res := s.Execute(context.Background(), `call("greet", {name: "World"})`)
	require.True(t, res.Succeeded, res.Output)
	assert.Equal(t, "Hello, World!", res.Output)

	res = s.Execute(context.Background(), `call("missing")`)
	assert.Equal(t, "Error: unknown function: missing", res.Output)
}

func TestJavaScriptFileBuiltins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.txt"), []byte("abc"), 0o644))

	registry := hostfunc.NewRegistry()
	hostfunc.NewFS([]hostfunc.Mount{{VirtualPath: "/data", HostPath: dir, Mode: hostfunc.MountReadWriteCreate}}).Register(registry)
	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)

	s := newSession(t, WithRegistry(registry))
	ctx := context.Background()

	res := s.Execute(ctx, `read_file("data/in.txt").length`)
	assert.Equal(t, "3", res.Output)

	res = s.Execute(ctx, `write_file("/data/out.txt", "z"); file_exists("/data/out.txt")`)
	assert.Equal(t, "true", res.Output)

	res = s.Execute(ctx, `list_dir("/data").map(e => e.name).sort().join(",")`)
	assert.Equal(t, "in.txt,out.txt", res.Output)

	res = s.Execute(ctx, `kv_set("n", 5); kv_get("n") + 1`)
	assert.Equal(t, "6", res.Output)

	res = s.Execute(ctx, `read_file("/etc/passwd")`)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Output, "permission denied")
}

func TestJavaScriptClosed(t *testing.T) {
	js, err := New()
	require.NoError(t, err)
	require.NoError(t, js.Close())

	_, err = js.Eval(context.Background(), "1")
	assert.Error(t, err)
}
