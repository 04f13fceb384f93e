package starlark

import (
	"context"
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/caffeineduck/lessonbox/hostfunc"
)

const contextKey = "lessonbox.context"

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// binding maps a lesson-code builtin onto a registered host function.
type binding struct {
	name   string
	target string
	params []string
}

var bindings = []binding{
	{"read_file", "fs_read", []string{"path"}},
	{"write_file", "fs_write", []string{"path", "content"}},
	{"list_dir", "fs_list", []string{"path"}},
	{"file_exists", "fs_exists", []string{"path"}},
	{"http_get", "http_get", []string{"url"}},
	{"kv_get", "kv_get", []string{"key", "default?"}},
	{"kv_set", "kv_set", []string{"key", "value"}},
}

// hostBuiltins returns the builtins backed by r. Named builtins appear only
// when their host function is registered; call is always present.
func hostBuiltins(r *hostfunc.Registry) starlark.StringDict {
	if r == nil {
		r = hostfunc.NewRegistry()
	}
	out := starlark.StringDict{"call": starlark.NewBuiltin("call", callBuiltin(r))}
	for _, b := range bindings {
		if _, ok := r.Get(b.target); !ok {
			continue
		}
		out[b.name] = starlark.NewBuiltin(b.name, boundBuiltin(r, b))
	}
	return out
}

func boundBuiltin(r *hostfunc.Registry, b binding) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		vals := make([]starlark.Value, len(b.params))
		pairs := make([]any, 0, 2*len(b.params))
		for i, p := range b.params {
			pairs = append(pairs, p, &vals[i])
		}
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, pairs...); err != nil {
			return nil, err
		}

		goArgs := make(map[string]any, len(b.params))
		for i, p := range b.params {
			if vals[i] == nil {
				continue
			}
			v, err := fromStarlark(vals[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fn.Name(), err)
			}
			goArgs[trimOptional(p)] = v
		}
		return invoke(thread, r, b.target, goArgs)
	}
}

func callBuiltin(r *hostfunc.Registry) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, nil, 1, &name); err != nil {
			return nil, err
		}
		goArgs := make(map[string]any, len(kwargs))
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			v, err := fromStarlark(kv[1])
			if err != nil {
				return nil, fmt.Errorf("call: %s: %w", key, err)
			}
			goArgs[key] = v
		}
		return invoke(thread, r, name, goArgs)
	}
}

func invoke(thread *starlark.Thread, r *hostfunc.Registry, name string, args map[string]any) (starlark.Value, error) {
	result, err := r.Call(threadContext(thread), name, args)
	if err != nil {
		return nil, err
	}
	return toStarlark(result), nil
}

func trimOptional(p string) string {
	if n := len(p); n > 0 && p[n-1] == '?' {
		return p[:n-1]
	}
	return p
}

func toStarlark(v any) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case bool:
		return starlark.Bool(v)
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case float64:
		return starlark.Float(v)
	case string:
		return starlark.String(v)
	case []string:
		elems := make([]starlark.Value, len(v))
		for i, s := range v {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems)
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			elems[i] = toStarlark(e)
		}
		return starlark.NewList(elems)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return toStarlark(m)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(v))
		for _, k := range keys {
			d.SetKey(starlark.String(k), toStarlark(v[k]))
		}
		return d
	default:
		return starlark.String(fmt.Sprint(v))
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.String(), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Indexable:
		out := make([]any, v.Len())
		for i := range out {
			e, err := fromStarlark(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			e, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type())
	}
}
