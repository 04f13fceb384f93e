// Package hostfunc provides the Go functions that lesson code may call.
//
// Lesson code starts with no access to the host. A capability exists only
// once it is put in a [Registry], which interpreters expose to lesson code
// through builtins such as read_file and call. Host-side components use the
// typed methods directly: the asset loader writes fetched data files with
// [FS.WriteFile] and the quiz reporter posts through [HTTP.Do].
//
// # Registry
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "hello " + args["name"].(string), nil
//	})
//
// # Capabilities
//
// A lesson's data directory is a read-write-create [Mount]; extra mounts
// may be read-only:
//
//	fs := hostfunc.NewFS([]hostfunc.Mount{
//	    {VirtualPath: "/data", HostPath: "./data", Mode: hostfunc.MountReadWriteCreate},
//	}, hostfunc.WithMaxFileSize(1<<20))
//	fs.Register(registry)
//
// Network access is limited to the hosts in [HTTPConfig.AllowedHosts]:
//
//	registry.Register("http_get", hostfunc.NewHTTPGet(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"raw.githubusercontent.com"},
//	}))
//
// [KV] is an in-memory store shared by lesson code and the quiz's
// completion records:
//
//	kv := hostfunc.NewKV(hostfunc.DefaultKVConfig())
//	kv.Register(registry)
//
// Paths are resolved inside their mount and cannot escape it. Reads, writes,
// URLs and response bodies are size-capped.
package hostfunc
