// Package executor runs guest interpreters compiled to WebAssembly.
//
// # Overview
//
// The executor compiles and caches guest modules and starts long-lived
// instances of them. An [Instance] implements session.Interpreter, so it
// plugs into a session like the in-process interpreters do:
//
//	exec, err := executor.New(hostfunc.NewRegistry())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	lang, err := executor.LoadLanguage("python.wasm", "python")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	in, err := exec.NewInstance(lang)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s := session.New(in)
//	defer s.Close()
//
//	s.Execute(ctx, `x = 42`)
//	res := s.Execute(ctx, `x`) // res.Output == "42"
//
// # Capabilities
//
// Guests have no filesystem, network or store access by default. Enable
// them per instance:
//
//	in, _ := exec.NewInstance(lang,
//	    executor.WithAllowedHosts([]string{"api.example.com"}),
//	    executor.WithMount("/data", "./input", executor.MountReadOnly),
//	    executor.WithKV(hostfunc.NewKV(hostfunc.DefaultKVConfig())),
//	)
//
// # Guest protocol
//
// A guest reads one JSON command per line on stdin and writes program
// output to stdout. It reports readiness, results and host calls as
// NUL-delimited frames on stderr; anything else on stderr is treated as
// program output. See testdata/mock.go for a minimal guest.
package executor
