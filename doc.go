// Package lessonbox runs the code blocks of interactive coding lessons
// against one persistent interpreter session.
//
// # Overview
//
// A lesson is an ordered list of code blocks. Hidden blocks prepare state,
// fixed blocks run in order with their output shown, and editable blocks run
// on demand with whatever text the learner has typed. All blocks share one
// global namespace, so a variable defined in one block is visible to the
// next. Lesson code gets no filesystem or network access beyond the
// lesson's data directory unless it is enabled explicitly.
//
// # Basic Usage
//
//	l, _ := lesson.Load("intro.yaml")
//	o, _ := orchestrator.New(orchestrator.Config{
//	    Lesson:  l,
//	    Display: orchestrator.NewWriterDisplay(os.Stdout),
//	})
//	defer o.Close()
//
//	err := o.Boot(ctx, func(ctx context.Context) (*session.Session, error) {
//	    return session.New(starlark.New()), nil
//	})
//
//	o.SetSource("try-it", "print(x * 2)")
//	res, _ := o.Trigger(ctx, "try-it")
//	fmt.Println(res.Output)
//
// # Enabling Capabilities
//
//	registry := hostfunc.NewRegistry()
//
//	// Filesystem access
//	hostfunc.NewFS([]hostfunc.Mount{{
//	    VirtualPath: "/data", HostPath: "./data", Mode: hostfunc.MountReadOnly,
//	}}).Register(registry)
//
//	// HTTP access
//	registry.Register("http_get", hostfunc.NewHTTPGet(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	}))
//
//	interp := starlark.New(starlark.WithRegistry(registry))
//
// See the [orchestrator], [session], [lesson], [assets], [quiz], [hostfunc]
// and [executor] packages for detailed API documentation.
package lessonbox
