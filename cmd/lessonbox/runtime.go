package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/caffeineduck/lessonbox/assets"
	"github.com/caffeineduck/lessonbox/executor"
	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/language/javascript"
	"github.com/caffeineduck/lessonbox/language/starlark"
	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/orchestrator"
	"github.com/caffeineduck/lessonbox/quiz"
	"github.com/caffeineduck/lessonbox/session"
)

// runtime is the host environment one lesson runs in: its host functions,
// data directory and interpreter factory.
type runtime struct {
	s        settings
	lang     string
	dataDir  string
	mounts   []hostfunc.Mount
	fs       *hostfunc.FS
	kv       *hostfunc.KV
	registry *hostfunc.Registry
	exec     *executor.Executor
	store    *quiz.BoltStore
}

func resolveLanguage(flag, lessonLang string) (string, error) {
	lang := flag
	if lang == "" {
		lang = lessonLang
	}
	switch lang {
	case "", "starlark", "python", "py":
		return "starlark", nil
	case "js", "javascript":
		return "javascript", nil
	case "wasm":
		return "wasm", nil
	default:
		return "", fmt.Errorf("unknown language %q: use starlark, js or wasm", lang)
	}
}

func newRuntime(s settings, l *lesson.Lesson) (*runtime, error) {
	dataDir := lesson.DefaultDataDir
	if l != nil && l.DataDir != "" {
		dataDir = l.DataDir
	}
	var lessonLang string
	if l != nil {
		lessonLang = l.Language
	}
	lang, err := resolveLanguage(s.Lang, lessonLang)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		s:        s,
		lang:     lang,
		dataDir:  "/" + filepath.ToSlash(filepath.Clean(dataDir)),
		kv:       hostfunc.NewKV(hostfunc.DefaultKVConfig()),
		registry: hostfunc.NewRegistry(),
	}

	rt.mounts = append([]hostfunc.Mount{{
		VirtualPath: rt.dataDir,
		HostPath:    filepath.Join(s.Workdir, dataDir),
		Mode:        hostfunc.MountReadWriteCreate,
	}}, s.Mounts...)
	rt.fs = hostfunc.NewFS(rt.mounts, rt.fsOptions()...)

	// The wasm guest registers these itself from instance options.
	if lang != "wasm" {
		rt.fs.Register(rt.registry)
		if len(s.AllowHosts) > 0 {
			rt.registry.Register("http_get", hostfunc.NewHTTPGet(rt.httpConfig()))
			rt.registry.Register("http_request", hostfunc.NewHTTP(rt.httpConfig()).Request)
		}
		if s.KV {
			rt.kv.Register(rt.registry)
		}
	}
	return rt, nil
}

func (rt *runtime) fsOptions() []hostfunc.FSOption {
	return []hostfunc.FSOption{
		hostfunc.WithMaxFileSize(rt.s.FSMaxFile),
		hostfunc.WithMaxWriteSize(rt.s.FSMaxWrite),
		hostfunc.WithMaxPathLength(rt.s.FSMaxPath),
	}
}

func (rt *runtime) httpConfig() hostfunc.HTTPConfig {
	return hostfunc.HTTPConfig{
		AllowedHosts: rt.s.AllowHosts,
		MaxBodySize:  rt.s.HTTPMaxBody,
		MaxURLLength: rt.s.HTTPMaxURL,
	}
}

// start creates the interpreter session for the runtime's language.
func (rt *runtime) start(ctx context.Context) (*session.Session, error) {
	var interp session.Interpreter

	switch rt.lang {
	case "starlark":
		interp = starlark.New(starlark.WithRegistry(rt.registry))
	case "javascript":
		js, err := javascript.New(javascript.WithRegistry(rt.registry))
		if err != nil {
			return nil, err
		}
		interp = js
	case "wasm":
		in, err := rt.startWasm()
		if err != nil {
			return nil, err
		}
		interp = in
	}

	return session.New(interp,
		session.WithLogger(rt.s.Log),
		session.WithTimeout(rt.s.Timeout),
	), nil
}

func (rt *runtime) startWasm() (*executor.Instance, error) {
	if rt.s.Wasm == "" {
		return nil, errors.New("--wasm is required with --lang wasm")
	}
	lang, err := executor.LoadLanguage(rt.s.Wasm, "")
	if err != nil {
		return nil, err
	}

	if rt.exec == nil {
		opts := []executor.ExecutorOption{executor.WithExecutorLogger(rt.s.Log)}
		if !rt.s.NoCache {
			opts = append(opts, executor.WithDiskCache())
		}
		if rt.s.MemoryPages > 0 {
			opts = append(opts, executor.WithMemoryLimit(rt.s.MemoryPages))
		}
		rt.exec, err = executor.New(rt.registry, opts...)
		if err != nil {
			return nil, err
		}
	}

	opts := []executor.InstanceOption{executor.WithFSOptions(rt.fsOptions()...)}
	for _, m := range rt.mounts {
		opts = append(opts, executor.WithMount(m.VirtualPath, m.HostPath, m.Mode))
	}
	if len(rt.s.AllowHosts) > 0 {
		opts = append(opts,
			executor.WithAllowedHosts(rt.s.AllowHosts),
			executor.WithHTTPMaxURLLength(rt.s.HTTPMaxURL),
			executor.WithHTTPMaxBodySize(rt.s.HTTPMaxBody),
		)
	}
	if rt.s.KV {
		opts = append(opts, executor.WithKV(rt.kv))
	}
	return rt.exec.NewInstance(lang, opts...)
}

// newOrchestrator builds the orchestrator for l on this runtime.
func (rt *runtime) newOrchestrator(l *lesson.Lesson, display orchestrator.Display) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		Lesson:  l,
		Display: display,
		Assets:  assets.New(rt.fs, assets.WithDir(rt.dataDir), assets.WithLogger(rt.s.Log)),
		Logger:  rt.s.Log,
		Pace:    rt.s.Pace,
	})
}

// newQuiz builds the lesson's quiz, or returns nil when it has none.
func (rt *runtime) newQuiz(l *lesson.Lesson) (*quiz.Quiz, error) {
	if l.Quiz == nil || len(l.Quiz.Questions) == 0 {
		return nil, nil
	}

	var reporter quiz.Reporter = quiz.LogReporter{Log: rt.s.Log}
	if rt.s.ReportURL != "" {
		reporter = quiz.NewHTTPReporter(rt.s.ReportURL, quiz.WithReporterLogger(rt.s.Log))
	}

	var store quiz.Store = quiz.NewMemoryStore(rt.kv)
	if rt.s.Store != "" && rt.store == nil {
		bs, err := quiz.OpenBoltStore(rt.s.Store)
		if err != nil {
			return nil, err
		}
		rt.store = bs
	}
	if rt.store != nil {
		store = rt.store
	}

	return quiz.New(l.Quiz, quiz.ModuleOf(l),
		quiz.WithReporter(reporter),
		quiz.WithStore(store),
		quiz.WithLogger(rt.s.Log),
	)
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.exec != nil {
		errs = append(errs, rt.exec.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}
