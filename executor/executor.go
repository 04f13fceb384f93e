package executor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/caffeineduck/lessonbox/hostfunc"
)

var ErrExecutorClosed = errors.New("executor closed")

// Executor owns the wazero runtime that guest interpreters are instantiated
// in, and the modules compiled for them.
type Executor struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[moduleKey]wazero.CompiledModule
	registry *hostfunc.Registry
	log      zerolog.Logger
	mu       sync.RWMutex
	closed   bool
}

// moduleKey identifies a compiled guest by name and content, so a .wasm file
// rebuilt under the same name is compiled again.
type moduleKey struct {
	name string
	sum  [sha256.Size]byte
}

func keyOf(lang Language) moduleKey {
	return moduleKey{name: lang.Name(), sum: sha256.Sum256(lang.Module())}
}

// New creates an Executor. Each instance gets its own clone of registry, so
// per-instance capabilities never leak between lessons.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	if cfg.diskCache {
		dir := cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		var err error
		if cache, err = wazero.NewCompilationCacheWithDir(dir); err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
		cfg.log.Debug().Str("dir", dir).Msg("wasm compilation cache enabled")
	}

	// Guests are killed when their instance context ends.
	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	e := &Executor{
		runtime:  rt,
		cache:    cache,
		compiled: make(map[moduleKey]wazero.CompiledModule),
		registry: registry,
		log:      cfg.log,
	}

	for _, lang := range cfg.precompile {
		if _, err := e.compile(ctx, lang); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", lang.Name(), err)
		}
	}
	return e, nil
}

// compile returns the compiled module for lang, compiling it on first use.
func (e *Executor) compile(ctx context.Context, lang Language) (wazero.CompiledModule, error) {
	key := keyOf(lang)

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrExecutorClosed
	}
	cm, ok := e.compiled[key]
	e.mu.RUnlock()
	if ok {
		return cm, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}
	if cm, ok := e.compiled[key]; ok {
		return cm, nil
	}

	start := time.Now()
	cm, err := e.runtime.CompileModule(ctx, lang.Module())
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", key.name, err)
	}
	e.log.Debug().Str("language", key.name).Dur("duration", time.Since(start)).Msg("compiled wasm guest")

	e.compiled[key] = cm
	return cm, nil
}

// Compiled reports how many distinct guest modules have been compiled.
func (e *Executor) Compiled() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Close releases the runtime, which also closes every instance created from
// it.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()
	errs := []error{e.runtime.Close(ctx)}
	if e.cache != nil {
		errs = append(errs, e.cache.Close(ctx))
	}
	return errors.Join(errs...)
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "lessonbox")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "lessonbox")
	}
	return filepath.Join(os.TempDir(), "lessonbox-cache")
}
