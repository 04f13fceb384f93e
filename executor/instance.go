package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/session"
)

var (
	ErrInstanceClosed = errors.New("instance closed")
	ErrGuestExited    = errors.New("guest exited")
)

// Instance is one running guest interpreter. It implements
// session.Interpreter; its globals persist until Close.
type Instance struct {
	exec     *Executor
	lang     Language
	cfg      instanceConfig
	registry *hostfunc.Registry

	ctx    context.Context
	cancel context.CancelFunc

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	stdout      *guestOutput
	protocol    *guestProtocol
	module      api.Module
	exited      chan struct{}
	exitErr     error

	mu     sync.Mutex
	execMu sync.Mutex
	closed bool
}

var _ session.Interpreter = (*Instance)(nil)

// NewInstance starts lang and waits until it signals readiness.
func (e *Executor) NewInstance(lang Language, opts ...InstanceOption) (*Instance, error) {
	cfg := defaultInstanceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.env["GORU_SESSION"] = "1"

	in := &Instance{
		exec:     e,
		lang:     lang,
		cfg:      cfg,
		registry: e.registry.Clone(),
		exited:   make(chan struct{}),
	}
	in.registerHostFunctions()

	if err := in.start(); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (in *Instance) start() error {
	in.ctx, in.cancel = context.WithCancel(context.Background())

	compiled, err := in.exec.compile(in.ctx, in.lang)
	if err != nil {
		return err
	}

	in.stdinReader, in.stdin = io.Pipe()
	in.stdout = &guestOutput{w: io.Discard}
	in.protocol = newGuestProtocol(in.ctx, in.registry, in.stdin, in.stdout)

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(in.stdout).
		WithStderr(in.protocol).
		WithStdin(in.stdinReader).
		WithArgs(in.lang.Args()...).
		WithName("")

	for k, v := range in.cfg.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	go func() {
		mod, err := in.exec.runtime.InstantiateModule(in.ctx, compiled, moduleConfig)
		in.mu.Lock()
		in.module = mod
		if err != nil {
			in.exitErr = err
		}
		in.mu.Unlock()
		// The guest's main has returned once InstantiateModule does.
		close(in.exited)
	}()

	timer := time.NewTimer(in.cfg.startTimeout)
	defer timer.Stop()

	select {
	case <-in.protocol.Ready():
		in.exec.log.Debug().Str("language", in.lang.Name()).Msg("wasm guest ready")
		return nil
	case <-in.exited:
		return fmt.Errorf("start %s: %w", in.lang.Name(), in.exitError())
	case <-timer.C:
		return fmt.Errorf("start %s: timeout after %v", in.lang.Name(), in.cfg.startTimeout)
	}
}

func (in *Instance) exitError() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.exitErr != nil {
		return fmt.Errorf("%w: %v", ErrGuestExited, in.exitErr)
	}
	return ErrGuestExited
}

func (in *Instance) registerHostFunctions() {
	in.registry.Register("time_now", func(ctx context.Context, args map[string]any) (any, error) {
		return float64(time.Now().UnixNano()) / 1e9, nil
	})

	if len(in.cfg.allowedHosts) > 0 {
		httpCfg := in.cfg.httpConfig
		httpCfg.AllowedHosts = in.cfg.allowedHosts
		httpHandler := hostfunc.NewHTTP(httpCfg)
		in.registry.Register("http_request", httpHandler.Request)
		in.registry.Register("http_get", hostfunc.NewHTTPGet(httpCfg))
	}

	if len(in.cfg.mounts) > 0 {
		hostfunc.NewFS(in.cfg.mounts, in.cfg.fsOptions...).Register(in.registry)
	}

	if in.cfg.kv != nil {
		in.cfg.kv.Register(in.registry)
	}
}

// Name returns the guest language name.
func (in *Instance) Name() string {
	return in.lang.Name()
}

// SetStdout redirects the guest's stdout and non-protocol stderr.
func (in *Instance) SetStdout(w io.Writer) io.Writer {
	return in.stdout.swap(w)
}

type execCommand struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
}

// Eval sends code to the guest and waits for it to finish. Cancelling ctx
// kills the guest; the instance is unusable afterwards.
func (in *Instance) Eval(ctx context.Context, code string) (session.Value, error) {
	in.execMu.Lock()
	defer in.execMu.Unlock()

	in.mu.Lock()
	closed := in.closed
	in.mu.Unlock()
	if closed {
		return session.None, ErrInstanceClosed
	}

	in.protocol.resetExec()

	cmdBytes, err := json.Marshal(execCommand{Type: "exec", Code: code})
	if err != nil {
		return session.None, fmt.Errorf("encode command: %w", err)
	}
	cmdBytes = append(cmdBytes, '\n')

	written := make(chan error, 1)
	go func() {
		_, err := in.stdin.Write(cmdBytes)
		written <- err
	}()

	done := in.protocol.Done()
	for {
		select {
		case err := <-written:
			if err != nil {
				return session.None, fmt.Errorf("write command: %w", err)
			}
			written = nil
		case <-ctx.Done():
			in.Close()
			return session.None, fmt.Errorf("execution interrupted: %w", context.Cause(ctx))
		case r := <-done:
			return r.value, r.err
		case <-in.exited:
			return session.None, in.exitError()
		}
	}
}

// Close stops the guest. It is safe to call more than once.
func (in *Instance) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true

	// Closing stdin gives the guest EOF; cancelling the context closes the
	// module even when it is blocked elsewhere.
	if in.stdinReader != nil {
		in.stdinReader.Close()
	}
	if in.stdin != nil {
		in.stdin.Close()
	}
	if in.cancel != nil {
		in.cancel()
	}
	if in.module != nil {
		in.module.Close(context.Background())
	}
	return nil
}

// guestOutput forwards to a swappable writer.
type guestOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *guestOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(data)
}

func (o *guestOutput) swap(w io.Writer) io.Writer {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev := o.w
	o.w = w
	return prev
}
