// Package orchestrator runs a lesson's code blocks against one interpreter
// session: hidden blocks first, then fixed blocks in document order, then
// editable blocks on demand.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caffeineduck/lessonbox/assets"
	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/session"
)

var (
	ErrInitialization = errors.New("initialize interpreter")
	ErrEmptyInput     = errors.New("no code to run")
	ErrBusy           = errors.New("block is running")
	ErrNotReady       = errors.New("lesson not ready")
	ErrUnknownBlock   = errors.New("unknown block")
	ErrNotEditable    = errors.New("block is not editable")
	ErrBooted         = errors.New("already booted")
	ErrInterrupted    = errors.New("boot interrupted")
)

// DefaultPace is the pause between fixed blocks.
const DefaultPace = 100 * time.Millisecond

// NoPause disables the pause between fixed blocks.
const NoPause time.Duration = -1

// StartFunc creates the interpreter session.
type StartFunc func(ctx context.Context) (*session.Session, error)

// AssetLoader fetches remote data files. *assets.Loader satisfies it.
type AssetLoader interface {
	LoadAll(ctx context.Context, files []lesson.RemoteFile) assets.Report
}

// Config configures an Orchestrator. Lesson is required.
type Config struct {
	Lesson  *lesson.Lesson
	Display Display
	// Assets is optional. Without it remote files are skipped.
	Assets AssetLoader
	Logger zerolog.Logger
	// Pace is the pause after each fixed block. Zero means DefaultPace.
	Pace time.Duration
}

// Status is the lifecycle state of a block.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusReady     Status = "ready"
)

// Orchestrator drives one lesson through boot and on-demand runs. It is
// safe for concurrent use.
type Orchestrator struct {
	lesson  *lesson.Lesson
	display Display
	assets  AssetLoader
	log     zerolog.Logger
	pace    time.Duration

	hidden   []lesson.Block
	fixed    []lesson.Block
	editable []lesson.Block

	mu      sync.Mutex
	sess    *session.Session
	booted  bool
	ready   bool
	bootErr error
	status  map[string]Status
	sources map[string]string
	regions map[string]Region
	running map[string]bool
}

// New splits the lesson's blocks by category. Nothing runs until Boot.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Lesson == nil {
		return nil, errors.New("lesson required")
	}
	if cfg.Display == nil {
		cfg.Display = NewMemoryDisplay()
	}
	switch {
	case cfg.Pace == 0:
		cfg.Pace = DefaultPace
	case cfg.Pace < 0:
		cfg.Pace = 0
	}

	o := &Orchestrator{
		lesson:  cfg.Lesson,
		display: cfg.Display,
		assets:  cfg.Assets,
		log:     cfg.Logger,
		pace:    cfg.Pace,
		status:  make(map[string]Status),
		sources: make(map[string]string),
		regions: make(map[string]Region),
		running: make(map[string]bool),
	}

	for _, b := range cfg.Lesson.Blocks {
		o.status[b.ID] = StatusPending
		switch b.Category {
		case lesson.Hidden:
			o.hidden = append(o.hidden, b)
		case lesson.Fixed:
			o.fixed = append(o.fixed, b)
		case lesson.Editable:
			o.editable = append(o.editable, b)
			o.sources[b.ID] = b.Source
		}
	}
	return o, nil
}

// Boot starts the interpreter, loads remote files and runs hidden and fixed
// blocks. Editable blocks become triggerable once it returns nil.
func (o *Orchestrator) Boot(ctx context.Context, start StartFunc) error {
	o.mu.Lock()
	if o.booted {
		o.mu.Unlock()
		return ErrBooted
	}
	o.booted = true
	o.mu.Unlock()

	regions := o.outputRegions()
	for _, id := range regions {
		o.setOutput(id, MsgLoading, StateLoading)
	}

	o.log.Info().Str("lesson", o.lesson.Title).Msg("starting interpreter")
	sess, err := start(ctx)
	if err == nil && sess == nil {
		err = errors.New("no session")
	}
	if err != nil {
		for _, id := range regions {
			o.setOutput(id, msgInitFailed+err.Error(), StateError)
		}
		err = fmt.Errorf("%w: %w", ErrInitialization, err)
		o.log.Error().Err(err).Msg("interpreter failed to start")
		o.mu.Lock()
		o.bootErr = err
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.sess = sess
	o.mu.Unlock()
	o.log.Info().Str("interpreter", sess.Interpreter().Name()).Msg("interpreter started")

	o.loadAssets(ctx)
	o.runHidden(ctx)
	if err := o.runFixed(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrInterrupted, err)
		o.interrupt(err)
		return err
	}
	o.registerEditable()

	o.mu.Lock()
	o.ready = true
	o.mu.Unlock()
	o.log.Info().Int("editable", len(o.editable)).Msg("lesson ready")
	return nil
}

func (o *Orchestrator) outputRegions() []string {
	ids := make([]string, 0, len(o.fixed)+len(o.editable))
	for _, b := range o.lesson.Blocks {
		if b.Category != lesson.Hidden {
			ids = append(ids, b.OutputID())
		}
	}
	return ids
}

func (o *Orchestrator) loadAssets(ctx context.Context) {
	files := o.lesson.Files
	if len(files) == 0 {
		o.log.Info().Msg("no remote files for this lesson")
		return
	}
	if o.assets == nil {
		o.log.Warn().Int("files", len(files)).Msg("no asset loader configured, skipping remote files")
		return
	}
	report := o.assets.LoadAll(ctx, files)
	if failed := report.Failed(); len(failed) > 0 {
		o.log.Warn().Int("failed", len(failed)).Int("files", len(files)).Msg("some remote files were not loaded, continuing")
	}
}

func (o *Orchestrator) runHidden(ctx context.Context) {
	for _, b := range o.hidden {
		code := strings.TrimSpace(b.Source)
		if code == "" {
			o.setStatus(b.ID, StatusSucceeded)
			continue
		}

		o.setStatus(b.ID, StatusRunning)
		res := o.sess.Execute(ctx, code)
		if !res.Succeeded {
			o.log.Error().Err(res.Err).Str("block", b.ID).Msg("hidden block failed")
			o.setStatus(b.ID, StatusFailed)
			continue
		}
		o.log.Debug().Str("block", b.ID).Dur("duration", res.Duration).Msg("hidden block succeeded")
		o.setStatus(b.ID, StatusSucceeded)
	}
}

func (o *Orchestrator) runFixed(ctx context.Context) error {
	for _, b := range o.fixed {
		o.display.RenderCode(b, false)
		region := b.OutputID()

		code := strings.TrimSpace(b.Source)
		if code == "" {
			o.setOutput(region, "", StateNone)
			o.setStatus(b.ID, StatusSucceeded)
			continue
		}

		o.setStatus(b.ID, StatusRunning)
		o.setOutput(region, MsgRunningCode, StateLoading)
		res := o.sess.Execute(ctx, code)
		o.finishRun(b.ID, res)

		if err := o.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) pause(ctx context.Context) error {
	if o.pace <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.pace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// interrupt fails every block Boot did not reach and records err.
func (o *Orchestrator) interrupt(err error) {
	o.log.Warn().Err(err).Msg("lesson boot stopped")

	o.mu.Lock()
	o.bootErr = err
	var pending []string
	for _, b := range o.lesson.Blocks {
		if b.Category != lesson.Hidden && o.status[b.ID] == StatusPending {
			o.status[b.ID] = StatusFailed
			pending = append(pending, b.OutputID())
		}
	}
	o.mu.Unlock()

	for _, region := range pending {
		o.setOutput(region, "Error: "+err.Error(), StateError)
	}
}

func (o *Orchestrator) registerEditable() {
	for _, b := range o.editable {
		o.display.RenderCode(b, true)
		o.setOutput(b.OutputID(), MsgReady, StateNone)
		o.setStatus(b.ID, StatusReady)
	}
}

// editableBlock looks up an editable block. The caller holds o.mu.
func (o *Orchestrator) editableBlock(id string) (lesson.Block, error) {
	b, ok := o.lesson.Block(id)
	if !ok {
		return lesson.Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if b.Category != lesson.Editable {
		return lesson.Block{}, fmt.Errorf("%w: %s", ErrNotEditable, id)
	}
	return b, nil
}

// SetSource replaces the current text of an editable block.
func (o *Orchestrator) SetSource(id, source string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.editableBlock(id); err != nil {
		return err
	}
	o.sources[id] = source
	return nil
}

// Source returns the current text of an editable block.
func (o *Orchestrator) Source(id string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.editableBlock(id); err != nil {
		return "", err
	}
	return o.sources[id], nil
}

// Trigger runs the current text of an editable block. A trigger while the
// same block is still running fails with ErrBusy and leaves its region alone.
func (o *Orchestrator) Trigger(ctx context.Context, id string) (session.Result, error) {
	return o.trigger(ctx, id, nil)
}

// Run replaces the text of an editable block and runs it. When the block
// cannot run, for example because it is busy, its text is left unchanged.
func (o *Orchestrator) Run(ctx context.Context, id, source string) (session.Result, error) {
	return o.trigger(ctx, id, &source)
}

func (o *Orchestrator) trigger(ctx context.Context, id string, source *string) (session.Result, error) {
	o.mu.Lock()
	if !o.ready {
		o.mu.Unlock()
		return session.Result{}, ErrNotReady
	}
	b, err := o.editableBlock(id)
	if err != nil {
		o.mu.Unlock()
		return session.Result{}, err
	}
	if o.running[id] {
		o.mu.Unlock()
		return session.Result{}, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	if source != nil {
		o.sources[id] = *source
	}

	code := strings.TrimSpace(o.sources[id])
	if code == "" {
		o.status[id] = StatusFailed
		o.mu.Unlock()
		o.setOutput(b.OutputID(), MsgNoCode, StateError)
		return session.Result{Output: MsgNoCode, Err: ErrEmptyInput}, ErrEmptyInput
	}

	o.running[id] = true
	o.status[id] = StatusRunning
	sess := o.sess
	o.mu.Unlock()

	o.setOutput(b.OutputID(), MsgRunning, StateLoading)
	res := sess.Execute(ctx, code)

	o.mu.Lock()
	o.running[id] = false
	o.mu.Unlock()
	o.finishRun(id, res)

	return res, nil
}

func (o *Orchestrator) finishRun(id string, res session.Result) {
	region := id + "-output"
	if res.Succeeded {
		o.setOutput(region, res.Output, StateSuccess)
		o.setStatus(id, StatusSucceeded)
		o.log.Debug().Str("block", id).Dur("duration", res.Duration).Msg("block succeeded")
		return
	}
	o.setOutput(region, res.Output, StateError)
	o.setStatus(id, StatusFailed)
	o.log.Debug().Err(res.Err).Str("block", id).Msg("block failed")
}

func (o *Orchestrator) setStatus(id string, s Status) {
	o.mu.Lock()
	o.status[id] = s
	o.mu.Unlock()
}

func (o *Orchestrator) setOutput(region, text string, state State) {
	o.mu.Lock()
	o.regions[region] = Region{Text: text, State: state}
	o.mu.Unlock()
	o.display.SetOutput(region, text, state)
}

// BlockSnapshot is the observable state of one block.
type BlockSnapshot struct {
	ID       string          `json:"id"`
	Category lesson.Category `json:"category"`
	Source   string          `json:"source"`
	Status   Status          `json:"status"`
	Output   *Region         `json:"output,omitempty"`
}

// Snapshot is the observable state of a lesson.
type Snapshot struct {
	Title  string          `json:"title"`
	Ready  bool            `json:"ready"`
	Error  string          `json:"error,omitempty"`
	Blocks []BlockSnapshot `json:"blocks"`
}

// Snapshot returns block states and region contents in document order.
// Editable blocks report their current text.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{Title: o.lesson.Title, Ready: o.ready}
	if o.bootErr != nil {
		snap.Error = o.bootErr.Error()
	}
	for _, b := range o.lesson.Blocks {
		bs := BlockSnapshot{ID: b.ID, Category: b.Category, Source: b.Source, Status: o.status[b.ID]}
		if b.Category == lesson.Editable {
			bs.Source = o.sources[b.ID]
		}
		if r, ok := o.regions[b.OutputID()]; ok {
			bs.Output = &r
		}
		snap.Blocks = append(snap.Blocks, bs)
	}
	return snap
}

// Lesson returns the lesson being run.
func (o *Orchestrator) Lesson() *lesson.Lesson {
	return o.lesson
}

// Session returns the interpreter session, or nil before Boot started it.
func (o *Orchestrator) Session() *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess
}

// Close releases the interpreter session.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	sess := o.sess
	o.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}
