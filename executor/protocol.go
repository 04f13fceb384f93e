package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/lessonbox/hostfunc"
	"github.com/caffeineduck/lessonbox/session"
)

// Guest protocol frames, all written by the guest to stderr.
//
//	\x00GORU_READY\x00         interpreter initialised
//	\x00GORU_VALUE:<text>\x00  value of the final expression
//	\x00GORU_DONE\x00          execution finished
//	\x00GORU_ERROR:<msg>\x00   execution failed
//	\x00GORU:{json}\x00        host function call
//	\x00GORU_FLUSH:<n>\x00     run the n queued async calls
//
// Responses to host calls are written to the guest's stdin as JSON lines.
const (
	protocolPrefix      = "\x00GORU:"
	protocolFlushPrefix = "\x00GORU_FLUSH:"
	protocolSuffix      = "\x00"

	guestReadySignal = "\x00GORU_READY\x00"
	guestDoneSignal  = "\x00GORU_DONE\x00"
	guestErrorPrefix = "\x00GORU_ERROR:"
	guestValuePrefix = "\x00GORU_VALUE:"
)

type callRequest struct {
	ID   string         `json:"id,omitempty"`
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type messageType int

const (
	messageNone messageType = iota
	messageCall
	messageFlush
	messageReady
	messageDone
	messageError
	messageValue
)

var framePrefixes = []struct {
	prefix string
	kind   messageType
}{
	{protocolPrefix, messageCall},
	{protocolFlushPrefix, messageFlush},
	{guestReadySignal, messageReady},
	{guestDoneSignal, messageDone},
	{guestErrorPrefix, messageError},
	{guestValuePrefix, messageValue},
}

// findNextMessage returns the index and kind of the earliest frame in
// content, or -1 and messageNone.
func findNextMessage(content string) (int, messageType) {
	best, kind := -1, messageNone
	for _, f := range framePrefixes {
		if idx := strings.Index(content, f.prefix); idx != -1 && (best == -1 || idx < best) {
			best, kind = idx, f.kind
		}
	}
	return best, kind
}

func isFrameStart(s string) bool {
	for _, f := range framePrefixes {
		if strings.HasPrefix(f.prefix, s) {
			return true
		}
	}
	return false
}

// extractMessage splits a framed message starting at idx into its payload
// and the content after its terminator. ok is false while the frame is
// incomplete; remaining is then the unconsumed frame.
func extractMessage(content string, idx int, prefix string) (payload, remaining string, ok bool) {
	start := idx + len(prefix)
	end := strings.Index(content[start:], protocolSuffix)
	if end == -1 {
		return "", content[idx:], false
	}
	return content[start : start+end], content[start+end+len(protocolSuffix):], true
}

type execResult struct {
	value session.Value
	err   error
}

// guestProtocol demultiplexes the guest's stderr. Plain text goes to out;
// frames drive readiness, results and host calls.
type guestProtocol struct {
	ctx      context.Context
	registry *hostfunc.Registry
	stdin    io.Writer
	out      io.Writer

	buf     strings.Builder
	pending []callRequest
	value   session.Value

	readyCh chan struct{}
	doneCh  chan execResult
	ready   bool

	mu      sync.Mutex
	writeMu sync.Mutex
}

func newGuestProtocol(ctx context.Context, registry *hostfunc.Registry, stdin, out io.Writer) *guestProtocol {
	return &guestProtocol{
		ctx:      ctx,
		registry: registry,
		stdin:    stdin,
		out:      out,
		readyCh:  make(chan struct{}),
		doneCh:   make(chan execResult, 1),
	}
}

func (p *guestProtocol) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	content := p.buf.String()
	p.buf.Reset()

	for content != "" {
		idx, kind := findNextMessage(content)
		if kind == messageNone {
			// Hold back a tail that may be the start of a frame.
			if cut := strings.LastIndex(content, "\x00"); cut != -1 && isFrameStart(content[cut:]) {
				p.emit(content[:cut])
				p.buf.WriteString(content[cut:])
			} else {
				p.emit(content)
			}
			break
		}

		p.emit(content[:idx])
		rest, ok := p.handle(content[idx:], kind)
		if !ok {
			p.buf.WriteString(content[idx:])
			break
		}
		content = rest
	}

	return len(data), nil
}

func (p *guestProtocol) emit(s string) {
	if s != "" {
		io.WriteString(p.out, s)
	}
}

// handle consumes one frame at the start of content. ok is false when the
// frame is not complete yet.
func (p *guestProtocol) handle(content string, kind messageType) (string, bool) {
	switch kind {
	case messageReady:
		if !p.ready {
			p.ready = true
			close(p.readyCh)
		}
		return content[len(guestReadySignal):], true

	case messageDone:
		p.finish(execResult{value: p.value})
		return content[len(guestDoneSignal):], true
	}

	prefix := map[messageType]string{
		messageCall:  protocolPrefix,
		messageFlush: protocolFlushPrefix,
		messageError: guestErrorPrefix,
		messageValue: guestValuePrefix,
	}[kind]

	payload, remaining, ok := extractMessage(content, 0, prefix)
	if !ok {
		return content, false
	}

	switch kind {
	case messageValue:
		p.value = session.Text(payload)
	case messageError:
		p.finish(execResult{err: errors.New(payload)})
	case messageFlush:
		p.handleFlush(payload)
	case messageCall:
		p.handleCall(payload)
	}
	return remaining, true
}

func (p *guestProtocol) finish(r execResult) {
	p.value = session.None
	select {
	case p.doneCh <- r:
	default:
	}
}

func (p *guestProtocol) handleFlush(payload string) {
	count := 0
	fmt.Sscanf(payload, "%d", &count)
	if count <= 0 || count > len(p.pending) {
		count = len(p.pending)
	}
	if count == 0 {
		return
	}

	requests := p.pending[:count]
	p.pending = p.pending[count:]

	// Responses must not be written while Write holds the lock the guest
	// is blocked behind, so the batch runs detached.
	go func() {
		var wg sync.WaitGroup
		wg.Add(len(requests))
		for _, req := range requests {
			go func(r callRequest) {
				defer wg.Done()
				resp := p.executeCall(r)
				resp.ID = r.ID
				p.respond(resp)
			}(req)
		}
		wg.Wait()
	}()
}

func (p *guestProtocol) handleCall(payload string) {
	var req callRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		go p.respond(callResponse{Error: "invalid call format"})
		return
	}

	if req.ID != "" {
		p.pending = append(p.pending, req)
		return
	}
	go p.respond(p.executeCall(req))
}

func (p *guestProtocol) executeCall(req callRequest) callResponse {
	result, err := p.registry.Call(p.ctx, req.Fn, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

func (p *guestProtocol) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.stdin.Write(append(data, '\n'))
}

func (p *guestProtocol) Ready() <-chan struct{} {
	return p.readyCh
}

func (p *guestProtocol) Done() <-chan execResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneCh
}

// resetExec discards any stale result before a new command is sent.
func (p *guestProtocol) resetExec() {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.doneCh:
	default:
	}
	p.value = session.None
}
