// Package terminal is the process/terminal adapter of spec.md §4.5: spawn a
// process server-side, stream its output, forward input, resize, and kill
// it, plus operate multiplexed create/list/resize/input independent of
// Spawn.
package terminal

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/johnjansen/notebooksdk/transport"
)

// ProcessState describes the current status of a spawned process.
type ProcessState int

const (
	StateRunning ProcessState = iota
	StateExited
)

// Chunk is one unit of process output or input, server-defined (bytes or text).
type Chunk = []byte

// ExitResult carries a spawned process's terminal exit code.
type ExitResult struct {
	Code int
}

// Process is the handle returned by Spawn: an input sink, an output
// source, and an exit future. Output/input are single-use, lazy byte-chunk
// sequences — not restartable, per spec.md §4.5.
type Process struct {
	ID string

	t      *Terminal
	output chan Chunk
	exit   chan ExitResult

	mu       sync.Mutex
	disposed bool
}

// Output returns the channel on which output chunks arrive until the
// process exits, at which point it is closed.
func (p *Process) Output() <-chan Chunk { return p.output }

// Exit returns a channel that yields exactly one ExitResult when the
// process terminates.
func (p *Process) Exit() <-chan ExitResult { return p.exit }

// Input forwards one chunk to the process's stdin.
func (p *Process) Input(ctx context.Context, data []byte) error {
	_, err := p.t.tr.Invoke(ctx, "terminal.input", map[string]any{"id": p.ID, "input": string(data)}, transport.CallOption{})
	return err
}

// Resize sends a terminal resize for an interactive process.
func (p *Process) Resize(ctx context.Context, cols, rows int) error {
	_, err := p.t.tr.Invoke(ctx, "terminal.resize", map[string]any{"id": p.ID, "cols": cols, "rows": rows}, transport.CallOption{})
	return err
}

// Kill sends terminal.close for this process id and disposes subscriptions.
func (p *Process) Kill(ctx context.Context) error {
	_, err := p.t.tr.Invoke(ctx, "terminal.close", map[string]any{"id": p.ID}, transport.CallOption{})
	p.dispose()
	return err
}

func (p *Process) dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true
	p.t.releaseSubscriptions(p.ID)
}

// Terminal is the session-level facade over terminal.* actions.
type Terminal struct {
	tr     *transport.Transport
	logger *log.Logger

	mu    sync.Mutex
	subs  map[string][]func()
	procs map[string]*Process
}

// New constructs a Terminal bound to tr. Construct via session.Session,
// which owns the Transport.
func New(tr *transport.Transport, logger *log.Logger) *Terminal {
	return &Terminal{
		tr:     tr,
		logger: logger,
		subs:   make(map[string][]func()),
		procs:  make(map[string]*Process),
	}
}

// aborted reports whether sig is already closed without blocking.
func aborted(sig <-chan struct{}) bool {
	if sig == nil {
		return false
	}
	select {
	case <-sig:
		return true
	default:
		return false
	}
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	ID          string
	AbortSignal <-chan struct{}
}

// Spawn starts command with args server-side and returns a handle streaming
// its output and reporting its exit.
func (t *Terminal) Spawn(ctx context.Context, command string, args []string, opts SpawnOptions) (*Process, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	p := &Process{ID: id, t: t, output: make(chan Chunk, 64), exit: make(chan ExitResult, 1)}

	// An already-aborted signal resolves exit with a synthetic value and
	// never subscribes to output or sends terminal.spawn.
	if aborted(opts.AbortSignal) {
		close(p.output)
		p.exit <- ExitResult{Code: -1}
		return p, nil
	}

	t.mu.Lock()
	t.procs[id] = p
	t.mu.Unlock()

	// Register listeners *before* sending the spawn request, per spec.md §4.5.
	outputTopic, closeTopic := dispatchByIDTopic(id)

	offOutput := t.tr.Listen(outputTopic, func(data any) {
		if b, ok := data.([]byte); ok {
			p.output <- b
			return
		}
		if s, ok := data.(string); ok {
			p.output <- []byte(s)
		}
	}).Off
	offClose := t.tr.Listen(closeTopic, func(data any) {
		code := 0
		if m, ok := data.(map[string]any); ok {
			if c, ok := m["code"].(float64); ok {
				code = int(c)
			}
		}
		close(p.output)
		p.exit <- ExitResult{Code: code}
		p.dispose()
	}).Off

	t.mu.Lock()
	t.subs[id] = []func(){offOutput, offClose}
	t.mu.Unlock()

	if opts.AbortSignal != nil {
		go func() {
			select {
			case <-opts.AbortSignal:
				_ = p.Kill(context.Background())
			case res := <-p.exit:
				// Put the result back so Exit() still yields it.
				p.exit <- res
			}
		}()
	}

	_, err := t.tr.Invoke(ctx, "terminal.spawn", map[string]any{"command": command, "args": args, "id": id}, transport.CallOption{})
	if err != nil {
		p.dispose()
		return nil, err
	}
	return p, nil
}

// Create starts a multiplexed terminal session independent of Spawn,
// returning its server-assigned id.
func (t *Terminal) Create(ctx context.Context, cols, rows int) (string, error) {
	res, err := t.tr.Invoke(ctx, "terminal.create", map[string]any{"cols": cols, "rows": rows}, transport.CallOption{})
	if err != nil {
		return "", err
	}
	m, _ := res.(map[string]any)
	id, _ := m["id"].(string)
	return id, nil
}

// List returns the ids of currently open multiplexed terminal sessions.
func (t *Terminal) List(ctx context.Context) ([]string, error) {
	res, err := t.tr.Invoke(ctx, "terminal.list", nil, transport.CallOption{})
	if err != nil {
		return nil, err
	}
	items, _ := res.([]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (t *Terminal) releaseSubscriptions(id string) {
	t.mu.Lock()
	subs := t.subs[id]
	delete(t.subs, id)
	delete(t.procs, id)
	t.mu.Unlock()
	for _, off := range subs {
		off()
	}
}

// dispatchByIDTopic is the strategy actually wired into Spawn above: one
// dedicated pair of topics per process id (terminal.output.<id>,
// terminal.close.<id>). Kept as a named function next to the rejected
// alternative below.
func dispatchByIDTopic(id string) (output, closeTopic string) {
	return fmt.Sprintf("terminal.output.%s", id), fmt.Sprintf("terminal.close.%s", id)
}

// dispatchByFilteredTopic was the other shape considered: a single shared
// "terminal.output" topic carrying {id, chunk} and filtering client-side by
// id. It is not wired into Spawn — a shared topic means one slow consumer's
// handler (or a burst from a single noisy process) head-of-line-blocks
// delivery to every other process's subscriber on the same Bus.Emit call,
// since Bus dispatches a topic's handlers synchronously in sequence. Kept
// here, unused, as the documented rejected alternative.
func dispatchByFilteredTopic(all <-chan struct {
	ID   string
	Data Chunk
}, wantID string) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for msg := range all {
			if msg.ID == wantID {
				out <- msg.Data
			}
		}
	}()
	return out
}

// Dispose releases every outstanding process subscription.
func (t *Terminal) Dispose() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.procs))
	for id := range t.procs {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.releaseSubscriptions(id)
	}
}

// HandleReconnect is a no-op for terminal: spawned processes do not survive
// a transport reconnect (the server process may itself be gone), so there is
// nothing to re-subscribe. Present to satisfy session.reconnectAware.
func (t *Terminal) HandleReconnect() {}
