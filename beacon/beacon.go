// Package beacon implements the iframe postMessage bridge of spec.md §4.8:
// a separate, transport-like protocol for driving an in-browser preview
// iframe, independent of the notebook websocket Transport.
//
// Go has no DOM, so the wire adapter is expressed behind the MessageChannel
// interface: a //go:build js && wasm implementation backs it with the real
// browser postMessage API, and ChannelBridge (two buffered channels) backs
// it for every other build target. The framing, handshake, retry, and
// Navigator logic below is target-independent and always compiled in.
package beacon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/johnjansen/notebooksdk/bus"
)

const typePrefix = "beacon:"

// Envelope is the wire shape of every beacon message, per spec.md §4.8.
type Envelope struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	ID        string `json:"id"`
}

// MessageChannel abstracts the postMessage transport so the handshake,
// retry, and navigator logic stay platform-independent. Send delivers one
// Envelope to the iframe; OnMessage registers a callback invoked for every
// Envelope arriving from the iframe side and returns its unsubscribe func.
type MessageChannel interface {
	Send(Envelope) error
	OnMessage(fn func(Envelope)) (unsubscribe func())
}

// ChannelBridge is the default, non-browser MessageChannel: two buffered
// Go channels standing in for postMessage's two directions. Host programs
// not compiled to js/wasm (including every test in this module) use this.
type ChannelBridge struct {
	toChild  chan Envelope
	toParent chan Envelope

	mu        sync.Mutex
	listeners []func(Envelope)
	done      chan struct{}
}

// NewChannelBridge constructs a ChannelBridge and starts its dispatch loop.
func NewChannelBridge() *ChannelBridge {
	b := &ChannelBridge{
		toChild:  make(chan Envelope, 32),
		toParent: make(chan Envelope, 32),
		done:     make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

func (b *ChannelBridge) dispatchLoop() {
	for {
		select {
		case env := <-b.toParent:
			b.mu.Lock()
			listeners := make([]func(Envelope), len(b.listeners))
			copy(listeners, b.listeners)
			b.mu.Unlock()
			for _, fn := range listeners {
				fn(env)
			}
		case <-b.done:
			return
		}
	}
}

// Send delivers env to the simulated child (iframe) side.
func (b *ChannelBridge) Send(env Envelope) error {
	select {
	case b.toChild <- env:
		return nil
	default:
		return fmt.Errorf("beacon: channel bridge to-child buffer full")
	}
}

// OnMessage registers fn for every Envelope the simulated child sends back.
func (b *ChannelBridge) OnMessage(fn func(Envelope)) func() {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	idx := len(b.listeners) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.listeners) {
			b.listeners[idx] = func(Envelope) {}
		}
	}
}

// ChildInbox exposes the channel a test double "child" reads from to
// simulate the iframe receiving postMessage traffic.
func (b *ChannelBridge) ChildInbox() <-chan Envelope { return b.toChild }

// ReplyFromChild lets a test double "child" push a message back, as if the
// iframe had called parent.postMessage.
func (b *ChannelBridge) ReplyFromChild(env Envelope) {
	b.toParent <- env
}

// Close stops the dispatch loop.
func (b *ChannelBridge) Close() {
	close(b.done)
}

// Options configures a Beacon.
type Options struct {
	Channel MessageChannel
	// HandshakeRetries is how many times the ready handshake is attempted
	// (default 3).
	HandshakeRetries int
	Logger           *log.Logger
}

// Beacon drives one in-browser preview iframe over a MessageChannel.
type Beacon struct {
	channel MessageChannel
	logger  *log.Logger
	bus     *bus.Bus

	handshakeRetries int

	mu    sync.Mutex
	ready bool

	Navigator *Navigator
}

// Event topics emitted on the Beacon's own Bus.
const (
	TopicHistoryChange         = "beacon.historyChange"
	TopicNavigationStateChange = "beacon.navigationStateChange"
)

// New constructs a Beacon over opts.Channel (or a fresh ChannelBridge if
// none is given).
func New(opts Options) *Beacon {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "beacon: ", log.LstdFlags)
	}
	channel := opts.Channel
	if channel == nil {
		channel = NewChannelBridge()
	}
	retries := opts.HandshakeRetries
	if retries <= 0 {
		retries = 3
	}

	b := &Beacon{
		channel:          channel,
		logger:           logger,
		bus:              bus.New(logger),
		handshakeRetries: retries,
	}
	b.Navigator = newNavigator(b)

	channel.OnMessage(func(env Envelope) {
		if len(env.Type) < len(typePrefix) || env.Type[:len(typePrefix)] != typePrefix {
			return
		}
		b.bus.Emit(env.Type, env.Payload)
	})

	b.bus.On("beacon:urlChange", func(data any) {
		if url, ok := data.(string); ok {
			b.Navigator.mirrorChildNavigation(url)
		}
	})

	return b
}

// Bus exposes the beacon's local event bus (historyChange, navigationStateChange).
func (b *Beacon) Bus() *bus.Bus { return b.bus }

func (b *Beacon) send(msgType string, payload any) error {
	return b.channel.Send(Envelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Source:    "parent",
		ID:        uuid.NewString(),
	})
}

// Handshake sends beacon:discover and awaits beacon:ready (up to 5s per
// attempt), retrying the whole sequence with backoff on failure (default 3
// tries, 1-5s, x2, jittered). It does not wait for an iframe load event
// before sending beacon:discover.
func (b *Beacon) Handshake(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 5 * time.Second
	bo.Multiplier = 2

	var lastErr error
	for attempt := 0; attempt < b.handshakeRetries; attempt++ {
		b.mu.Lock()
		b.ready = false
		b.mu.Unlock()

		if err := b.attemptHandshake(ctx); err != nil {
			lastErr = err
			select {
			case <-time.After(bo.NextBackOff()):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	return fmt.Errorf("beacon: handshake failed after %d attempts: %w", b.handshakeRetries, lastErr)
}

func (b *Beacon) attemptHandshake(ctx context.Context) error {
	readyCh := make(chan struct{}, 1)
	sub := b.bus.Once("beacon:ready", func(any) {
		select {
		case readyCh <- struct{}{}:
		default:
		}
	})
	defer sub.Off()

	if err := b.send("beacon:discover", nil); err != nil {
		return err
	}

	select {
	case <-readyCh:
		b.mu.Lock()
		b.ready = true
		b.mu.Unlock()
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("beacon: timed out waiting for beacon:ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendAndWaitFor implements spec.md §4.8's request/response pattern: the
// responder topic is fixed per verb (not per-id), so only one outstanding
// call per verb is supported at a time.
func (b *Beacon) sendAndWaitFor(ctx context.Context, reqType, respType string, payload any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	resultCh := make(chan any, 1)
	sub := b.bus.Once(respType, func(data any) {
		select {
		case resultCh <- data:
		default:
		}
	})
	defer sub.Off()

	if err := b.send(reqType, payload); err != nil {
		return nil, err
	}

	select {
	case data := <-resultCh:
		return data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("beacon: %s timed out waiting for %s", reqType, respType)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping/Pong is the minimal liveness probe described in spec.md §4.8.
func (b *Beacon) Ping(ctx context.Context) error {
	_, err := b.sendAndWaitFor(ctx, "beacon:ping", "beacon:pong", nil, 5*time.Second)
	return err
}

// GetDebugInfo requests the child's debug snapshot.
func (b *Beacon) GetDebugInfo(ctx context.Context) (any, error) {
	return b.sendAndWaitFor(ctx, "beacon:getDebugInfo", "beacon:debugInfo", nil, 10*time.Second)
}

// GetConsoleEvents requests buffered console log entries.
func (b *Beacon) GetConsoleEvents(ctx context.Context) (any, error) {
	return b.sendAndWaitFor(ctx, "beacon:getConsoleEvents", "beacon:consoleEvents", nil, 10*time.Second)
}

// GetErrorEvents requests buffered uncaught-error entries.
func (b *Beacon) GetErrorEvents(ctx context.Context) (any, error) {
	return b.sendAndWaitFor(ctx, "beacon:getErrorEvents", "beacon:errorEvents", nil, 10*time.Second)
}

// ClearConsole clears the child's console log buffer. There is no
// corresponding response type in spec.md §6's type enumeration, so this is
// fire-and-forget rather than a request/response round trip.
func (b *Beacon) ClearConsole(ctx context.Context) error {
	return b.send("beacon:clearConsole", nil)
}

// ClearErrors clears the child's error log buffer. Fire-and-forget for the
// same reason as ClearConsole.
func (b *Beacon) ClearErrors(ctx context.Context) error {
	return b.send("beacon:clearErrors", nil)
}

// ExecuteCode evaluates code inside the preview iframe's context.
func (b *Beacon) ExecuteCode(ctx context.Context, code string) (any, error) {
	return b.sendAndWaitFor(ctx, "beacon:executeCode", "beacon:codeExecutionResult", map[string]any{"code": code}, 15*time.Second)
}

// InspectElement requests details of the element at (x, y) in child coordinates.
func (b *Beacon) InspectElement(ctx context.Context, x, y float64) (any, error) {
	return b.sendAndWaitFor(ctx, "beacon:inspectElement", "beacon:elementInspectionResult", map[string]any{"x": x, "y": y}, 10*time.Second)
}

// Fetch proxies an HTTP request through the child's origin.
func (b *Beacon) Fetch(ctx context.Context, url string, init any) (any, error) {
	return b.sendAndWaitFor(ctx, "beacon:fetch", "beacon:fetchResult", map[string]any{"url": url, "init": init}, 15*time.Second)
}

// DebugRequest configures Debug.
type DebugRequest struct {
	URL     string
	Wait    time.Duration
	Timeout time.Duration
}

// Debug first navigates if req.URL is set, optionally waits, then requests
// a debug capture with a timeout of req.Timeout + 5s, per spec.md §4.8.
func (b *Beacon) Debug(ctx context.Context, req DebugRequest) (any, error) {
	if req.URL != "" {
		if err := b.Navigator.Visit(ctx, req.URL); err != nil {
			return nil, err
		}
	}
	if req.Wait > 0 {
		select {
		case <-time.After(req.Wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.sendAndWaitFor(ctx, "beacon:debug", "beacon:debugResult", nil, req.Timeout+5*time.Second)
}
