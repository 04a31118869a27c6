// Package socket implements the reconnecting duplex byte-oriented connection
// described in spec.md §4.2. It knows nothing about frames, actions, or
// topics — that's the transport package's job. It only guarantees delivery
// ordering, reconnect-with-backoff, and ready-state reporting.
//
// One maintain goroutine per Reconnect dials, reads until the connection
// drops, and redials with backoff; Send writes on the caller's goroutine.
// The loop is grounded on alpacahq-alpaca-trade-api-go's stream client
// maintainConnection loop.
package socket

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/johnjansen/notebooksdk/bus"
	"github.com/johnjansen/notebooksdk/errs"
)

// dialTimeout bounds a single connect attempt, per spec.md §7's
// "connect attempt exceeded 10s" -> KindConnectionTimeout.
const dialTimeout = 10 * time.Second

// ReadyState mirrors spec.md §4.2's connection-state enum.
type ReadyState int32

const (
	StateClosed ReadyState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Topics the socket emits on its Bus. Payloads: open -> nil; close ->
// CloseEvent; error -> error; message -> []byte.
const (
	TopicOpen    = "socket.open"
	TopicClose   = "socket.close"
	TopicError   = "socket.error"
	TopicMessage = "socket.message"
)

// CloseEvent is the payload emitted on TopicClose.
type CloseEvent struct {
	Code   int
	Reason string
}

// Options configures a Socket.
type Options struct {
	// URL is the ws(s):// endpoint to dial.
	URL string
	// StartClosed, when true, means no connection attempt happens until the
	// caller calls Reconnect explicitly (spec.md §4.2 "lazy start").
	StartClosed bool
	// Header is sent with the handshake.
	Header map[string][]string
	Logger *log.Logger
}

// Socket is a reconnecting duplex connection over a websocket.
type Socket struct {
	url         string
	header      map[string][]string
	startClosed bool
	logger      *log.Logger

	bus *bus.Bus

	mu    sync.Mutex
	state ReadyState
	conn  *websocket.Conn
	// cancel stops the currently running connection-maintenance loop.
	cancel context.CancelFunc
	// closedByUser marks an explicit Close() so the maintenance loop doesn't
	// try to reconnect after it.
	closedByUser bool
	dialer       *websocket.Dialer
}

// New constructs a Socket. Dial does not happen until Reconnect is called,
// unless opts.StartClosed is false, in which case New dials immediately.
func New(opts Options) *Socket {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "socket: ", log.LstdFlags)
	}
	s := &Socket{
		url:         opts.URL,
		header:      opts.Header,
		startClosed: opts.StartClosed,
		logger:      logger,
		bus:         bus.New(logger),
		state:       StateClosed,
		dialer:      websocket.DefaultDialer,
	}
	if !opts.StartClosed {
		s.Reconnect()
	}
	return s
}

// Bus exposes the socket's event bus for Open/Close/Error/Message subscriptions.
func (s *Socket) Bus() *bus.Bus { return s.bus }

// State returns the current ReadyState.
func (s *Socket) State() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reconnect (re)starts the connect-and-maintain loop. Safe to call when
// already connecting or connected — it is a no-op in that case.
func (s *Socket) Reconnect() {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return
	}
	s.closedByUser = false
	s.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.maintain(ctx)
}

// Send writes one binary message. Returns an error immediately if not Open —
// spec.md §4.2 disables enqueue-on-send at this layer; queueing across
// outages is the transport's responsibility.
func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		return fmt.Errorf("socket: not open (state=%s)", state)
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close stops the socket permanently; it will not reconnect afterwards.
func (s *Socket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.state == StateClosed && s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.closedByUser = true
	s.state = StateClosing
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		closeMsg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		_ = conn.Close()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.conn = nil
	s.mu.Unlock()
	return nil
}

// maintain dials, then runs readLoop until the connection drops, then
// retries with backoff until ctx is cancelled (by Close) or shouldReconnect's
// close-code policy says to stop.
func (s *Socket) maintain(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // retry forever until ctx is cancelled

	for {
		if ctx.Err() != nil {
			return
		}

		dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
		conn, _, err := s.dialer.DialContext(dialCtx, s.url, httpHeader(s.header))
		dialErr := dialCtx.Err()
		cancelDial()
		if err != nil {
			s.bus.Emit(TopicError, classifyDialError(dialErr, err))
			wait := bo.NextBackOff()
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		bo.Reset()

		s.mu.Lock()
		s.conn = conn
		s.state = StateOpen
		s.mu.Unlock()
		s.bus.Emit(TopicOpen, nil)

		code, reason := s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		userClosed := s.closedByUser
		s.mu.Unlock()

		s.bus.Emit(TopicClose, CloseEvent{Code: code, Reason: reason})

		if userClosed || !shouldReconnect(code) {
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.state = StateConnecting
		s.mu.Unlock()
	}
}

// readLoop blocks reading frames until the connection errors or the peer
// closes it, returning the close code/reason observed.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) (code int, reason string) {
	code, reason = websocket.CloseAbnormalClosure, "read error"
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			return code, reason
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		s.bus.Emit(TopicMessage, data)
	}
}

// shouldReconnect implements the close-code policy table of spec.md §4.3.
// (It lives here because the socket must decide on its own whether its
// maintenance loop should keep retrying; the transport decides what to
// surface to callers.)
func shouldReconnect(code int) bool {
	switch code {
	case websocket.CloseNormalClosure: // 1000
		return false
	case websocket.CloseGoingAway: // 1001
		return true
	case websocket.CloseAbnormalClosure: // 1006
		return true
	case websocket.ClosePolicyViolation: // 1008
		return false
	default:
		return true
	}
}

// classifyDialError reports a dial failure as KindConnectionTimeout when the
// per-attempt dialTimeout expired, or the raw error otherwise.
func classifyDialError(dialCtxErr, dialErr error) error {
	if dialCtxErr == context.DeadlineExceeded {
		return errs.NewConnectionTimeoutError(dialErr)
	}
	return dialErr
}

func httpHeader(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	return m
}
