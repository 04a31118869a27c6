// Package transport is the heart of the system (spec.md §4.3): it owns one
// socket.Socket, multiplexes invoke()-style requests over it, applies
// client-side rate limiting and queueing, retries with backoff, and derives
// an overall HealthState. Everything above it (session, terminal, fs, lsp)
// only ever calls Invoke/Listen/Bus/Connect/Health/Stats/Close.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johnjansen/notebooksdk/bus"
	"github.com/johnjansen/notebooksdk/errs"
	"github.com/johnjansen/notebooksdk/frame"
	"github.com/johnjansen/notebooksdk/socket"
)

// HealthState is the derived health of a Transport, per spec.md §4.3.
type HealthState int

const (
	Healthy HealthState = iota
	Degraded
	Unhealthy
)

func (h HealthState) String() string {
	switch h {
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "healthy"
	}
}

// Stats is an exported snapshot of a Transport's counters.
type Stats struct {
	Messages          uint64
	Errors            uint64
	AvgResponseTime   time.Duration
	TimeSinceLastPing time.Duration
	TimeSinceLastPong time.Duration
	QueueDepth        int
	ReconnectCount    uint64
}

// Topic emitted locally (not server-originated) once the client id arrives.
const TopicClientID = "transport.client-id"

// TopicClosed is emitted once, synchronously, at the end of Close.
const TopicClosed = "transport.closed"

// TopicOpen is emitted every time the underlying socket reaches Open,
// including the very first connect and every silent reconnect afterwards.
// Session uses this (rather than requiring callers to notice a drop and
// call Session.Reconnect themselves) to re-issue subsystem subscriptions
// transparently, per spec.md §4.4/§4.6.
const TopicOpen = "transport.open"

const (
	keepaliveInterval  = 30 * time.Second
	pongGraceMultiple  = 3
	unhealthyPongGrace = 2
	defaultRetries     = 10
	retryBase          = 1 * time.Second
	retryCap           = 30 * time.Second
	rateLimitPerSecond = 50
	queueCapacity      = 100
	queueMaxAge        = 30 * time.Second
)

// CallOption configures a single Invoke.
type CallOption struct {
	Timeout     time.Duration
	AbortSignal <-chan struct{}
}

// Options configures a Transport.
type Options struct {
	URL         string
	Header      map[string][]string
	StartClosed bool
	Logger      *log.Logger
	// Retries overrides defaultRetries; 0 means use the default.
	Retries int
}

type queuedRequest struct {
	enqueuedAt time.Time
	action     string
	data       any
	reply      chan invokeResult
	opt        CallOption
}

type invokeResult struct {
	data any
	err  error
}

// Transport multiplexes invoke/listen over one reconnecting socket.
type Transport struct {
	sock    *socket.Socket
	bus     *bus.Bus
	logger  *log.Logger
	retries int

	mu           sync.Mutex
	clientID     string
	closed       bool
	explicitStop bool
	queue        []*queuedRequest
	limiterTimes []time.Time

	statsMu sync.Mutex
	stats   Stats
	respSum time.Duration
	respN   uint64

	lastPing time.Time
	lastPong time.Time

	keepaliveCancel context.CancelFunc
	connectMu       sync.Mutex
	connecting      bool
}

// New constructs a Transport. The socket is not dialed until Connect is
// called (or until the first Invoke, which calls Connect implicitly).
func New(opts Options) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "transport: ", log.LstdFlags)
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	t := &Transport{
		bus:     bus.New(logger),
		logger:  logger,
		retries: retries,
	}
	t.sock = socket.New(socket.Options{
		URL:         opts.URL,
		Header:      opts.Header,
		StartClosed: true,
		Logger:      logger,
	})
	t.sock.Bus().On(socket.TopicMessage, t.onMessage)
	t.sock.Bus().On(socket.TopicOpen, t.onOpen)
	t.sock.Bus().On(socket.TopicClose, t.onClose)
	t.sock.Bus().On(socket.TopicError, t.onSocketError)

	if !opts.StartClosed {
		t.Connect()
	}
	return t
}

// Bus exposes the transport's local event bus (used by Session and adapters
// to subscribe to server-pushed topics).
func (t *Transport) Bus() *bus.Bus { return t.bus }

// Connect is idempotent and coalesces concurrent callers onto the one
// in-flight attempt.
func (t *Transport) Connect() {
	t.connectMu.Lock()
	if t.connecting || t.sock.State() == socket.StateOpen {
		t.connectMu.Unlock()
		return
	}
	t.connecting = true
	t.connectMu.Unlock()

	t.sock.Reconnect()
}

// onOpen starts the keepalive loop once the socket reports Open.
func (t *Transport) onOpen(_ any) {
	t.connectMu.Lock()
	t.connecting = false
	t.connectMu.Unlock()

	t.mu.Lock()
	t.lastPing = time.Now()
	t.lastPong = time.Now()
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.keepaliveCancel != nil {
		t.keepaliveCancel()
	}
	t.keepaliveCancel = cancel
	t.mu.Unlock()

	go t.keepaliveLoop(ctx)
	go t.flushQueue()

	t.bus.Emit(TopicOpen, nil)
}

func (t *Transport) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			t.lastPing = time.Now()
			lastPong := t.lastPong
			t.mu.Unlock()

			if time.Since(lastPong) > pongGraceMultiple*keepaliveInterval {
				t.logger.Printf("transport: no pong for %s, forcing reconnect", time.Since(lastPong))
				_ = t.sock.Close(1000, "keepalive timeout")
				t.sock.Reconnect()
				return
			}

			go func() {
				_, err := t.Invoke(context.Background(), "ping", nil, CallOption{Timeout: keepaliveInterval})
				if err == nil {
					t.mu.Lock()
					t.lastPong = time.Now()
					t.mu.Unlock()
				}
			}()
		}
	}
}

// onClose implements the close-code policy table of spec.md §4.3. The
// socket package already decides whether to retry the TCP-level
// reconnection; here we decide what it means for queued application state.
// In-flight requests are rejected by their own close handlers in invokeOnce.
func (t *Transport) onClose(payload any) {
	ev, _ := payload.(socket.CloseEvent)

	t.mu.Lock()
	if t.keepaliveCancel != nil {
		t.keepaliveCancel()
		t.keepaliveCancel = nil
	}
	t.statsMu.Lock()
	t.stats.ReconnectCount++
	t.statsMu.Unlock()
	t.mu.Unlock()

	if ev.Code == 1008 {
		t.logger.Printf("transport: closed with policy violation (rate limit): %s", ev.Reason)
		t.drainQueue(errs.NewRateLimitError("server closed connection: " + ev.Reason))
		return
	}
}

func (t *Transport) onSocketError(payload any) {
	err, _ := payload.(error)
	t.statsMu.Lock()
	t.stats.Errors++
	t.statsMu.Unlock()
	if err != nil {
		t.logger.Printf("transport: socket error: %v", err)
	}
}

// onMessage decodes one frame and dispatches it per spec.md §4.3's taxonomy.
func (t *Transport) onMessage(payload any) {
	data, _ := payload.([]byte)
	f, err := frame.Decode(data)
	if err != nil {
		t.logger.Printf("transport: dropping undecodable frame: %v", err)
		t.statsMu.Lock()
		t.stats.Errors++
		t.statsMu.Unlock()
		return
	}

	t.statsMu.Lock()
	t.stats.Messages++
	t.statsMu.Unlock()

	switch f.Event {
	case "client-id":
		id, _ := f.Data.(string)
		t.mu.Lock()
		t.clientID = id
		t.mu.Unlock()
		t.bus.Emit(TopicClientID, id)
		return
	case "boot-error":
		t.logger.Printf("transport: boot-error: %v", f.Data)
		return
	case "response":
		t.bus.Emit(f.ResponseEvent, f.Data)
		return
	case "error":
		t.bus.Emit(f.ErrorEvent, f.Data)
		return
	}

	topic := f.Event
	if f.As != "" {
		topic = f.As
	}
	t.bus.Emit(topic, f.Data)
}

// Invoke sends one request and awaits its response, applying rate limiting,
// queueing, retry, timeout and abort semantics per spec.md §4.3.
func (t *Transport) Invoke(ctx context.Context, action string, args any, opt CallOption) (any, error) {
	if !t.allow() {
		return nil, errs.NewRateLimitError("client-side rate limit exceeded")
	}

	var lastErr error
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBase
	bo.MaxInterval = retryCap
	bo.Multiplier = 2

	attempts := t.retries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		data, err := t.invokeOnce(ctx, action, args, opt)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return nil, errs.NewRequestTimeoutError(action)
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	var e *errs.Error
	if ok := asErr(err, &e); !ok {
		return true
	}
	switch e.Kind {
	case errs.KindApplication, errs.KindFilesystem, errs.KindRateLimit, errs.KindRequestTimeout,
		errs.KindInvalidMessage, errs.KindInvalidConfig, errs.KindAbort:
		return false
	default:
		return true
	}
}

func asErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func (t *Transport) invokeOnce(ctx context.Context, action string, args any, opt CallOption) (any, error) {
	if opt.AbortSignal != nil {
		select {
		case <-opt.AbortSignal:
			return nil, errs.NewAbortError()
		default:
		}
	}

	if t.sock.State() != socket.StateOpen {
		if t.explicitlyClosed() {
			return nil, errs.ErrConnectionLost
		}
		return t.enqueue(ctx, action, args, opt)
	}

	token := uuid.NewString()
	responseEvent := fmt.Sprintf("%s_%s", action, token)
	errorEvent := fmt.Sprintf("%s_%s_error", action, token)

	replyCh := make(chan invokeResult, 1)
	var once sync.Once
	respond := func(res invokeResult) {
		once.Do(func() { replyCh <- res })
	}

	respSub := t.bus.Once(responseEvent, func(data any) {
		respond(invokeResult{data: data})
	})
	errSub := t.bus.Once(errorEvent, func(data any) {
		respond(invokeResult{err: toApplicationError(data)})
	})
	defer respSub.Off()
	defer errSub.Off()

	closeSub := t.sock.Bus().Once(socket.TopicClose, func(payload any) {
		ev, _ := payload.(socket.CloseEvent)
		if ev.Code == 1008 {
			respond(invokeResult{err: errs.NewRateLimitError(ev.Reason)})
			return
		}
		respond(invokeResult{err: errs.NewConnectionLostError(fmt.Errorf("close code %d: %s", ev.Code, ev.Reason))})
	})
	defer closeSub.Off()

	start := time.Now()
	f := frame.NewRequest(action, responseEvent, errorEvent, args)
	encoded, err := frame.Encode(f)
	if err != nil {
		return nil, errs.NewInvalidMessageError(err)
	}
	if err := t.sock.Send(encoded); err != nil {
		return nil, errs.NewConnectionLostError(err)
	}

	var timeoutCh <-chan time.Time
	if opt.Timeout > 0 {
		timer := time.NewTimer(opt.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var abortCh <-chan struct{} = opt.AbortSignal

	select {
	case res := <-replyCh:
		t.recordLatency(time.Since(start))
		if res.err != nil {
			t.statsMu.Lock()
			t.stats.Errors++
			t.statsMu.Unlock()
		}
		return res.data, res.err
	case <-timeoutCh:
		return nil, errs.NewRequestTimeoutError(action)
	case <-abortCh:
		return nil, errs.ErrAbort
	case <-ctx.Done():
		return nil, errs.NewRequestTimeoutError(action)
	}
}

func toApplicationError(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return errs.NewApplicationError(0, fmt.Sprintf("%v", data), data)
	}
	if name, ok := m["name"].(string); ok {
		if kind, isFS := filesystemErrorKind(name); isFS {
			code, _ := m["code"].(float64)
			message, _ := m["message"].(string)
			return errs.NewFilesystemError(kind, int(code), message, data)
		}
	}
	code, _ := m["code"].(float64)
	message, _ := m["message"].(string)
	return errs.NewApplicationError(int(code), message, data)
}

func filesystemErrorKind(name string) (string, bool) {
	switch name {
	case "Unavailable", "NoPermissions", "FileExists", "FileNotFound", "FileIsADirectory", "FileNotADirectory":
		return name, true
	default:
		return "", false
	}
}

func (t *Transport) recordLatency(d time.Duration) {
	t.statsMu.Lock()
	t.respSum += d
	t.respN++
	t.statsMu.Unlock()
}

// allow implements the client-side sliding-window rate limit: 50 requests
// per rolling second.
func (t *Transport) allow() bool {
	now := time.Now()
	cutoff := now.Add(-1 * time.Second)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.limiterTimes[:0]
	for _, ts := range t.limiterTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.limiterTimes = kept

	if len(t.limiterTimes) >= rateLimitPerSecond {
		return false
	}
	t.limiterTimes = append(t.limiterTimes, now)
	return true
}

func (t *Transport) explicitlyClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// enqueue parks a request in the bounded FIFO queue while the socket is
// down, to be replayed on the next open. Oldest entries are dropped (with a
// rejection) once the queue is full.
func (t *Transport) enqueue(ctx context.Context, action string, args any, opt CallOption) (any, error) {
	reply := make(chan invokeResult, 1)
	qr := &queuedRequest{enqueuedAt: time.Now(), action: action, data: args, reply: reply, opt: opt}

	t.mu.Lock()
	if len(t.queue) >= queueCapacity {
		dropped := t.queue[0]
		t.queue = t.queue[1:]
		dropped.reply <- invokeResult{err: fmt.Errorf("notebooksdk: queue full, dropping oldest request %q", dropped.action)}
	}
	t.queue = append(t.queue, qr)
	t.statsMu.Lock()
	t.stats.QueueDepth = len(t.queue)
	t.statsMu.Unlock()
	t.mu.Unlock()

	t.Connect()

	var timeoutCh <-chan time.Time
	if opt.Timeout > 0 {
		timer := time.NewTimer(opt.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case res := <-reply:
		return res.data, res.err
	case <-timeoutCh:
		return nil, errs.NewRequestTimeoutError(action)
	case <-ctx.Done():
		return nil, errs.NewRequestTimeoutError(action)
	case <-opt.AbortSignal:
		return nil, errs.NewAbortError()
	}
}

// flushQueue re-sends queued requests in FIFO order on reconnect, dropping
// (with an "expired" error) anything older than queueMaxAge, paced through
// an x/time/rate limiter so a large backlog doesn't burst the freshly
// reopened connection.
func (t *Transport) flushQueue() {
	t.mu.Lock()
	pending := t.queue
	t.queue = nil
	t.statsMu.Lock()
	t.stats.QueueDepth = 0
	t.statsMu.Unlock()
	t.mu.Unlock()

	limiter := rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitPerSecond)
	for _, qr := range pending {
		if time.Since(qr.enqueuedAt) > queueMaxAge {
			qr.reply <- invokeResult{err: fmt.Errorf("notebooksdk: queued request %q expired", qr.action)}
			continue
		}
		if err := limiter.Wait(context.Background()); err != nil {
			qr.reply <- invokeResult{err: err}
			continue
		}
		data, err := t.invokeOnce(context.Background(), qr.action, qr.data, qr.opt)
		qr.reply <- invokeResult{data: data, err: err}
	}
}

// drainQueue rejects every queued request with err, e.g. when the server
// closes with a policy violation and the queue cannot be usefully replayed.
func (t *Transport) drainQueue(err error) {
	t.mu.Lock()
	pending := t.queue
	t.queue = nil
	t.statsMu.Lock()
	t.stats.QueueDepth = 0
	t.statsMu.Unlock()
	t.mu.Unlock()

	for _, qr := range pending {
		qr.reply <- invokeResult{err: err}
	}
}

// Listen subscribes fn to topic on the local bus — the mechanism used for
// server-pushed events (e.g. fs.watch.<path>, terminal.output.<id>).
func (t *Transport) Listen(topic string, fn bus.Handler) bus.Disposable {
	return t.bus.On(topic, fn)
}

// ClientID returns the id assigned by the server, if any has arrived yet.
func (t *Transport) ClientID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientID
}

// Health derives the current HealthState per spec.md §4.3.
func (t *Transport) Health() HealthState {
	if t.sock.State() != socket.StateOpen {
		return Unhealthy
	}

	t.mu.Lock()
	sinceLastPong := time.Since(t.lastPong)
	t.mu.Unlock()
	if sinceLastPong > unhealthyPongGrace*keepaliveInterval {
		return Unhealthy
	}

	t.statsMu.Lock()
	messages, errs := t.stats.Messages, t.stats.Errors
	avg := t.averageResponseTimeLocked()
	t.statsMu.Unlock()

	errRate := errorRate(messages, errs)
	if errRate > 0.5 {
		return Unhealthy
	}
	if avg > 5*time.Second || errRate > 0.1 {
		return Degraded
	}
	return Healthy
}

func errorRate(messages, errs uint64) float64 {
	if messages == 0 {
		return 0
	}
	return float64(errs) / float64(messages)
}

func (t *Transport) averageResponseTimeLocked() time.Duration {
	if t.respN == 0 {
		return 0
	}
	return t.respSum / time.Duration(t.respN)
}

// Stats returns a point-in-time snapshot of counters, per spec.md §4.3.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	lastPing, lastPong := t.lastPing, t.lastPong
	t.mu.Unlock()

	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	s := t.stats
	s.AvgResponseTime = t.averageResponseTimeLocked()
	if !lastPing.IsZero() {
		s.TimeSinceLastPing = time.Since(lastPing)
	}
	if !lastPong.IsZero() {
		s.TimeSinceLastPong = time.Since(lastPong)
	}
	return s
}

// Close stops keepalive, rejects all queued requests, closes the socket
// (which rejects in-flight requests through their close handlers), and
// emits TopicClosed exactly once. Handlers registered on Bus are not
// removed. Subsequent calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.keepaliveCancel != nil {
		t.keepaliveCancel()
		t.keepaliveCancel = nil
	}
	t.mu.Unlock()

	t.drainQueue(errs.ErrConnectionLost)

	err := t.sock.Close(1000, "client disposed")
	t.bus.Emit(TopicClosed, nil)
	return err
}
