// Package session implements the Session facade of spec.md §4.4: it owns
// one transport.Transport bound to a single notebook's websocket URL, runs
// the init handshake, and fans out to the terminal/fs/lsp subsystem
// facades, matching the "install, then wire subsystems" shape of the
// teacher's buffkit.Wire(), but driven client-side instead of at server
// startup.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/johnjansen/notebooksdk/errs"
	"github.com/johnjansen/notebooksdk/fs"
	"github.com/johnjansen/notebooksdk/lsp"
	"github.com/johnjansen/notebooksdk/terminal"
	"github.com/johnjansen/notebooksdk/transport"
)

// InitPayload is the data carried by the server's notebook.initialized event.
type InitPayload struct {
	Env        map[string]string `json:"env"`
	PreviewURL string            `json:"previewUrl"`
	Ports      []int             `json:"ports"`
}

const topicInitialized = "notebook.initialized"

// Options configures a Session.
type Options struct {
	// URL is the notebook's websocket endpoint (typically Notebook.OkraURL).
	URL string
	// Header is sent with the handshake.
	Header map[string][]string
	// InitTimeout bounds how long Ready waits for notebook.initialized.
	InitTimeout time.Duration
	Logger      *log.Logger
}

// reconnectAware is implemented by every subsystem facade that needs to
// re-register server-side subscriptions (notably filesystem watches) after
// a reconnect.
type reconnectAware interface {
	HandleReconnect()
}

// Session owns a Transport and the per-subsystem facades layered on it.
type Session struct {
	tr     *transport.Transport
	logger *log.Logger

	Process *terminal.Terminal
	FS      *fs.FS
	LSP     *lsp.LSP

	initTimeout time.Duration

	mu          sync.Mutex
	readyOnce   sync.Once
	readyResult *InitPayload
	readyErr    error
	readyDone   chan struct{}
}

// New constructs a Session bound to opts.URL. No connection is attempted
// until Ready is called.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "session: ", log.LstdFlags)
	}
	initTimeout := opts.InitTimeout
	if initTimeout <= 0 {
		initTimeout = 30 * time.Second
	}

	tr := transport.New(transport.Options{
		URL:         opts.URL,
		Header:      opts.Header,
		StartClosed: true,
		Logger:      logger,
	})

	s := &Session{
		tr:          tr,
		logger:      logger,
		initTimeout: initTimeout,
		readyDone:   make(chan struct{}),
	}
	s.Process = terminal.New(tr, logger)
	s.FS = fs.New(tr, logger)
	s.LSP = lsp.New(tr, logger)

	// Re-issue every subsystem's server-side subscriptions (notably
	// filesystem watches) on every socket open, including silent
	// reconnects the caller never observes — not just when the caller
	// explicitly calls Reconnect. Harmless on the very first connect,
	// since no watches are registered yet.
	tr.Bus().On(transport.TopicOpen, func(any) {
		for _, sub := range []reconnectAware{s.Process, s.FS, s.LSP} {
			sub.HandleReconnect()
		}
	})

	tr.Bus().On(transport.TopicClosed, func(any) {
		s.logger.Printf("session: transport closed")
	})

	return s
}

// Ready force-connects the transport if it was lazily closed, awaits the
// server's notebook.initialized event, and resolves with the init payload.
// It is safe to call multiple times; only the first call performs the
// handshake.
func (s *Session) Ready(ctx context.Context) (*InitPayload, error) {
	s.readyOnce.Do(func() {
		s.runHandshake(ctx)
	})
	<-s.readyDone
	return s.readyResult, s.readyErr
}

func (s *Session) runHandshake(ctx context.Context) {
	defer close(s.readyDone)

	resultCh := make(chan InitPayload, 1)
	sub := s.tr.Bus().Once(topicInitialized, func(data any) {
		payload := decodeInitPayload(data)
		resultCh <- payload
	})
	defer sub.Off()

	handshakeCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()

	if _, err := s.tr.Invoke(handshakeCtx, "ping", nil, transport.CallOption{Timeout: s.initTimeout}); err != nil {
		s.readyErr = errs.NewInitError(fmt.Sprintf("force-connect failed: %v", err), nil)
		return
	}

	select {
	case payload := <-resultCh:
		s.readyResult = &payload
	case <-handshakeCtx.Done():
		s.readyErr = errs.NewInitError("timed out waiting for notebook.initialized", nil)
	}
}

func decodeInitPayload(data any) InitPayload {
	m, ok := data.(map[string]any)
	if !ok {
		return InitPayload{}
	}
	payload := InitPayload{Env: map[string]string{}}
	if env, ok := m["env"].(map[string]any); ok {
		for k, v := range env {
			if s, ok := v.(string); ok {
				payload.Env[k] = s
			}
		}
	}
	if url, ok := m["previewUrl"].(string); ok {
		payload.PreviewURL = url
	}
	if ports, ok := m["ports"].([]any); ok {
		for _, p := range ports {
			if f, ok := p.(float64); ok {
				payload.Ports = append(payload.Ports, int(f))
			}
		}
	}
	return payload
}

// Reconnect preserves registered listeners, reconnects the transport's
// socket, then re-runs the init handshake and re-registers every
// subsystem's server-side subscriptions (spec.md §4.4).
func (s *Session) Reconnect(ctx context.Context) (*InitPayload, error) {
	s.mu.Lock()
	s.readyOnce = sync.Once{}
	s.readyDone = make(chan struct{})
	s.mu.Unlock()

	s.tr.Connect()

	// Subsystem re-registration (watches etc.) happens automatically via
	// the transport.TopicOpen subscription wired in New; by the time
	// Ready resolves, the socket has already reopened and fired it.
	payload, err := s.Ready(ctx)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Invoke is a thin pass-through to the underlying transport.
func (s *Session) Invoke(ctx context.Context, action string, args any, opt transport.CallOption) (any, error) {
	return s.tr.Invoke(ctx, action, args, opt)
}

// Listen is a thin pass-through to the underlying transport's local bus.
func (s *Session) Listen(topic string, fn func(data any)) func() {
	d := s.tr.Bus().On(topic, fn)
	return d.Off
}

// Ping invokes the server "ping" action, useful as a lightweight liveness probe.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.tr.Invoke(ctx, "ping", nil, transport.CallOption{Timeout: 10 * time.Second})
	return err
}

// Health exposes the transport's derived HealthState.
func (s *Session) Health() transport.HealthState { return s.tr.Health() }

// Stats exposes the transport's counters.
func (s *Session) Stats() transport.Stats { return s.tr.Stats() }

// Dispose releases all adapter subscriptions and closes the transport.
func (s *Session) Dispose() error {
	s.Process.Dispose()
	s.FS.Dispose()
	s.LSP.Dispose()
	return s.tr.Close()
}
