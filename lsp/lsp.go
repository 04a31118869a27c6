// Package lsp is the LSP adapter of spec.md §4.7: one LspConnection per
// caller-chosen id, multiplexed over the session's shared Transport.
package lsp

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/johnjansen/notebooksdk/transport"
)

// OnMessage is invoked for each lsp.response.<id> payload.
type OnMessage func(payload any)

// OnClosed is invoked once when the connection closes server-side.
type OnClosed func()

// OnError is invoked for lsp.error.<id> payloads.
type OnError func(payload any)

// Connection is a single multiplexed LSP session, identified by id.
type Connection struct {
	ID string

	l  *LSP
	mu sync.Mutex

	offResponse func()
	offClosed   func()
	offError    func()
}

// Start requests the server open an LSP process for this connection's id,
// registering response/closed/error listeners first.
func (c *Connection) Start(ctx context.Context, languageID string, onMessage OnMessage, onClosed OnClosed, onErr OnError) error {
	c.offResponse = c.l.tr.Listen(fmt.Sprintf("lsp.response.%s", c.ID), func(data any) {
		if onMessage != nil {
			onMessage(data)
		}
	}).Off
	c.offClosed = c.l.tr.Listen(fmt.Sprintf("lsp.closed.%s", c.ID), func(any) {
		if onClosed != nil {
			onClosed()
		}
		c.dispose()
	}).Off
	c.offError = c.l.tr.Listen(fmt.Sprintf("lsp.error.%s", c.ID), func(data any) {
		if onErr != nil {
			onErr(data)
		}
	}).Off

	_, err := c.l.tr.Invoke(ctx, "lsp.start", map[string]any{"id": c.ID, "languageId": languageID}, transport.CallOption{})
	if err != nil {
		c.dispose()
		return err
	}
	return nil
}

// Message sends one LSP protocol payload over this connection.
func (c *Connection) Message(ctx context.Context, payload any) error {
	_, err := c.l.tr.Invoke(ctx, "lsp.message", map[string]any{"id": c.ID, "payload": payload}, transport.CallOption{})
	return err
}

// Close forwards dispose to lsp.close, per spec.md §4.7.
func (c *Connection) Close(ctx context.Context) error {
	_, err := c.l.tr.Invoke(ctx, "lsp.close", map[string]any{"id": c.ID}, transport.CallOption{})
	c.dispose()
	return err
}

func (c *Connection) dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offResponse != nil {
		c.offResponse()
		c.offResponse = nil
	}
	if c.offClosed != nil {
		c.offClosed()
		c.offClosed = nil
	}
	if c.offError != nil {
		c.offError()
		c.offError = nil
	}
	c.l.remove(c.ID)
}

// LSP is the session-level facade managing LspConnections by id.
type LSP struct {
	tr     *transport.Transport
	logger *log.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// New constructs an LSP bound to tr. Construct via session.Session.
func New(tr *transport.Transport, logger *log.Logger) *LSP {
	return &LSP{tr: tr, logger: logger, conns: make(map[string]*Connection)}
}

// Connection returns (creating if necessary) the Connection for id.
func (l *LSP) Connection(id string) *Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.conns[id]; ok {
		return c
	}
	c := &Connection{ID: id, l: l}
	l.conns[id] = c
	return c
}

func (l *LSP) remove(id string) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

// HandleReconnect is a no-op: LSP connections are tied to a specific
// server-side process that does not survive a transport reconnect, so
// callers are expected to Start a fresh Connection after Session.Reconnect
// resolves. Present to satisfy session.reconnectAware.
func (l *LSP) HandleReconnect() {}

// Dispose closes every outstanding connection.
func (l *LSP) Dispose() {
	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.dispose()
	}
}
