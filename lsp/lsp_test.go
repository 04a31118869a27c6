package lsp

import "testing"

func TestConnectionReusesSameID(t *testing.T) {
	l := New(nil, nil)
	a := l.Connection("sess-1")
	b := l.Connection("sess-1")
	if a != b {
		t.Error("Connection(id) should return the same instance for the same id")
	}
}

func TestDisposeClearsConnections(t *testing.T) {
	l := New(nil, nil)
	l.Connection("x")
	l.Dispose()
	if len(l.conns) != 0 {
		t.Errorf("conns = %d after Dispose, want 0", len(l.conns))
	}
}
