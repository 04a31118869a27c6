package bus

import "testing"

func TestOnReceivesEveryEmit(t *testing.T) {
	b := New(nil)
	var got []any
	b.On("fs.watch./app", func(data any) { got = append(got, data) })

	b.Emit("fs.watch./app", 1)
	b.Emit("fs.watch./app", 2)

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
}

func TestOnceFiresOnlyOnceAndDisposes(t *testing.T) {
	b := New(nil)
	count := 0
	b.Once("terminal.close.1", func(data any) { count++ })

	b.Emit("terminal.close.1", nil)
	b.Emit("terminal.close.1", nil)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if n := b.HandlerCount("terminal.close.1"); n != 0 {
		t.Errorf("HandlerCount = %d, want 0 after Once fires", n)
	}
}

func TestOffRemovesRegistration(t *testing.T) {
	b := New(nil)
	count := 0
	sub := b.On("ping_tok", func(data any) { count++ })

	sub.Off()
	sub.Off() // idempotent
	b.Emit("ping_tok", nil)

	if count != 0 {
		t.Errorf("count = %d, want 0 after Off", count)
	}
}

func TestExactTopicMatchOnly(t *testing.T) {
	b := New(nil)
	var got string
	b.On("fs.text.search.abc", func(data any) { got = "abc" })
	b.On("fs.text.search.xyz", func(data any) { got = "xyz" })

	b.Emit("fs.text.search.abc", nil)

	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := New(nil)
	calledSecond := false
	b.On("topic", func(data any) { panic("boom") })
	b.On("topic", func(data any) { calledSecond = true })

	b.Emit("topic", nil) // must not panic the test

	if !calledSecond {
		t.Error("second handler should still run after first panics")
	}
}
