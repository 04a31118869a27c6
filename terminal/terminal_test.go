package terminal

import (
	"context"
	"testing"
)

func TestDispatchByIDTopicNaming(t *testing.T) {
	output, closeTopic := dispatchByIDTopic("abc")
	if output != "terminal.output.abc" {
		t.Errorf("output topic = %q, want terminal.output.abc", output)
	}
	if closeTopic != "terminal.close.abc" {
		t.Errorf("close topic = %q, want terminal.close.abc", closeTopic)
	}
}

func TestNewTerminalHasNoProcesses(t *testing.T) {
	tm := New(nil, nil)
	if n := len(tm.procs); n != 0 {
		t.Errorf("procs = %d on a new Terminal, want 0", n)
	}
	tm.Dispose() // must not panic with an empty process map
}

func TestSpawnWithAlreadyAbortedSignalSkipsSubscription(t *testing.T) {
	tm := New(nil, nil)

	aborted := make(chan struct{})
	close(aborted)

	p, err := tm.Spawn(context.Background(), "echo", nil, SpawnOptions{AbortSignal: aborted})
	if err != nil {
		t.Fatalf("Spawn() error = %v, want nil", err)
	}

	select {
	case res, ok := <-p.Exit():
		if !ok {
			t.Fatal("Exit() channel closed without a value")
		}
		if res.Code != -1 {
			t.Errorf("Exit().Code = %d, want -1 (synthetic)", res.Code)
		}
	default:
		t.Fatal("Exit() has no synthetic result ready")
	}

	if _, ok := <-p.Output(); ok {
		t.Error("Output() should be closed with no chunks for an already-aborted spawn")
	}

	tm.mu.Lock()
	_, tracked := tm.procs[p.ID]
	tm.mu.Unlock()
	if tracked {
		t.Error("an already-aborted process should not be tracked for reconnect/dispose bookkeeping")
	}
}
