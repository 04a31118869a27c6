package socket

import (
	"context"
	"errors"
	"testing"

	"github.com/johnjansen/notebooksdk/errs"
)

func TestReadyStateString(t *testing.T) {
	cases := map[ReadyState]string{
		StateClosed:     "closed",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestShouldReconnectPolicy(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{1000, false},
		{1001, true},
		{1006, true},
		{1008, false},
		{4000, true},
	}
	for _, tc := range cases {
		if got := shouldReconnect(tc.code); got != tc.want {
			t.Errorf("shouldReconnect(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestSendBeforeConnectReturnsError(t *testing.T) {
	s := New(Options{URL: "ws://127.0.0.1:1/never", StartClosed: true})
	if err := s.Send([]byte("x")); err == nil {
		t.Error("Send on unopened socket should error")
	}
}

func TestClassifyDialErrorDetectsTimeout(t *testing.T) {
	raw := errors.New("dial tcp: i/o timeout")

	got := classifyDialError(context.DeadlineExceeded, raw)
	var sdkErr *errs.Error
	if !errors.As(got, &sdkErr) || sdkErr.Kind != errs.KindConnectionTimeout {
		t.Errorf("classifyDialError(DeadlineExceeded, %v) = %v, want *errs.Error{Kind: KindConnectionTimeout}", raw, got)
	}
}

func TestClassifyDialErrorPassesThroughOtherFailures(t *testing.T) {
	raw := errors.New("dial tcp: connection refused")

	got := classifyDialError(nil, raw)
	if got != raw {
		t.Errorf("classifyDialError(nil, %v) = %v, want the original error unchanged", raw, got)
	}
}

func TestCloseOnNeverStartedSocketIsNoop(t *testing.T) {
	s := New(Options{URL: "ws://127.0.0.1:1/never", StartClosed: true})
	if err := s.Close(1000, "bye"); err != nil {
		t.Errorf("Close on never-started socket returned %v, want nil", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want StateClosed", s.State())
	}
}
