package beacon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBeacon(t *testing.T) (*Beacon, *ChannelBridge) {
	t.Helper()
	bridge := NewChannelBridge()
	b := New(Options{Channel: bridge, HandshakeRetries: 1})
	t.Cleanup(bridge.Close)
	return b, bridge
}

// echoChild drains bridge.ChildInbox and replies respType for every reqType
// it sees, simulating the iframe side of the protocol.
func echoChild(t *testing.T, bridge *ChannelBridge, reqType, respType string, payload any) {
	t.Helper()
	go func() {
		for env := range bridge.ChildInbox() {
			if env.Type == reqType {
				bridge.ReplyFromChild(Envelope{Type: respType, Payload: payload})
			}
		}
	}()
}

func TestHandshakeSucceedsWhenChildReplies(t *testing.T) {
	b, bridge := newTestBeacon(t)
	echoChild(t, bridge, "beacon:discover", "beacon:ready", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.Handshake(ctx); err != nil {
		t.Fatalf("Handshake() = %v, want nil", err)
	}
}

func TestPingResolvesOnPong(t *testing.T) {
	b, bridge := newTestBeacon(t)
	echoChild(t, bridge, "beacon:ping", "beacon:pong", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping() = %v, want nil", err)
	}
}

func TestNavigatorVisitUpdatesHistory(t *testing.T) {
	b, bridge := newTestBeacon(t)
	go func() {
		for range bridge.ChildInbox() {
		}
	}()

	ctx := context.Background()
	require.NoError(t, b.Navigator.Visit(ctx, "https://a.test"))
	require.NoError(t, b.Navigator.Visit(ctx, "https://b.test"))

	assert.True(t, b.Navigator.CanGoBack(), "CanGoBack after two visits")
	assert.False(t, b.Navigator.CanGoForward(), "CanGoForward at the head of history")

	require.NoError(t, b.Navigator.GoBack(ctx))
	assert.True(t, b.Navigator.CanGoForward(), "CanGoForward after GoBack")
}

func TestExecuteCodeWaitsOnCodeExecutionResultTopic(t *testing.T) {
	b, bridge := newTestBeacon(t)
	echoChild(t, bridge, "beacon:executeCode", "beacon:codeExecutionResult", 42)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := b.ExecuteCode(ctx, "6*7")
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestInspectElementWaitsOnElementInspectionResultTopic(t *testing.T) {
	b, bridge := newTestBeacon(t)
	echoChild(t, bridge, "beacon:inspectElement", "beacon:elementInspectionResult", "div#app")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := b.InspectElement(ctx, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, "div#app", result)
}

func TestClearConsoleIsFireAndForget(t *testing.T) {
	b, bridge := newTestBeacon(t)

	received := make(chan Envelope, 1)
	go func() {
		for env := range bridge.ChildInbox() {
			received <- env
			return
		}
	}()

	require.NoError(t, b.ClearConsole(context.Background()))

	select {
	case env := <-received:
		assert.Equal(t, "beacon:clearConsole", env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for beacon:clearConsole to be sent")
	}
}

func TestMirrorChildNavigationUpdatesHistory(t *testing.T) {
	b, bridge := newTestBeacon(t)
	go func() {
		for range bridge.ChildInbox() {
		}
	}()

	changes := make(chan HistoryChange, 1)
	b.Bus().On(TopicHistoryChange, func(data any) {
		if hc, ok := data.(HistoryChange); ok {
			changes <- hc
		}
	})

	bridge.ReplyFromChild(Envelope{Type: "beacon:urlChange", Payload: "https://child-initiated.test"})

	select {
	case hc := <-changes:
		assert.Equal(t, "https://child-initiated.test", hc.URL)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for historyChange from child-initiated navigation")
	}
}
