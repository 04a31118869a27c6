package transport

import (
	"testing"
	"time"

	"github.com/johnjansen/notebooksdk/errs"
)

func TestHealthStateString(t *testing.T) {
	cases := map[HealthState]string{
		Healthy:   "healthy",
		Degraded:  "degraded",
		Unhealthy: "unhealthy",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("HealthState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestNewTransportStartsUnhealthyWhenNotConnected(t *testing.T) {
	tr := New(Options{URL: "ws://127.0.0.1:1/never", StartClosed: true})
	if got := tr.Health(); got != Unhealthy {
		t.Errorf("Health() = %v, want Unhealthy before connect", got)
	}
}

func TestRateLimiterRejectsAboveThreshold(t *testing.T) {
	tr := New(Options{URL: "ws://127.0.0.1:1/never", StartClosed: true})
	allowed := 0
	for i := 0; i < rateLimitPerSecond+10; i++ {
		if tr.allow() {
			allowed++
		}
	}
	if allowed != rateLimitPerSecond {
		t.Errorf("allow() succeeded %d times, want exactly %d", allowed, rateLimitPerSecond)
	}
}

func TestRateLimiterRecoversAfterWindow(t *testing.T) {
	tr := New(Options{URL: "ws://127.0.0.1:1/never", StartClosed: true})
	for i := 0; i < rateLimitPerSecond; i++ {
		tr.allow()
	}
	if tr.allow() {
		t.Fatal("expected limiter to be saturated")
	}

	// Simulate the sliding window by back-dating recorded timestamps.
	tr.mu.Lock()
	for i := range tr.limiterTimes {
		tr.limiterTimes[i] = time.Now().Add(-2 * time.Second)
	}
	tr.mu.Unlock()

	if !tr.allow() {
		t.Error("expected limiter to recover once old timestamps age out")
	}
}

func TestErrorRate(t *testing.T) {
	if got := errorRate(0, 0); got != 0 {
		t.Errorf("errorRate(0,0) = %v, want 0", got)
	}
	if got := errorRate(10, 5); got != 0.5 {
		t.Errorf("errorRate(10,5) = %v, want 0.5", got)
	}
}

func TestIsRetryableClassifiesNonRetryableKinds(t *testing.T) {
	tr := New(Options{URL: "ws://127.0.0.1:1/never", StartClosed: true})
	_ = tr // silence unused in case future cases need the instance

	nonRetryable := []error{
		errs.NewRateLimitError("too many requests"),
		errs.NewRequestTimeoutError("fs.readFile"),
	}
	for _, err := range nonRetryable {
		if isRetryable(err) {
			t.Errorf("isRetryable(%v) = true, want false", err)
		}
	}
}
