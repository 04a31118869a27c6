package notebooksdk

import "testing"

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New({}) should fail without a Token")
	}
	var sdkErr *Error
	if e, ok := err.(*Error); ok {
		sdkErr = e
	}
	if sdkErr == nil || sdkErr.Kind != KindInvalidConfig {
		t.Errorf("New({}) error = %v, want KindInvalidConfig", err)
	}
}

func TestNewDefaultsBaseURL(t *testing.T) {
	c, err := New(Config{Token: "tok"})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if c.cfg.BaseURL == "" {
		t.Error("BaseURL should default when unset")
	}
}

func TestWireURLAddsSDKVersion(t *testing.T) {
	c, err := New(Config{Token: "tok", SDKVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	got, err := c.wireURL("wss://example.test/ws")
	if err != nil {
		t.Fatalf("wireURL() = %v", err)
	}
	want := "wss://example.test/ws?sdk_version=1.2.3"
	if got != want {
		t.Errorf("wireURL() = %q, want %q", got, want)
	}
}
