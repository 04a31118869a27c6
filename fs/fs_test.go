package fs

import "testing"

func TestChangeTypeString(t *testing.T) {
	cases := map[ChangeType]string{
		Added:   "added",
		Updated: "updated",
		Deleted: "deleted",
	}
	for ct, want := range cases {
		if got := ct.String(); got != want {
			t.Errorf("ChangeType(%d).String() = %q, want %q", ct, got, want)
		}
	}
}

func TestDefaultSearchOptions(t *testing.T) {
	opts := DefaultSearchOptions()
	if opts.MaxResults != 5 {
		t.Errorf("MaxResults = %d, want 5", opts.MaxResults)
	}
	if opts.ContextBefore != 2 || opts.ContextAfter != 2 {
		t.Errorf("context lines = %d/%d, want 2/2", opts.ContextBefore, opts.ContextAfter)
	}
	if opts.PreviewLines != 5 || opts.PreviewChars != 1000 {
		t.Errorf("preview = %d lines/%d chars, want 5/1000", opts.PreviewLines, opts.PreviewChars)
	}
	found := false
	for _, e := range opts.Exclude {
		if e == "node_modules" {
			found = true
		}
	}
	if !found {
		t.Error("default excludes should contain node_modules")
	}
}

func TestDecodeFileChange(t *testing.T) {
	raw := map[string]any{
		"type":   "updated",
		"path":   "/app/main.go",
		"isFile": true,
		"exists": true,
	}
	fc, ok := decodeFileChange(raw)
	if !ok {
		t.Fatal("decodeFileChange returned ok=false for valid input")
	}
	if fc.Type != Updated || fc.Path != "/app/main.go" || !fc.IsFile || !fc.Exists {
		t.Errorf("decoded FileChange = %+v, unexpected", fc)
	}
}

func TestDecodeMatch(t *testing.T) {
	raw := map[string]any{"path": "a.go", "line": float64(12), "preview": "func main() {"}
	m, ok := decodeMatch(raw)
	if !ok || m.Path != "a.go" || m.Line != 12 || m.Preview != "func main() {" {
		t.Errorf("decodeMatch = %+v, ok=%v, unexpected", m, ok)
	}
}

func TestNewFSHasNoWatches(t *testing.T) {
	f := New(nil, nil)
	if n := len(f.watches); n != 0 {
		t.Errorf("watches = %d on a new FS, want 0", n)
	}
	f.Dispose() // must not panic with an empty watch map
}
