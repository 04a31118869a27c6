package frame

import "errors"

// ErrNotBinary is returned by Decode when the input isn't a frame produced
// by Encode — e.g. a bare JSON-text message from an older server revision.
// See spec.md §9's open question on whether a JSON fallback is ever needed;
// this SDK starts binary-only and surfaces the mismatch instead of guessing.
var ErrNotBinary = errors.New("frame: input is not a binary-encoded frame")
