// Package errs defines the single error type returned across this module's
// package boundaries. It lives on its own so that session/fs/transport and
// the root notebooksdk package can all depend on it without creating an
// import cycle back through the root package.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why a call into the SDK failed, per spec.md §7. Callers
// are expected to branch on Kind via errors.Is against the sentinel Err*
// values below, not on Error's Message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionLost
	KindConnectionTimeout
	KindRequestTimeout
	KindAbort
	KindRateLimit
	KindApplication
	KindFilesystem
	KindInit
	KindInvalidMessage
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindConnectionLost:
		return "connection-lost"
	case KindConnectionTimeout:
		return "connection-timeout"
	case KindRequestTimeout:
		return "request-timeout"
	case KindAbort:
		return "abort"
	case KindRateLimit:
		return "rate-limit"
	case KindApplication:
		return "application"
	case KindFilesystem:
		return "filesystem"
	case KindInit:
		return "init"
	case KindInvalidMessage:
		return "invalid-message"
	case KindInvalidConfig:
		return "invalid-configuration"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across package boundaries by this
// SDK. Code is only populated for KindApplication/KindFilesystem, and Raw
// for those kinds and KindInit, where the server supplied them.
type Error struct {
	Kind    Kind
	Code    int
	Name    string // filesystem error name, e.g. "FileNotFound"
	Message string
	Raw     any
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notebooksdk: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("notebooksdk: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a sentinel *Error of the same Kind, letting
// callers write errors.Is(err, errs.ErrRateLimit).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Sentinel errors for errors.Is comparisons. Only Kind is significant on
// these; Message/Cause are empty.
var (
	ErrConnectionLost    = &Error{Kind: KindConnectionLost}
	ErrConnectionTimeout = &Error{Kind: KindConnectionTimeout}
	ErrRequestTimeout    = &Error{Kind: KindRequestTimeout}
	ErrAbort             = &Error{Kind: KindAbort}
	ErrRateLimit         = &Error{Kind: KindRateLimit}
	ErrApplication       = &Error{Kind: KindApplication}
	ErrFilesystem        = &Error{Kind: KindFilesystem}
	ErrInit              = &Error{Kind: KindInit}
	ErrInvalidMessage    = &Error{Kind: KindInvalidMessage}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig}
)

// NewConnectionLostError wraps cause (often a socket close) as KindConnectionLost.
func NewConnectionLostError(cause error) *Error { return newErr(KindConnectionLost, "connection lost", cause) }

// NewConnectionTimeoutError reports that a dial attempt exceeded its deadline.
func NewConnectionTimeoutError(cause error) *Error {
	return newErr(KindConnectionTimeout, "connection attempt timed out", cause)
}

// NewRequestTimeoutError reports that a call exceeded its per-call timeout.
func NewRequestTimeoutError(action string) *Error {
	return newErr(KindRequestTimeout, fmt.Sprintf("%s timed out", action), nil)
}

// NewAbortError reports that the caller's AbortSignal fired or was already set.
func NewAbortError() *Error { return newErr(KindAbort, "aborted by caller", nil) }

// NewRateLimitError reports either a client-side sliding-window rejection or
// a server close code 1008 ("policy violation" / rate limit).
func NewRateLimitError(reason string) *Error { return newErr(KindRateLimit, reason, nil) }

// NewApplicationError wraps a server-reported {code, message} application error.
func NewApplicationError(code int, message string, raw any) *Error {
	return &Error{Kind: KindApplication, Code: code, Message: message, Raw: raw}
}

// NewFilesystemError re-wraps an application error whose payload carried a
// recognised filesystem error name (spec.md §4.6).
func NewFilesystemError(name string, code int, message string, raw any) *Error {
	return &Error{Kind: KindFilesystem, Name: name, Code: code, Message: message, Raw: raw}
}

// NewInitError reports that notebook.init resolved with kind "error".
func NewInitError(message string, raw any) *Error {
	return &Error{Kind: KindInit, Message: message, Raw: raw}
}

// NewInvalidMessageError reports a frame that failed to decode or didn't
// match the expected shape for its topic.
func NewInvalidMessageError(cause error) *Error {
	return newErr(KindInvalidMessage, "malformed frame from server", cause)
}

// NewInvalidConfigError reports a constructor-time configuration problem
// (e.g. a missing Token).
func NewInvalidConfigError(message string) *Error {
	return newErr(KindInvalidConfig, message, nil)
}
