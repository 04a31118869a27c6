package notebooksdk

import "github.com/johnjansen/notebooksdk/errs"

// Kind and Error are aliases onto package errs, which holds the real
// definitions so that session/fs/transport can depend on the error type
// without importing this root package (and creating a cycle back through
// session). Callers of this SDK keep using notebooksdk.Error/notebooksdk.Kind
// exactly as before.
type Kind = errs.Kind

type Error = errs.Error

const (
	KindUnknown           = errs.KindUnknown
	KindConnectionLost    = errs.KindConnectionLost
	KindConnectionTimeout = errs.KindConnectionTimeout
	KindRequestTimeout    = errs.KindRequestTimeout
	KindAbort             = errs.KindAbort
	KindRateLimit         = errs.KindRateLimit
	KindApplication       = errs.KindApplication
	KindFilesystem        = errs.KindFilesystem
	KindInit              = errs.KindInit
	KindInvalidMessage    = errs.KindInvalidMessage
	KindInvalidConfig     = errs.KindInvalidConfig
)

// Sentinel errors for errors.Is comparisons, e.g.
// errors.Is(err, notebooksdk.ErrRateLimit).
var (
	ErrConnectionLost    = errs.ErrConnectionLost
	ErrConnectionTimeout = errs.ErrConnectionTimeout
	ErrRequestTimeout    = errs.ErrRequestTimeout
	ErrAbort             = errs.ErrAbort
	ErrRateLimit         = errs.ErrRateLimit
	ErrApplication       = errs.ErrApplication
	ErrFilesystem        = errs.ErrFilesystem
	ErrInit              = errs.ErrInit
	ErrInvalidMessage    = errs.ErrInvalidMessage
	ErrInvalidConfig     = errs.ErrInvalidConfig
)

// NewConnectionLostError wraps cause (often a socket close) as KindConnectionLost.
func NewConnectionLostError(cause error) *Error { return errs.NewConnectionLostError(cause) }

// NewConnectionTimeoutError reports that a dial attempt exceeded its deadline.
func NewConnectionTimeoutError(cause error) *Error { return errs.NewConnectionTimeoutError(cause) }

// NewRequestTimeoutError reports that a call exceeded its per-call timeout.
func NewRequestTimeoutError(action string) *Error { return errs.NewRequestTimeoutError(action) }

// NewAbortError reports that the caller's AbortSignal fired or was already set.
func NewAbortError() *Error { return errs.NewAbortError() }

// NewRateLimitError reports either a client-side sliding-window rejection or
// a server close code 1008 ("policy violation" / rate limit).
func NewRateLimitError(reason string) *Error { return errs.NewRateLimitError(reason) }

// NewApplicationError wraps a server-reported {code, message} application error.
func NewApplicationError(code int, message string, raw any) *Error {
	return errs.NewApplicationError(code, message, raw)
}

// NewFilesystemError re-wraps an application error whose payload carried a
// recognised filesystem error name (spec.md §4.6).
func NewFilesystemError(name string, code int, message string, raw any) *Error {
	return errs.NewFilesystemError(name, code, message, raw)
}

// NewInitError reports that notebook.init resolved with kind "error".
func NewInitError(message string, raw any) *Error { return errs.NewInitError(message, raw) }

// NewInvalidMessageError reports a frame that failed to decode or didn't
// match the expected shape for its topic.
func NewInvalidMessageError(cause error) *Error { return errs.NewInvalidMessageError(cause) }

// NewInvalidConfigError reports a constructor-time configuration problem
// (e.g. a missing Token).
func NewInvalidConfigError(message string) *Error { return errs.NewInvalidConfigError(message) }
