// File: internal/api/errors.go
package api

import "fmt"

// Kind classifies an Error so callers can react to the failure class
// without string matching. Every error the protocol engine produces
// carries exactly one Kind.
type Kind int

const (
	// KindTransport covers connection and TLS level failures.
	KindTransport Kind = iota
	// KindIdentity covers certificate/device-UID mismatches.
	KindIdentity
	// KindFormat covers protocol format violations: missing Content-Type
	// parameters, unsupported API versions, non-JSON bodies.
	KindFormat
	// KindAuth covers 401/403 responses and failed 2FA handshakes.
	KindAuth
	// KindServer covers other 4xx/5xx responses carrying a message body.
	KindServer
	// KindLocalIO covers local filesystem failures (unreadable file
	// parameters, unwritable downloads).
	KindLocalIO
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindIdentity:
		return "identity"
	case KindFormat:
		return "format"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindLocalIO:
		return "local-io"
	}
	return "unknown"
}

// Error is the single error vehicle across the protocol engine: a message,
// an optional contextual argument, and an optional HTTP status code.
// Components return it up the stack; only the top-level command decides
// whether the process terminates.
type Error struct {
	Kind       Kind
	Msg        string
	Arg        string
	StatusCode int
	// Cause holds the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Arg != "" {
		return fmt.Sprintf("%s (%s)", e.Msg, e.Arg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, &api.Error{Kind: api.KindAuth}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WithArg attaches a contextual argument, typically a URL or file path.
func (e *Error) WithArg(arg string) *Error {
	e.Arg = arg
	return e
}

// WithStatus attaches the HTTP status code that produced the error.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// WithCause records the underlying error for errors.Unwrap chains.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}
